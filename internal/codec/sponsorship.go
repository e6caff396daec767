package codec

import (
	"strings"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

// legacyTiers maps tier-name keywords to amounts for documents written
// before tierAmount was stored. Checked in order; first match wins.
var legacyTiers = []struct {
	keyword string
	amount  float64
}{
	{"platinum", 1800},
	{"gold", 1000},
	{"premium", 720},
	{"deluxe", 540},
	{"silver", 500},
	{"standard", 360},
	{"basic", 180},
}

// LegacyTierAmount infers an amount from a tier name.
func LegacyTierAmount(tierName string) (float64, bool) {
	name := strings.ToLower(tierName)
	for _, t := range legacyTiers {
		if strings.Contains(name, t.keyword) {
			return t.amount, true
		}
	}
	return 0, false
}

func DecodeSponsorship(id string, f docstore.Fields) (models.KiddushSponsorship, error) {
	r := newReader(f)
	s := models.KiddushSponsorship{
		ID:           id,
		Date:         r.requiredTime("date"),
		SponsorName:  r.requiredString("sponsorName"),
		SponsorEmail: r.requiredString("sponsorEmail"),
		Occasion:     r.optionalString("occasion", ""),
		TierName:     r.optionalString("tierName", ""),
		IsAnonymous:  r.optionalBool("isAnonymous", false),
		IsPaid:       r.optionalBool("isPaid", false),
	}
	s.Timestamp, _ = r.optionalTime("timestamp")

	if _, present := r.lookup("tierAmount"); present {
		s.TierAmount = r.optionalNumber("tierAmount", 0)
	} else if amount, ok := LegacyTierAmount(s.TierName); ok {
		s.TierAmount = amount
		s.TierInferred = true
	}

	if r.err != nil {
		return models.KiddushSponsorship{}, r.err
	}
	return s, nil
}

func EncodeSponsorship(s models.KiddushSponsorship) docstore.Fields {
	return docstore.Fields{
		"date":         s.Date,
		"sponsorName":  s.SponsorName,
		"sponsorEmail": s.SponsorEmail,
		"occasion":     s.Occasion,
		"tierName":     s.TierName,
		"tierAmount":   s.TierAmount,
		"isAnonymous":  s.IsAnonymous,
		"isPaid":       s.IsPaid,
		"timestamp":    s.Timestamp,
	}
}
