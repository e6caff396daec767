package models

import "time"

// KiddushSponsorship claims one calendar day. Its ID is the date key.
type KiddushSponsorship struct {
	ID           string
	Date         time.Time
	SponsorName  string
	SponsorEmail string
	Occasion     string
	TierName     string
	TierAmount   float64
	IsAnonymous  bool
	IsPaid       bool
	Timestamp    time.Time

	// TierInferred is set when TierAmount was derived from TierName because
	// the stored document predates the amount field.
	TierInferred bool
}

// DisplayName hides the sponsor for anonymous sponsorships.
func (s KiddushSponsorship) DisplayName() string {
	if s.IsAnonymous {
		return "Anonymous"
	}
	return s.SponsorName
}
