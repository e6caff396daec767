package codec

import (
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

func DecodeOccasion(id string, f docstore.Fields) (models.CommunityOccasion, error) {
	r := newReader(f)
	o := models.CommunityOccasion{
		ID:          id,
		Kind:        models.OccasionKind(r.optionalString("kind", string(models.OccasionOther))),
		Title:       r.requiredString("title"),
		PersonName:  r.optionalString("personName", ""),
		Date:        r.requiredTime("date"),
		Notes:       r.optionalString("notes", ""),
		SubmittedBy: r.requiredString("submittedBy"),
	}
	o.Timestamp, _ = r.optionalTime("timestamp")
	if r.err != nil {
		return models.CommunityOccasion{}, r.err
	}
	return o, nil
}

func EncodeOccasion(o models.CommunityOccasion) docstore.Fields {
	return docstore.Fields{
		"kind":        string(o.Kind),
		"title":       o.Title,
		"personName":  o.PersonName,
		"date":        o.Date,
		"notes":       o.Notes,
		"submittedBy": o.SubmittedBy,
		"timestamp":   o.Timestamp,
	}
}
