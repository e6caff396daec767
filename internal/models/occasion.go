package models

import "time"

// OccasionKind classifies community occasions.
type OccasionKind string

const (
	OccasionBirthday    OccasionKind = "birthday"
	OccasionAnniversary OccasionKind = "anniversary"
	OccasionYahrzeit    OccasionKind = "yahrzeit"
	OccasionSimcha      OccasionKind = "simcha"
	OccasionOther       OccasionKind = "other"
)

// CommunityOccasion is a member-submitted date shared with the community.
type CommunityOccasion struct {
	ID          string
	Kind        OccasionKind
	Title       string
	PersonName  string
	Date        time.Time
	Notes       string
	SubmittedBy string
	Timestamp   time.Time
}
