package common

// DefaultBidCeiling is the largest bid or buy-now amount accepted.
const DefaultBidCeiling = 1_000_000.0

// DefaultCategory is assigned to auction items stored without a category.
const DefaultCategory = "General"

// MaxPostMedia is the number of media attachments a post may carry.
const MaxPostMedia = 4

// Profile name bounds, in runes.
const (
	MinNameLength = 3
	MaxNameLength = 50
)
