package models

// NotificationPrefs are per-user push notification switches.
type NotificationPrefs struct {
	Auctions     bool
	Sponsorships bool
	Posts        bool
	Chat         bool
}

// DefaultNotificationPrefs enables everything.
func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{Auctions: true, Sponsorships: true, Posts: true, Chat: true}
}

// UserProfile is keyed by email.
type UserProfile struct {
	Email         string
	Name          string
	TotalPledged  float64
	IsAdmin       bool
	Notifications NotificationPrefs
}
