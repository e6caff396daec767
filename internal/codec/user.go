package codec

import (
	"strings"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

// NormalizeEmail is the canonical form used for profile ids and comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func DecodeUser(id string, f docstore.Fields) (models.UserProfile, error) {
	r := newReader(f)
	u := models.UserProfile{
		Email:         NormalizeEmail(r.optionalString("email", id)),
		Name:          r.requiredString("name"),
		TotalPledged:  r.optionalNumber("totalPledged", 0),
		IsAdmin:       r.optionalBool("isAdmin", false),
		Notifications: models.DefaultNotificationPrefs(),
	}
	if v, ok := r.lookup("notifications"); ok {
		m, isMap := Map(v)
		if !isMap {
			r.fail("notifications", "want map")
		} else {
			nr := newReader(m)
			u.Notifications = models.NotificationPrefs{
				Auctions:     nr.optionalBool("auctions", true),
				Sponsorships: nr.optionalBool("sponsorships", true),
				Posts:        nr.optionalBool("posts", true),
				Chat:         nr.optionalBool("chat", true),
			}
			if nr.err != nil {
				r.fail("notifications", nr.err.Error())
			}
		}
	}
	if r.err != nil {
		return models.UserProfile{}, r.err
	}
	if !Finite(u.TotalPledged) {
		return models.UserProfile{}, &FieldError{Field: "totalPledged", Reason: "not finite"}
	}
	return u, nil
}

func EncodeNotifications(n models.NotificationPrefs) map[string]any {
	return map[string]any{
		"auctions":     n.Auctions,
		"sponsorships": n.Sponsorships,
		"posts":        n.Posts,
		"chat":         n.Chat,
	}
}

func EncodeUser(u models.UserProfile) docstore.Fields {
	return docstore.Fields{
		"email":         u.Email,
		"name":          u.Name,
		"totalPledged":  u.TotalPledged,
		"isAdmin":       u.IsAdmin,
		"notifications": EncodeNotifications(u.Notifications),
	}
}
