// Package users manages member profiles, keyed by normalized email.
//
// Repository also answers admin questions for the other repositories and
// accumulates pledge totals, which only ever grow.
package users

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/kehilla/internal/auth"
	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/content"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
)

const (
	Collection  = "users"
	FeedName    = "users"
	ProfileFeed = "profile"
)

type Repository struct {
	d          repositories.Deps
	superAdmin string
}

var (
	_ repositories.Authorizer = (*Repository)(nil)
	_ repositories.Pledger    = (*Repository)(nil)
)

// New returns a repository in which superAdmin is always an admin.
func New(d repositories.Deps, superAdmin string) *Repository {
	return &Repository{d: d.WithDefaults(), superAdmin: superAdmin}
}

func ref(email string) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: codec.NormalizeEmail(email)}
}

func (r *Repository) decode(id string, f docstore.Fields) (models.UserProfile, error) {
	u, err := codec.DecodeUser(id, f)
	if err != nil {
		return u, err
	}
	if auth.IsSuperAdmin(u.Email, r.superAdmin) {
		u.IsAdmin = true
	}
	return u, nil
}

func (r *Repository) spec() feed.Spec[models.UserProfile] {
	return feed.Spec[models.UserProfile]{
		Name:   FeedName,
		Query:  docstore.Query{Collection: Collection},
		Decode: r.decode,
		Arrange: func(items []models.UserProfile) []models.UserProfile {
			sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
			return items
		},
	}
}

func (r *Repository) Get(ctx context.Context, email string) (models.UserProfile, error) {
	return repositories.Get(ctx, r.d, ref(email), r.decode)
}

// Register creates the profile unless one exists. It reports whether this
// call created it.
func (r *Repository) Register(ctx context.Context, email, name string) (models.UserProfile, bool, error) {
	email = codec.NormalizeEmail(email)
	if email == "" {
		return models.UserProfile{}, false, common.ErrInvalidInput.WithMessage("profile needs an email")
	}
	name, err := content.Name(name)
	if err != nil {
		return models.UserProfile{}, false, err
	}

	created := false
	err = r.d.Txn.RunConditional(ctx, "register_user", ref(email), func(cur docstore.Snapshot) (docstore.Fields, error) {
		created = !cur.Exists
		if cur.Exists {
			return nil, nil
		}
		return codec.EncodeUser(models.UserProfile{
			Email:         email,
			Name:          name,
			Notifications: models.DefaultNotificationPrefs(),
		}), nil
	})
	if err != nil {
		return models.UserProfile{}, false, err
	}

	u, err := r.Get(ctx, email)
	return u, created, err
}

func (r *Repository) Rename(ctx context.Context, email, name string) error {
	name, err := content.Name(name)
	if err != nil {
		return err
	}
	return r.update(ctx, "rename_user", email, docstore.Fields{"name": name})
}

// IncrementPledge adds amount to the member's total. Non-positive and
// non-finite amounts are rejected.
func (r *Repository) IncrementPledge(ctx context.Context, email string, amount float64) error {
	return r.d.Txn.Increment(ctx, "increment_pledge", ref(email), "totalPledged", amount)
}

// SetAdmin grants or revokes admin rights. The super admin cannot be
// demoted.
func (r *Repository) SetAdmin(ctx context.Context, actor repositories.Actor, email string, admin bool) error {
	if err := repositories.RequireAdmin(ctx, r, actor); err != nil {
		return err
	}
	if !admin && auth.IsSuperAdmin(email, r.superAdmin) {
		return common.ErrInvalidInput.WithMessage("the super admin cannot be demoted")
	}
	return r.update(ctx, "set_admin", email, docstore.Fields{"isAdmin": admin})
}

func (r *Repository) UpdateNotifications(ctx context.Context, email string, prefs models.NotificationPrefs) error {
	return r.update(ctx, "update_notifications", email, docstore.Fields{"notifications": codec.EncodeNotifications(prefs)})
}

func (r *Repository) update(ctx context.Context, name, email string, f docstore.Fields) error {
	return r.d.Txn.RunConditional(ctx, name, ref(email), func(cur docstore.Snapshot) (docstore.Fields, error) {
		if !cur.Exists {
			return nil, repositories.NotFound(cur.Ref)
		}
		return f, nil
	})
}

// IsAdmin answers from the mirror: the super admin, or a mirrored profile
// carrying the admin flag.
func (r *Repository) IsAdmin(email string) bool {
	if auth.IsSuperAdmin(email, r.superAdmin) {
		return true
	}
	email = codec.NormalizeEmail(email)
	match := func(u models.UserProfile) bool { return u.Email == email }
	if u, ok := r.d.State.Profile.Find(match); ok {
		return u.IsAdmin
	}
	u, ok := r.d.State.Users.Find(match)
	return ok && u.IsAdmin
}

// LookupAdmin answers from the store. Members without a profile are not
// admins.
func (r *Repository) LookupAdmin(ctx context.Context, email string) (bool, error) {
	if auth.IsSuperAdmin(email, r.superAdmin) {
		return true, nil
	}
	u, err := r.Get(ctx, email)
	if common.KindOf(err) == common.KindNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsAdmin, nil
}

// Admins lists the mirrored admin emails, super admin included.
func (r *Repository) Admins() map[string]bool {
	out := map[string]bool{}
	if s := codec.NormalizeEmail(r.superAdmin); s != "" {
		out[s] = true
	}
	for _, u := range r.d.State.Users.Items() {
		if u.IsAdmin {
			out[u.Email] = true
		}
	}
	return out
}

// AdminChanges signals whenever the mirrored profiles, and so possibly the
// admin set, change.
func (r *Repository) AdminChanges() (<-chan struct{}, func()) {
	return r.d.State.Users.Changes()
}

// LoadAdmins reads the admin emails from the store, super admin included.
func (r *Repository) LoadAdmins(ctx context.Context) (map[string]bool, error) {
	q := docstore.Query{Collection: Collection}.Where("isAdmin", docstore.OpEqual, true)
	snaps, err := r.d.Store().Query(ctx, q)
	if err != nil {
		return nil, docstore.Classify(err)
	}
	out := map[string]bool{}
	if s := codec.NormalizeEmail(r.superAdmin); s != "" {
		out[s] = true
	}
	profiles, _ := codec.DecodeAll(snaps, r.decode)
	for _, u := range profiles {
		if u.IsAdmin {
			out[u.Email] = true
		}
	}
	return out, nil
}

func (r *Repository) FetchOnce(ctx context.Context) ([]models.UserProfile, error) {
	return repositories.Fetch(ctx, r.d, r.spec(), r.d.State.Users)
}

// Subscribe mirrors every profile into State.Users.
func (r *Repository) Subscribe(ctx context.Context, screen string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: FeedName, Screen: screen}, r.spec(), r.d.State.Users)
}

// SubscribeProfile mirrors the signed-in member's own profile into
// State.Profile.
func (r *Repository) SubscribeProfile(ctx context.Context, screen, email string) error {
	spec := r.spec()
	spec.Name = ProfileFeed
	spec.Query = spec.Query.Where("email", docstore.OpEqual, codec.NormalizeEmail(email))
	return repositories.Watch(ctx, r.d, feed.Key{Feed: ProfileFeed, Screen: screen}, spec, r.d.State.Profile)
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: FeedName, Screen: screen})
	r.d.Registry.Stop(feed.Key{Feed: ProfileFeed, Screen: screen})
}
