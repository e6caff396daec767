// Package sponsorships books Kiddush sponsorships, one per calendar day.
//
// The document id is the day in the community's time zone, so claiming a
// day is a create at a deterministic id: the document existing is the lock.
package sponsorships

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/content"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
)

const (
	Collection = "kiddushSponsorships"
	FeedName   = "sponsorships"

	dateKeyLayout     = "2006-01-02"
	maxOccasionLength = 200
)

type Repository struct {
	d       repositories.Deps
	admins  repositories.Authorizer
	pledges repositories.Pledger
	loc     *time.Location
	log     logging.Logger
}

// New binds the repository to loc, the zone whose calendar days are
// claimed. A nil loc means UTC.
func New(d repositories.Deps, admins repositories.Authorizer, pledges repositories.Pledger, loc *time.Location) *Repository {
	d = d.WithDefaults()
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{
		d:       d,
		admins:  admins,
		pledges: pledges,
		loc:     loc,
		log:     d.Logger.With("module", "sponsorships"),
	}
}

// DateKey is the identity of the day t falls on, e.g. "2026-04-18".
func (r *Repository) DateKey(t time.Time) string {
	return t.In(r.loc).Format(dateKeyLayout)
}

// Day truncates t to local midnight.
func (r *Repository) Day(t time.Time) time.Time {
	y, m, d := t.In(r.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

func ref(key string) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: key}
}

func spec() feed.Spec[models.KiddushSponsorship] {
	return feed.Spec[models.KiddushSponsorship]{
		Name:    FeedName,
		Query:   docstore.Query{Collection: Collection}.OrderBy("date", false),
		Decode:  codec.DecodeSponsorship,
		Arrange: Arrange,
	}
}

// Arrange orders by date, oldest first.
func Arrange(items []models.KiddushSponsorship) []models.KiddushSponsorship {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date.Before(items[j].Date) })
	return items
}

// Claim books s.Date for actor. A second claim of the same local day fails
// with ErrAlreadyClaimed whatever its time of day. The tier amount is added
// to the sponsor's pledges; a failed pledge update is logged only.
func (r *Repository) Claim(ctx context.Context, actor repositories.Actor, s models.KiddushSponsorship) (models.KiddushSponsorship, error) {
	if s.Date.IsZero() {
		return models.KiddushSponsorship{}, common.ErrInvalidInput.WithMessage("sponsorship needs a date")
	}
	if !codec.Finite(s.TierAmount) || s.TierAmount < 0 {
		return models.KiddushSponsorship{}, common.ErrInvalidAmount.WithMessage("tier amount must be a non-negative number")
	}

	name := s.SponsorName
	if name == "" {
		name = actor.Name
	}
	name, err := content.Name(name)
	if err != nil {
		return models.KiddushSponsorship{}, err
	}

	s.ID = r.DateKey(s.Date)
	s.Date = r.Day(s.Date)
	s.SponsorName = name
	s.SponsorEmail = codec.NormalizeEmail(actor.Email)
	s.Occasion = content.Optional(s.Occasion, maxOccasionLength)
	s.TierName = content.Clean(s.TierName)
	s.IsPaid = false
	s.TierInferred = false
	s.Timestamp = r.d.Now()

	conflict := common.ErrAlreadyClaimed.WithMessage("%s is already sponsored", s.ID)
	if err := r.d.Txn.ClaimIdentity(ctx, "claim_sponsorship", ref(s.ID), codec.EncodeSponsorship(s), conflict); err != nil {
		return models.KiddushSponsorship{}, err
	}

	if s.TierAmount > 0 && r.pledges != nil {
		if err := r.pledges.IncrementPledge(ctx, s.SponsorEmail, s.TierAmount); err != nil {
			r.log.Error(ctx, "pledge after sponsorship failed", "date", s.ID, "sponsor", s.SponsorEmail, "error", err)
		}
	}
	return s, nil
}

// IsAvailable reports whether nobody sponsors date's day yet.
func (r *Repository) IsAvailable(ctx context.Context, date time.Time) (bool, error) {
	snap, err := r.d.Store().Get(ctx, ref(r.DateKey(date)))
	if err != nil {
		return false, docstore.Classify(err)
	}
	return !snap.Exists, nil
}

// MarkPaid records payment. Admins only.
func (r *Repository) MarkPaid(ctx context.Context, actor repositories.Actor, date time.Time, paid bool) error {
	if err := repositories.RequireAdmin(ctx, r.admins, actor); err != nil {
		return err
	}
	return r.d.Txn.RunConditional(ctx, "mark_sponsorship_paid", ref(r.DateKey(date)), func(cur docstore.Snapshot) (docstore.Fields, error) {
		if !cur.Exists {
			return nil, repositories.NotFound(cur.Ref)
		}
		if cur.Fields["isPaid"] == paid {
			return nil, nil
		}
		return docstore.Fields{"isPaid": paid}, nil
	})
}

// Release frees date's day. Admins only.
func (r *Repository) Release(ctx context.Context, actor repositories.Actor, date time.Time) error {
	if err := repositories.RequireAdmin(ctx, r.admins, actor); err != nil {
		return err
	}
	return r.d.Txn.DeleteIf(ctx, "release_sponsorship", ref(r.DateKey(date)), nil)
}

func (r *Repository) Get(ctx context.Context, date time.Time) (models.KiddushSponsorship, error) {
	return repositories.Get(ctx, r.d, ref(r.DateKey(date)), codec.DecodeSponsorship)
}

func (r *Repository) FetchOnce(ctx context.Context) ([]models.KiddushSponsorship, error) {
	return repositories.Fetch(ctx, r.d, spec(), r.d.State.Sponsorships)
}

func (r *Repository) Subscribe(ctx context.Context, screen string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: FeedName, Screen: screen}, spec(), r.d.State.Sponsorships)
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: FeedName, Screen: screen})
}
