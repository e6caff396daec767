// Package occasions shares member-submitted community dates.
package occasions

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/content"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
)

const (
	Collection = "communityOccasions"
	FeedName   = "occasions"

	maxTitleLength = 100
	maxNotesLength = 500
)

var kinds = map[models.OccasionKind]bool{
	models.OccasionBirthday:    true,
	models.OccasionAnniversary: true,
	models.OccasionYahrzeit:    true,
	models.OccasionSimcha:      true,
	models.OccasionOther:       true,
}

type Repository struct {
	d      repositories.Deps
	admins repositories.Authorizer
}

func New(d repositories.Deps, admins repositories.Authorizer) *Repository {
	return &Repository{d: d.WithDefaults(), admins: admins}
}

func ref(id string) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: id}
}

func spec() feed.Spec[models.CommunityOccasion] {
	return feed.Spec[models.CommunityOccasion]{
		Name:   FeedName,
		Query:  docstore.Query{Collection: Collection}.OrderBy("date", false),
		Decode: codec.DecodeOccasion,
		Arrange: func(items []models.CommunityOccasion) []models.CommunityOccasion {
			sort.SliceStable(items, func(i, j int) bool { return items[i].Date.Before(items[j].Date) })
			return items
		},
	}
}

// Add stores o under a generated id on behalf of actor.
func (r *Repository) Add(ctx context.Context, actor repositories.Actor, o models.CommunityOccasion) (models.CommunityOccasion, error) {
	o.Title = content.Clean(o.Title)
	if o.Title == "" || content.Length(o.Title) > maxTitleLength {
		return models.CommunityOccasion{}, common.ErrInvalidContent.WithMessage("title must be 1-%d characters", maxTitleLength)
	}
	if o.Date.IsZero() {
		return models.CommunityOccasion{}, common.ErrInvalidInput.WithMessage("occasion needs a date")
	}
	if o.Kind == "" {
		o.Kind = models.OccasionOther
	}
	if !kinds[o.Kind] {
		return models.CommunityOccasion{}, common.ErrInvalidInput.WithMessage("unknown occasion kind %q", o.Kind)
	}
	o.PersonName = content.Optional(o.PersonName, common.MaxNameLength)
	o.Notes = content.Optional(o.Notes, maxNotesLength)
	o.SubmittedBy = codec.NormalizeEmail(actor.Email)
	o.Timestamp = r.d.Now()
	o.ID = docstore.NewID()

	if err := r.d.Store().Create(ctx, ref(o.ID), codec.EncodeOccasion(o)); err != nil {
		return models.CommunityOccasion{}, docstore.Classify(err)
	}
	return o, nil
}

// Delete removes an occasion. Only its submitter or an admin may.
func (r *Repository) Delete(ctx context.Context, actor repositories.Actor, id string) error {
	check, err := repositories.OwnerOrAdmin(ctx, r.admins, actor, repositories.StringField("submittedBy"))
	if err != nil {
		return err
	}
	return r.d.Txn.DeleteIf(ctx, "delete_occasion", ref(id), check)
}

func (r *Repository) FetchOnce(ctx context.Context) ([]models.CommunityOccasion, error) {
	return repositories.Fetch(ctx, r.d, spec(), r.d.State.Occasions)
}

func (r *Repository) Subscribe(ctx context.Context, screen string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: FeedName, Screen: screen}, spec(), r.d.State.Occasions)
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: FeedName, Screen: screen})
}
