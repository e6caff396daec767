// Package posts runs the community feed: posts with up to four media
// attachments, replies, edits and likes.
//
// Media is uploaded before the post document is written. If the write
// fails the uploads are removed again. Once a post is deleted its own media
// is removed in the background on a best effort basis; Delete returns as
// soon as the document is gone. Replies and reply counts are maintained
// server-side.
package posts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/content"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/mediastore"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
)

const (
	Collection  = "posts"
	FeedName    = "posts"
	RepliesFeed = "replies"

	DefaultMaxLength = 140

	// DefaultCleanupTimeout bounds the media cleanup after a delete.
	DefaultCleanupTimeout = 30 * time.Second
)

// Sort selects the order of the top-level feed.
type Sort string

const (
	// Newest pins admin posts above the rest, each group newest first.
	Newest Sort = "newest"
	// MostLiked orders by like count, then recency.
	MostLiked Sort = "mostLiked"
)

// AdminDirectory lists the admins whose posts are pinned. Admins and
// AdminChanges serve live feeds from the mirror; LoadAdmins reads the store
// for one-shot fetches.
type AdminDirectory interface {
	Admins() map[string]bool
	AdminChanges() (<-chan struct{}, func())
	LoadAdmins(ctx context.Context) (map[string]bool, error)
}

type Repository struct {
	d         repositories.Deps
	admins    repositories.Authorizer
	directory AdminDirectory
	media     mediastore.Storage
	maxLen    int
	likes     *likeLimiter
	log       logging.Logger

	cleanupTimeout time.Duration
	pending        sync.WaitGroup
}

type Option func(*Repository)

func WithMaxLength(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxLen = n
		}
	}
}

// WithLikeRate limits like toggles to perSecond per member with the given
// burst. A zero rate disables the limit.
func WithLikeRate(perSecond float64, burst int) Option {
	return func(r *Repository) { r.likes = newLikeLimiter(perSecond, burst, r.d.Now) }
}

func WithCleanupTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.cleanupTimeout = d
		}
	}
}

func WithAdminDirectory(dir AdminDirectory) Option {
	return func(r *Repository) { r.directory = dir }
}

func New(d repositories.Deps, admins repositories.Authorizer, media mediastore.Storage, opts ...Option) *Repository {
	d = d.WithDefaults()
	r := &Repository{
		d:      d,
		admins: admins,
		media:  media,
		maxLen: DefaultMaxLength,
		log:    d.Logger.With("module", "posts"),

		cleanupTimeout: DefaultCleanupTimeout,
	}
	r.likes = newLikeLimiter(2, 5, d.Now)
	for _, o := range opts {
		o(r)
	}
	return r
}

func ref(id string) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: id}
}

func (r *Repository) spec(s Sort, pinned func() map[string]bool) feed.Spec[models.SocialPost] {
	return feed.Spec[models.SocialPost]{
		Name:   FeedName + "/" + string(s),
		Query:  docstore.Query{Collection: Collection}.OrderBy("timestamp", true),
		Decode: codec.DecodePost,
		Arrange: func(items []models.SocialPost) []models.SocialPost {
			return Arrange(items, s, pinned())
		},
	}
}

func repliesSpec(parentID string) feed.Spec[models.SocialPost] {
	return feed.Spec[models.SocialPost]{
		Name:    RepliesFeed,
		Query:   docstore.Query{Collection: Collection}.Where("parentPostId", docstore.OpEqual, parentID),
		Decode:  codec.DecodePost,
		Arrange: ArrangeReplies,
	}
}

// mirroredAdmins is the pinned set of live feeds.
func (r *Repository) mirroredAdmins() map[string]bool {
	if r.directory == nil {
		return nil
	}
	return r.directory.Admins()
}

// Arrange drops replies and orders the top-level posts for s. pinned holds
// the admin emails whose posts lead the Newest order.
func Arrange(items []models.SocialPost, s Sort, pinned map[string]bool) []models.SocialPost {
	out := items[:0]
	for _, p := range items {
		if !p.IsReply() {
			out = append(out, p)
		}
	}
	newer := func(a, b models.SocialPost) bool {
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	}
	switch s {
	case MostLiked:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].LikeCount != out[j].LikeCount {
				return out[i].LikeCount > out[j].LikeCount
			}
			return newer(out[i], out[j])
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			pi := pinned[codec.NormalizeEmail(out[i].AuthorEmail)]
			pj := pinned[codec.NormalizeEmail(out[j].AuthorEmail)]
			if pi != pj {
				return pi
			}
			return newer(out[i], out[j])
		})
	}
	return out
}

// ArrangeReplies orders a thread of replies oldest first.
func ArrangeReplies(items []models.SocialPost) []models.SocialPost {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Create publishes a top-level post.
func (r *Repository) Create(ctx context.Context, author repositories.Actor, text string, uploads []mediastore.Upload) (models.SocialPost, error) {
	return r.publish(ctx, author, "", text, uploads)
}

// Reply answers parentID, which must exist and be a top-level post.
func (r *Repository) Reply(ctx context.Context, author repositories.Actor, parentID, text string, uploads []mediastore.Upload) (models.SocialPost, error) {
	parent, err := repositories.Get(ctx, r.d, ref(parentID), codec.DecodePost)
	if err != nil {
		return models.SocialPost{}, err
	}
	if parent.IsReply() {
		return models.SocialPost{}, common.ErrInvalidInput.WithMessage("cannot reply to a reply")
	}
	return r.publish(ctx, author, parentID, text, uploads)
}

func (r *Repository) publish(ctx context.Context, author repositories.Actor, parentID, text string, uploads []mediastore.Upload) (models.SocialPost, error) {
	body, err := content.Post(text, r.maxLen, len(uploads))
	if err != nil {
		return models.SocialPost{}, err
	}
	for i, u := range uploads {
		if len(u.Data) == 0 {
			return models.SocialPost{}, common.ErrInvalidContent.WithMessage("attachment %d is empty", i+1)
		}
	}

	p := models.SocialPost{
		ID:           docstore.NewID(),
		AuthorName:   author.Name,
		AuthorEmail:  codec.NormalizeEmail(author.Email),
		Content:      body,
		Timestamp:    r.d.Now(),
		Likers:       []string{},
		ParentPostID: parentID,
	}

	p.Media, err = r.upload(ctx, p.ID, uploads)
	if err != nil {
		return models.SocialPost{}, err
	}

	if err := r.d.Store().Create(ctx, ref(p.ID), codec.EncodePost(p)); err != nil {
		r.cleanup(ctx, p.ID, p.Media, "upload_reversal")
		return models.SocialPost{}, docstore.Classify(err)
	}
	return p, nil
}

// upload stores every attachment under the post's directory. On failure the
// ones already stored are removed again.
func (r *Repository) upload(ctx context.Context, postID string, uploads []mediastore.Upload) ([]models.Media, error) {
	media := make([]models.Media, 0, len(uploads))
	for _, u := range uploads {
		path := mediastore.Path(mediastore.PostDir(postID), u.Data, u.ContentType)
		obj, err := r.media.Put(ctx, path, u.Data, u.ContentType)
		if err != nil {
			r.cleanup(ctx, postID, media, "upload_reversal")
			return nil, common.ErrNetwork.WithMessage("media upload failed").WithCause(err)
		}
		media = append(media, models.Media{
			Path:   obj.Path,
			URL:    obj.URL,
			Width:  u.Width,
			Height: u.Height,
			Size:   obj.Size,
		})
	}
	return media, nil
}

// cleanup deletes media best effort. Failures are logged and counted; they
// never reach the caller.
func (r *Repository) cleanup(ctx context.Context, postID string, media []models.Media, kind string) {
	var errs []error
	for _, m := range media {
		if m.Path == "" {
			continue
		}
		if err := r.media.Delete(ctx, m.Path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return
	}
	r.d.Metrics.RecordCleanupFailure(kind)
	err := common.ErrPartialCleanup.WithMessage("%d of %d media objects of post %s left behind", len(errs), len(media), postID).WithCause(errors.Join(errs...))
	r.log.Warn(ctx, "media cleanup incomplete", "post", postID, "kind", kind, "error", err)
}

// Edit replaces the text of actor's own post and stamps editedAt.
func (r *Repository) Edit(ctx context.Context, actor repositories.Actor, id, text string) error {
	email := codec.NormalizeEmail(actor.Email)
	now := r.d.Now()
	return r.d.Txn.RunConditional(ctx, "edit_post", ref(id), func(cur docstore.Snapshot) (docstore.Fields, error) {
		if !cur.Exists {
			return nil, repositories.NotFound(cur.Ref)
		}
		p, err := codec.DecodePost(cur.Ref.ID, cur.Fields)
		if err != nil {
			return nil, common.ErrNotFound.WithMessage("%s is malformed", cur.Ref).WithCause(err)
		}
		if p.AuthorEmail != email {
			return nil, common.ErrNotOwner.WithMessage("%s did not write %s", email, cur.Ref)
		}
		body, err := content.Post(text, r.maxLen, len(p.Media))
		if err != nil {
			return nil, err
		}
		return docstore.Fields{"content": body, "editedAt": now}, nil
	})
}

// Delete removes a post on behalf of its author or an admin. The post's own
// media is removed afterwards without holding up the caller.
func (r *Repository) Delete(ctx context.Context, actor repositories.Actor, id string) error {
	check, err := repositories.OwnerOrAdmin(ctx, r.admins, actor, repositories.StringField("authorEmail"))
	if err != nil {
		return err
	}

	var media []models.Media
	err = r.d.Txn.DeleteIf(ctx, "delete_post", ref(id), func(cur docstore.Snapshot) error {
		if err := check(cur); err != nil {
			return err
		}
		media = nil
		if p, err := codec.DecodePost(cur.Ref.ID, cur.Fields); err == nil {
			media = p.Media
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(media) > 0 {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cleanupTimeout)
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			defer cancel()
			r.cleanup(cctx, id, media, "post_media")
		}()
	}
	return nil
}

// Wait blocks until every background media cleanup has finished.
func (r *Repository) Wait() {
	r.pending.Wait()
}

// ToggleLike adds actor to the likers of id, or removes them if present,
// and stores the resulting count. It reports whether actor now likes the
// post.
func (r *Repository) ToggleLike(ctx context.Context, actor repositories.Actor, id string) (bool, error) {
	email := codec.NormalizeEmail(actor.Email)
	if !r.likes.allow(email) {
		return false, common.ErrRateLimited.WithMessage("slow down")
	}

	var liked bool
	err := r.d.Txn.RunConditional(ctx, "toggle_like", ref(id), func(cur docstore.Snapshot) (docstore.Fields, error) {
		if !cur.Exists {
			return nil, repositories.NotFound(cur.Ref)
		}
		p, err := codec.DecodePost(cur.Ref.ID, cur.Fields)
		if err != nil {
			return nil, common.ErrNotFound.WithMessage("%s is malformed", cur.Ref).WithCause(err)
		}
		next := make([]string, 0, len(p.Likers)+1)
		liked = true
		for _, l := range p.Likers {
			if l == email {
				liked = false
				continue
			}
			next = append(next, l)
		}
		if liked {
			next = append(next, email)
		}
		return docstore.Fields{"likes": codec.EncodeStrings(next), "likeCount": len(next)}, nil
	})
	if err != nil {
		return false, err
	}
	return liked, nil
}

func (r *Repository) Get(ctx context.Context, id string) (models.SocialPost, error) {
	return repositories.Get(ctx, r.d, ref(id), codec.DecodePost)
}

// FetchOnce reads the top-level feed in order s.
func (r *Repository) FetchOnce(ctx context.Context, s Sort) ([]models.SocialPost, error) {
	var pinned map[string]bool
	if s == Newest && r.directory != nil {
		var err error
		if pinned, err = r.directory.LoadAdmins(ctx); err != nil {
			return nil, err
		}
	}
	spec := r.spec(s, func() map[string]bool { return pinned })
	return repositories.Fetch(ctx, r.d, spec, r.d.State.Posts.Get(string(s)))
}

// Subscribe mirrors the top-level feed in order s into
// State.Posts.Get(string(s)). Switching the order on a screen replaces its
// feed. The Newest order is re-sorted whenever the mirrored admin set
// changes.
func (r *Repository) Subscribe(ctx context.Context, screen string, s Sort) error {
	spec := r.spec(s, r.mirroredAdmins)
	if s == Newest && r.directory != nil {
		spec.Refresh = r.directory.AdminChanges
	}
	return repositories.Watch(ctx, r.d, feed.Key{Feed: FeedName, Screen: screen}, spec, r.d.State.Posts.Get(string(s)))
}

// RepliesKey is the State.Posts partition holding parentID's replies.
func RepliesKey(parentID string) string {
	return RepliesFeed + ":" + parentID
}

// SubscribeReplies mirrors the replies to parentID, oldest first.
func (r *Repository) SubscribeReplies(ctx context.Context, screen, parentID string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: RepliesFeed, Screen: screen}, repliesSpec(parentID), r.d.State.Posts.Get(RepliesKey(parentID)))
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: FeedName, Screen: screen})
	r.d.Registry.Stop(feed.Key{Feed: RepliesFeed, Screen: screen})
}
