package posts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/docstore/memstore"
	"github.com/dmitrijs2005/kehilla/internal/mediastore"
	"github.com/dmitrijs2005/kehilla/internal/metrics"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories/repotest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx   = context.Background()
	rabbi = repotest.Actor("rabbi@example.org", "Rabbi")
	alice = repotest.Actor("alice@example.org", "Alice")
	bob   = repotest.Actor("bob@example.org", "Bob")
)

type fixture struct {
	repo  *Repository
	store *memstore.Store
	media *mediastore.Memory
	reg   *prometheus.Registry
}

type pinnedAdmins map[string]bool

func (p pinnedAdmins) Admins() map[string]bool { return p }

func (p pinnedAdmins) AdminChanges() (<-chan struct{}, func()) { return nil, func() {} }

func (p pinnedAdmins) LoadAdmins(context.Context) (map[string]bool, error) { return p, nil }

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	d, store := repotest.Deps(t)
	reg := prometheus.NewRegistry()
	d.Metrics = metrics.NewCollector(reg)
	media := mediastore.NewMemory("https://cdn.example.org")
	opts = append([]Option{WithAdminDirectory(pinnedAdmins{rabbi.Email: true})}, opts...)
	return fixture{
		repo:  New(d, repotest.NewAdmins(rabbi.Email), media, opts...),
		store: store,
		media: media,
		reg:   reg,
	}
}

func photo(b string) mediastore.Upload {
	return mediastore.Upload{Data: []byte(b), ContentType: "image/jpeg", Width: 640, Height: 480}
}

func cleanupFailures(t *testing.T, reg *prometheus.Registry, kind string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "kehilla_cleanup_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCreate_UploadsMediaUnderPost(t *testing.T) {
	f := newFixture(t)

	p, err := f.repo.Create(ctx, alice, "Shabbat <script>x</script>table", []mediastore.Upload{photo("a"), photo("b")})
	require.NoError(t, err)
	assert.Equal(t, "Shabbat table", p.Content)
	require.Len(t, p.Media, 2)
	for _, m := range p.Media {
		assert.True(t, strings.HasPrefix(m.Path, "posts/"+p.ID+"/"))
		assert.True(t, strings.HasPrefix(m.URL, "https://cdn.example.org/posts/"))
		assert.Equal(t, int64(1), m.Size)
		assert.True(t, f.media.Has(m.Path))
	}

	got, err := f.repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Media, got.Media)
	assert.Empty(t, got.Likers)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.repo.Create(ctx, alice, "   ", nil)
	require.ErrorIs(t, err, common.ErrInvalidContent)
	_, err = f.repo.Create(ctx, alice, strings.Repeat("a", DefaultMaxLength+1), nil)
	require.ErrorIs(t, err, common.ErrInvalidContent)
	_, err = f.repo.Create(ctx, alice, "", []mediastore.Upload{photo("1"), photo("2"), photo("3"), photo("4"), photo("5")})
	require.ErrorIs(t, err, common.ErrInvalidContent)
	_, err = f.repo.Create(ctx, alice, "", []mediastore.Upload{{ContentType: "image/png"}})
	require.ErrorIs(t, err, common.ErrInvalidContent)

	p, err := f.repo.Create(ctx, alice, "", []mediastore.Upload{photo("only media")})
	require.NoError(t, err)
	assert.Empty(t, p.Content)
	assert.Equal(t, 1, f.media.Len())
}

func TestCreate_FailedUploadReversesEarlierOnes(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.media.FailPut = func(string) error {
		calls++
		if calls == 2 {
			return errors.New("s3 down")
		}
		return nil
	}

	_, err := f.repo.Create(ctx, alice, "two photos", []mediastore.Upload{photo("a"), photo("b")})
	require.ErrorIs(t, err, common.ErrNetwork)
	assert.Zero(t, f.media.Len())

	snaps, err := f.store.Query(ctx, docstore.Query{Collection: Collection})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestCreate_FailedCommitReversesUploads(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	_, err := f.repo.Create(ctx, alice, "lost", []mediastore.Upload{photo("a")})
	require.ErrorIs(t, err, common.ErrNetwork)
	assert.Zero(t, f.media.Len())
}

func TestReply(t *testing.T) {
	f := newFixture(t)
	parent, err := f.repo.Create(ctx, alice, "Who has a minyan?", nil)
	require.NoError(t, err)

	reply, err := f.repo.Reply(ctx, bob, parent.ID, "Me", nil)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, reply.ParentPostID)

	_, err = f.repo.Reply(ctx, alice, reply.ID, "nested", nil)
	require.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.repo.Reply(ctx, alice, "missing", "hello", nil)
	require.ErrorIs(t, err, common.ErrNotFound)

	top, err := f.repo.FetchOnce(ctx, Newest)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, parent.ID, top[0].ID)
}

func TestEdit_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "first draft", nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.repo.Edit(ctx, bob, p.ID, "hijack"), common.ErrNotOwner)
	require.ErrorIs(t, f.repo.Edit(ctx, alice, p.ID, " "), common.ErrInvalidContent)
	require.ErrorIs(t, f.repo.Edit(ctx, alice, "missing", "x"), common.ErrNotFound)
	require.NoError(t, f.repo.Edit(ctx, alice, p.ID, "final"))

	got, err := f.repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Content)
	require.NotNil(t, got.EditedAt)
	assert.True(t, got.EditedAt.Equal(repotest.Now))
}

func TestDelete_CleansOwnMediaOnly(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "with photo", []mediastore.Upload{photo("a")})
	require.NoError(t, err)
	other, err := f.repo.Create(ctx, bob, "also a photo", []mediastore.Upload{photo("a")})
	require.NoError(t, err)

	require.ErrorIs(t, f.repo.Delete(ctx, bob, p.ID), common.ErrNotOwner)
	require.NoError(t, f.repo.Delete(ctx, alice, p.ID))
	f.repo.Wait()

	assert.False(t, f.media.Has(p.Media[0].Path))
	assert.True(t, f.media.Has(other.Media[0].Path))
	_, err = f.repo.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, f.repo.Delete(ctx, rabbi, other.ID))
	require.ErrorIs(t, f.repo.Delete(ctx, rabbi, other.ID), common.ErrNotFound)
}

func TestDelete_CleanupFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "photo", []mediastore.Upload{photo("a"), photo("b")})
	require.NoError(t, err)
	f.media.FailDelete = func(path string) error {
		if path == p.Media[0].Path {
			return errors.New("forbidden")
		}
		return nil
	}

	require.NoError(t, f.repo.Delete(ctx, alice, p.ID))
	f.repo.Wait()
	assert.True(t, f.media.Has(p.Media[0].Path))
	assert.False(t, f.media.Has(p.Media[1].Path))
	assert.Equal(t, 1.0, cleanupFailures(t, f.reg, "post_media"))

	_, err = f.repo.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

// stalledMedia never finishes a delete before ctx ends.
type stalledMedia struct {
	*mediastore.Memory
}

func (stalledMedia) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDelete_DoesNotWaitForMediaCleanup(t *testing.T) {
	d, _ := repotest.Deps(t)
	reg := prometheus.NewRegistry()
	d.Metrics = metrics.NewCollector(reg)
	repo := New(d, repotest.NewAdmins(rabbi.Email), stalledMedia{mediastore.NewMemory("")}, WithCleanupTimeout(50*time.Millisecond))

	p, err := repo.Create(ctx, alice, "photo", []mediastore.Upload{photo("a")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- repo.Delete(ctx, alice, p.ID) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Delete is held up by media cleanup")
	}

	_, err = repo.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	repo.Wait()
	assert.Equal(t, 1.0, cleanupFailures(t, reg, "post_media"))
}

func TestDelete_CleanupOutlivesCallerContext(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "photo", []mediastore.Upload{photo("a")})
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	require.NoError(t, f.repo.Delete(cctx, alice, p.ID))
	cancel()
	f.repo.Wait()

	assert.False(t, f.media.Has(p.Media[0].Path))
	assert.Zero(t, cleanupFailures(t, f.reg, "post_media"))
}

func TestToggleLike_DuplicateStoredLikersCollapse(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "dupes", nil)
	require.NoError(t, err)

	fields := codec.EncodePost(p)
	fields["likes"] = []any{"bob@example.org", "bob@example.org", "rabbi@example.org"}
	fields["likeCount"] = 3
	require.NoError(t, f.store.Set(ctx, ref(p.ID), fields))

	liked, err := f.repo.ToggleLike(ctx, alice, p.ID)
	require.NoError(t, err)
	assert.True(t, liked)

	snap, err := f.store.Get(ctx, ref(p.ID))
	require.NoError(t, err)
	assert.Equal(t, []any{"bob@example.org", "rabbi@example.org", "alice@example.org"}, snap.Fields["likes"])
	assert.EqualValues(t, 3, snap.Fields["likeCount"])
}

func TestToggleLike_MalformedLikersAreNotOverwritten(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "broken", nil)
	require.NoError(t, err)

	fields := codec.EncodePost(p)
	fields["likes"] = "bob@example.org"
	require.NoError(t, f.store.Set(ctx, ref(p.ID), fields))

	_, err = f.repo.ToggleLike(ctx, alice, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	snap, err := f.store.Get(ctx, ref(p.ID))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.org", snap.Fields["likes"])
}

func TestToggleLike_DoubleToggleRestores(t *testing.T) {
	f := newFixture(t)
	p, err := f.repo.Create(ctx, alice, "like me", nil)
	require.NoError(t, err)
	_, err = f.repo.ToggleLike(ctx, alice, p.ID)
	require.NoError(t, err)

	before, err := f.repo.Get(ctx, p.ID)
	require.NoError(t, err)

	liked, err := f.repo.ToggleLike(ctx, bob, p.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	mid, err := f.repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.org", "bob@example.org"}, mid.Likers)
	assert.Equal(t, 2, mid.LikeCount)

	liked, err = f.repo.ToggleLike(ctx, bob, p.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	after, err := f.repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Likers, after.Likers)
	assert.Equal(t, 1, after.LikeCount)

	snap, err := f.store.Get(ctx, ref(p.ID))
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.Fields["likeCount"])

	_, err = f.repo.ToggleLike(ctx, bob, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestToggleLike_ConcurrentMembersAllCounted(t *testing.T) {
	f := newFixture(t, WithLikeRate(0, 0))
	p, err := f.repo.Create(ctx, alice, "popular", nil)
	require.NoError(t, err)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := repotest.Actor(string(rune('a'+i%26))+strings.Repeat("x", i/26)+"@example.org", "M")
			_, err := f.repo.ToggleLike(ctx, member, p.ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Likers, n)
	assert.Equal(t, n, got.LikeCount)
}

func TestToggleLike_RateLimited(t *testing.T) {
	f := newFixture(t, WithLikeRate(1, 2))
	p, err := f.repo.Create(ctx, alice, "spam target", nil)
	require.NoError(t, err)

	_, err = f.repo.ToggleLike(ctx, bob, p.ID)
	require.NoError(t, err)
	_, err = f.repo.ToggleLike(ctx, bob, p.ID)
	require.NoError(t, err)
	_, err = f.repo.ToggleLike(ctx, bob, p.ID)
	require.ErrorIs(t, err, common.ErrRateLimited)

	_, err = f.repo.ToggleLike(ctx, alice, p.ID)
	require.NoError(t, err, "limits are per member")
}

func TestArrange(t *testing.T) {
	at := func(m int) time.Time { return repotest.Now.Add(time.Duration(m) * time.Minute) }
	items := func() []models.SocialPost {
		return []models.SocialPost{
			{ID: "old-admin", AuthorEmail: "rabbi@example.org", Timestamp: at(1)},
			{ID: "new", AuthorEmail: "a@example.org", Timestamp: at(5), LikeCount: 1},
			{ID: "liked", AuthorEmail: "b@example.org", Timestamp: at(2), LikeCount: 7},
			{ID: "reply", AuthorEmail: "c@example.org", Timestamp: at(9), ParentPostID: "new"},
			{ID: "tie", AuthorEmail: "d@example.org", Timestamp: at(3), LikeCount: 1},
		}
	}
	ids := func(ps []models.SocialPost) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{"old-admin", "new", "tie", "liked"}, ids(Arrange(items(), Newest, map[string]bool{"rabbi@example.org": true})))
	assert.Equal(t, []string{"new", "tie", "liked", "old-admin"}, ids(Arrange(items(), Newest, nil)))
	assert.Equal(t, []string{"liked", "new", "tie", "old-admin"}, ids(Arrange(items(), MostLiked, nil)))
}

func TestSubscribe_SwitchingSortAndReplies(t *testing.T) {
	f := newFixture(t)
	p1, err := f.repo.Create(ctx, alice, "first", nil)
	require.NoError(t, err)
	f.repo.d.Now = func() time.Time { return repotest.Now.Add(time.Minute) }
	p2, err := f.repo.Create(ctx, bob, "second", nil)
	require.NoError(t, err)
	pinned, err := f.repo.Create(ctx, rabbi, "announcement", nil)
	require.NoError(t, err)
	_, err = f.repo.ToggleLike(ctx, bob, p1.ID)
	require.NoError(t, err)

	require.NoError(t, f.repo.Subscribe(ctx, "community", Newest))
	newest := f.repo.d.State.Posts.Get(string(Newest))
	require.Eventually(t, func() bool { return newest.Len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, pinned.ID, newest.Items()[0].ID)

	require.NoError(t, f.repo.Subscribe(ctx, "community", MostLiked))
	liked := f.repo.d.State.Posts.Get(string(MostLiked))
	require.Eventually(t, func() bool { return liked.Len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, p1.ID, liked.Items()[0].ID)

	v := newest.Version()
	_, err = f.repo.Create(ctx, alice, "after switch", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return liked.Len() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, v, newest.Version(), "replaced feed no longer writes")

	require.NoError(t, f.repo.SubscribeReplies(ctx, "thread", p2.ID))
	f.repo.d.Now = func() time.Time { return repotest.Now.Add(2 * time.Minute) }
	r1, err := f.repo.Reply(ctx, alice, p2.ID, "one", nil)
	require.NoError(t, err)
	f.repo.d.Now = func() time.Time { return repotest.Now.Add(3 * time.Minute) }
	r2, err := f.repo.Reply(ctx, rabbi, p2.ID, "two", nil)
	require.NoError(t, err)

	replies := f.repo.d.State.Posts.Get(RepliesKey(p2.ID))
	require.Eventually(t, func() bool { return replies.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{r1.ID, r2.ID}, []string{replies.Items()[0].ID, replies.Items()[1].ID})
	assert.Equal(t, 4, liked.Len(), "replies stay out of the top-level feed")

	f.repo.Stop("community")
	f.repo.Stop("thread")
}
