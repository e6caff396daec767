package sponsorships

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx   = context.Background()
	local = time.FixedZone("EDT", -4*60*60)

	admin = repotest.Actor("gabbai@example.org", "Gabbai")
	alice = repotest.Actor("alice@example.org", "Alice Cohen")
	bob   = repotest.Actor("bob@example.org", "Bob Levi")
)

func newRepo(t *testing.T) (*Repository, *repotest.Admins, docstore.Store) {
	t.Helper()
	d, store := repotest.Deps(t)
	admins := repotest.NewAdmins(admin.Email)
	return New(d, admins, admins, local), admins, store
}

func TestDateKey_UsesLocalDay(t *testing.T) {
	r, _, _ := newRepo(t)

	lateEvening := time.Date(2026, 4, 18, 23, 30, 0, 0, local)
	assert.Equal(t, "2026-04-18", r.DateKey(lateEvening))
	assert.Equal(t, "2026-04-18", r.DateKey(lateEvening.UTC()))
	assert.Equal(t, time.Date(2026, 4, 18, 0, 0, 0, 0, local), r.Day(lateEvening.UTC()))
}

func TestClaim_SameLocalDayDifferentTime(t *testing.T) {
	r, admins, _ := newRepo(t)

	first, err := r.Claim(ctx, alice, models.KiddushSponsorship{
		Date:       time.Date(2026, 4, 18, 9, 0, 0, 0, local),
		TierName:   "Gold Kiddush",
		TierAmount: 1000,
		Occasion:   "Aufruf",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-04-18", first.ID)
	assert.Equal(t, 1000.0, admins.Pledged(alice.Email))

	_, err = r.Claim(ctx, bob, models.KiddushSponsorship{
		Date: time.Date(2026, 4, 18, 22, 45, 0, 0, local).UTC(),
	})
	require.ErrorIs(t, err, common.ErrAlreadyClaimed)
	assert.Zero(t, admins.Pledged(bob.Email))

	got, err := r.Get(ctx, time.Date(2026, 4, 18, 12, 0, 0, 0, local))
	require.NoError(t, err)
	assert.Equal(t, "Alice Cohen", got.SponsorName)
	assert.Equal(t, alice.Email, got.SponsorEmail)
	assert.Equal(t, 1000.0, got.TierAmount)
	assert.True(t, got.Date.Equal(time.Date(2026, 4, 18, 0, 0, 0, 0, local)))
}

func TestClaim_ConcurrentExactlyOneWins(t *testing.T) {
	r, _, _ := newRepo(t)
	day := time.Date(2026, 5, 2, 0, 0, 0, 0, local)

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Claim(ctx, alice, models.KiddushSponsorship{Date: day.Add(time.Duration(i) * time.Hour)})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, common.ErrAlreadyClaimed)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestClaim_Validation(t *testing.T) {
	r, _, _ := newRepo(t)

	_, err := r.Claim(ctx, alice, models.KiddushSponsorship{})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = r.Claim(ctx, alice, models.KiddushSponsorship{Date: repotest.Now, TierAmount: -1})
	require.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = r.Claim(ctx, repotest.Actor("x@example.org", "X"), models.KiddushSponsorship{Date: repotest.Now})
	require.ErrorIs(t, err, common.ErrInvalidName)
}

func TestAvailabilityPaymentAndRelease(t *testing.T) {
	r, _, _ := newRepo(t)
	day := time.Date(2026, 6, 6, 0, 0, 0, 0, local)

	ok, err := r.IsAvailable(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Claim(ctx, alice, models.KiddushSponsorship{Date: day, IsAnonymous: true})
	require.NoError(t, err)

	ok, err = r.IsAvailable(ctx, day.Add(20*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, r.MarkPaid(ctx, alice, day, true), common.ErrNotAdmin)
	require.NoError(t, r.MarkPaid(ctx, admin, day, true))
	got, err := r.Get(ctx, day)
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	assert.Equal(t, "Anonymous", got.DisplayName())

	require.ErrorIs(t, r.Release(ctx, bob, day), common.ErrNotAdmin)
	require.NoError(t, r.Release(ctx, admin, day))
	require.ErrorIs(t, r.Release(ctx, admin, day), common.ErrNotFound)
	require.ErrorIs(t, r.MarkPaid(ctx, admin, day, true), common.ErrNotFound)

	_, err = r.Claim(ctx, bob, models.KiddushSponsorship{Date: day})
	require.NoError(t, err)
}

func TestFetchOnce_OrdersByDateAndInfersLegacyTier(t *testing.T) {
	r, _, store := newRepo(t)
	require.NoError(t, store.Create(ctx, ref("2026-04-25"), docstore.Fields{
		"date": time.Date(2026, 4, 25, 0, 0, 0, 0, local), "sponsorName": "Levi", "sponsorEmail": "l@example.org", "tierName": "Platinum",
	}))
	require.NoError(t, store.Create(ctx, ref("2026-04-18"), docstore.Fields{
		"date": time.Date(2026, 4, 18, 0, 0, 0, 0, local), "sponsorName": "Cohen", "sponsorEmail": "c@example.org", "tierAmount": 360,
	}))
	require.NoError(t, store.Create(ctx, ref("broken"), docstore.Fields{"sponsorName": "no date"}))

	items, err := r.FetchOnce(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2026-04-18", items[0].ID)
	assert.False(t, items[0].TierInferred)
	assert.Equal(t, 1800.0, items[1].TierAmount)
	assert.True(t, items[1].TierInferred)
}

func TestSubscribe(t *testing.T) {
	r, _, _ := newRepo(t)
	require.NoError(t, r.Subscribe(ctx, "calendar"))

	_, err := r.Claim(ctx, alice, models.KiddushSponsorship{Date: time.Date(2026, 7, 4, 0, 0, 0, 0, local)})
	require.NoError(t, err)

	col := r.d.State.Sponsorships
	require.Eventually(t, func() bool { return col.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "2026-07-04", col.Items()[0].ID)
	r.Stop("calendar")
}
