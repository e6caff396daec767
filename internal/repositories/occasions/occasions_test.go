package occasions

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx   = context.Background()
	admin = repotest.Actor("rabbi@example.org", "Rabbi")
	alice = repotest.Actor("Alice@Example.org", "Alice")
	bob   = repotest.Actor("bob@example.org", "Bob")
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	d, _ := repotest.Deps(t)
	return New(d, repotest.NewAdmins(admin.Email))
}

func TestAdd_ValidatesAndNormalizes(t *testing.T) {
	r := newRepo(t)

	_, err := r.Add(ctx, alice, models.CommunityOccasion{Date: repotest.Now})
	require.ErrorIs(t, err, common.ErrInvalidContent)

	_, err = r.Add(ctx, alice, models.CommunityOccasion{Title: "Bar mitzvah"})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = r.Add(ctx, alice, models.CommunityOccasion{Title: "Party", Date: repotest.Now, Kind: "party"})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	o, err := r.Add(ctx, alice, models.CommunityOccasion{Title: "<i>Bar mitzvah</i>", Date: repotest.Now, Kind: models.OccasionSimcha})
	require.NoError(t, err)
	assert.Equal(t, "Bar mitzvah", o.Title)
	assert.Equal(t, "alice@example.org", o.SubmittedBy)
	assert.NotEmpty(t, o.ID)
}

func TestDelete_OwnerOrAdmin(t *testing.T) {
	r := newRepo(t)

	mine, err := r.Add(ctx, alice, models.CommunityOccasion{Title: "Yahrzeit", Date: repotest.Now, Kind: models.OccasionYahrzeit})
	require.NoError(t, err)
	other, err := r.Add(ctx, alice, models.CommunityOccasion{Title: "Birthday", Date: repotest.Now})
	require.NoError(t, err)

	require.ErrorIs(t, r.Delete(ctx, bob, mine.ID), common.ErrNotOwner)
	require.NoError(t, r.Delete(ctx, repotest.Actor("alice@example.org", "Alice"), mine.ID))
	require.NoError(t, r.Delete(ctx, admin, other.ID))
	require.ErrorIs(t, r.Delete(ctx, admin, other.ID), common.ErrNotFound)
}

func TestFetchAndSubscribe_DateAscending(t *testing.T) {
	r := newRepo(t)
	for _, days := range []int{10, 2, 5} {
		_, err := r.Add(ctx, alice, models.CommunityOccasion{Title: "Day", Date: repotest.Now.AddDate(0, 0, days)})
		require.NoError(t, err)
	}

	items, err := r.FetchOnce(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Date.Before(items[1].Date))
	assert.True(t, items[1].Date.Before(items[2].Date))

	require.NoError(t, r.Subscribe(ctx, "calendar"))
	_, err = r.Add(ctx, bob, models.CommunityOccasion{Title: "Early", Date: repotest.Now})
	require.NoError(t, err)
	col := r.d.State.Occasions
	require.Eventually(t, func() bool { return col.Len() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Early", col.Items()[0].Title)
	r.Stop("calendar")
}
