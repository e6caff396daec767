package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSub struct{ canceled int }

func (f *fakeSub) Cancel() { f.canceled++ }

func TestRegistry_StartReplacesPrior(t *testing.T) {
	r := NewRegistry()
	key := Key{Feed: "posts/newest", Screen: "feed"}

	a := &fakeSub{}
	require.NoError(t, r.Start(key, func() (Canceler, error) { return a, nil }))

	b := &fakeSub{}
	require.NoError(t, r.Start(key, func() (Canceler, error) {
		require.Equal(t, 1, a.canceled, "prior subscription must be canceled before the new one starts")
		return b, nil
	}))
	require.Equal(t, 0, b.canceled)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_StartErrorLeavesSlotEmpty(t *testing.T) {
	r := NewRegistry()
	key := Key{Feed: "seats", Screen: "seating"}
	a := &fakeSub{}
	require.NoError(t, r.Start(key, func() (Canceler, error) { return a, nil }))

	err := r.Start(key, func() (Canceler, error) { return nil, errors.New("offline") })
	require.Error(t, err)
	require.False(t, r.Active(key))
	require.Equal(t, 1, a.canceled)
}

func TestRegistry_StopIdempotent(t *testing.T) {
	r := NewRegistry()
	key := Key{Feed: "seats", Screen: "seating"}

	r.Stop(key)

	a := &fakeSub{}
	require.NoError(t, r.Start(key, func() (Canceler, error) { return a, nil }))
	r.Stop(key)
	r.Stop(key)
	require.Equal(t, 1, a.canceled)
}

func TestRegistry_StopScreenAndAll(t *testing.T) {
	r := NewRegistry()
	a, b, c := &fakeSub{}, &fakeSub{}, &fakeSub{}
	require.NoError(t, r.Start(Key{"posts/newest", "feed"}, func() (Canceler, error) { return a, nil }))
	require.NoError(t, r.Start(Key{"users", "feed"}, func() (Canceler, error) { return b, nil }))
	require.NoError(t, r.Start(Key{"seats", "seating"}, func() (Canceler, error) { return c, nil }))

	r.StopScreen("feed")
	require.Equal(t, 1, a.canceled)
	require.Equal(t, 1, b.canceled)
	require.Equal(t, 0, c.canceled)

	r.StopAll()
	require.Equal(t, 1, c.canceled)
	require.Equal(t, 0, r.Len())
}
