package docstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHub_PublishCoalesces(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("posts")
	defer unsub()

	h.Publish("posts")
	h.Publish("posts")
	h.Publish("seats")

	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	unsub()
	unsub()
	require.Equal(t, 0, h.Watchers("posts"))
}

func TestPollWatcher_InitialThenOnSignal(t *testing.T) {
	h := NewHub()
	var calls atomic.Int32
	fetch := func(ctx context.Context, q Query) ([]Snapshot, error) {
		n := calls.Add(1)
		return []Snapshot{snap(q.Collection, string(rune('a'+n-1)), Fields{})}, nil
	}

	w := NewPollWatcher(h, Query{Collection: "seats"}, fetch)
	defer w.Stop()

	first, err := w.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(first))

	h.Publish("seats")
	second, err := w.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids(second))
}

func TestPollWatcher_StopAndCancel(t *testing.T) {
	h := NewHub()
	fetch := func(ctx context.Context, q Query) ([]Snapshot, error) { return nil, nil }

	w := NewPollWatcher(h, Query{Collection: "seats"}, fetch)
	_, err := w.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := w.Next(context.Background())
		done <- err
	}()
	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrWatcherStopped)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Stop")
	}
	require.Equal(t, 0, h.Watchers("seats"))
}
