package docstore

import (
	"context"
	"sync"
)

// Fetcher runs a query once.
type Fetcher func(ctx context.Context, q Query) ([]Snapshot, error)

// PollWatcher turns hub signals into full snapshot sets by re-running the
// query after each change of the collection.
type PollWatcher struct {
	q       Query
	fetch   Fetcher
	signal  <-chan struct{}
	unsub   func()
	stopped chan struct{}
	once    sync.Once
	started bool
}

// NewPollWatcher subscribes to hub immediately so no change between the
// initial read and the first wait is lost.
func NewPollWatcher(hub *Hub, q Query, fetch Fetcher) *PollWatcher {
	signal, unsub := hub.Subscribe(q.Collection)
	return &PollWatcher{
		q:       q,
		fetch:   fetch,
		signal:  signal,
		unsub:   unsub,
		stopped: make(chan struct{}),
	}
}

func (w *PollWatcher) Next(ctx context.Context) ([]Snapshot, error) {
	select {
	case <-w.stopped:
		return nil, ErrWatcherStopped
	default:
	}

	if !w.started {
		w.started = true
		return w.fetch(ctx, w.q)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.stopped:
		return nil, ErrWatcherStopped
	case <-w.signal:
		return w.fetch(ctx, w.q)
	}
}

func (w *PollWatcher) Stop() {
	w.once.Do(func() {
		w.unsub()
		close(w.stopped)
	})
}
