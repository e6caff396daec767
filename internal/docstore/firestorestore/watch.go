package firestorestore

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"google.golang.org/api/iterator"
)

type result struct {
	snaps []docstore.Snapshot
	err   error
}

// snapshotWatcher adapts a query listener. The listener's Next cannot be
// interrupted by a per-call context, so an abandoned call is parked in
// pending and collected by the following Next.
type snapshotWatcher struct {
	collection string
	it         *firestore.QuerySnapshotIterator
	cancel     context.CancelFunc

	mu      sync.Mutex
	pending chan result
	once    sync.Once
	stopped chan struct{}
}

func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Watcher, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &snapshotWatcher{
		collection: q.Collection,
		it:         fq.Snapshots(lctx),
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}, nil
}

func (w *snapshotWatcher) Next(ctx context.Context) ([]docstore.Snapshot, error) {
	w.mu.Lock()
	ch := w.pending
	if ch == nil {
		ch = make(chan result, 1)
		w.pending = ch
		go func() {
			qs, err := w.it.Next()
			if err != nil {
				ch <- result{err: err}
				return
			}
			docs, err := qs.Documents.GetAll()
			ch <- result{snaps: toSnapshots(w.collection, docs), err: err}
		}()
	}
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.stopped:
		return nil, docstore.ErrWatcherStopped
	case r := <-ch:
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()
		if errors.Is(r.err, iterator.Done) || errors.Is(r.err, context.Canceled) {
			return nil, docstore.ErrWatcherStopped
		}
		return r.snaps, r.err
	}
}

func (w *snapshotWatcher) Stop() {
	w.once.Do(func() {
		close(w.stopped)
		w.cancel()
		w.it.Stop()
	})
}
