// Package feed keeps local state in sync with server-pushed change feeds.
//
// A subscription reads full snapshot sets from a docstore.Watcher, decodes
// every document (dropping the malformed ones), arranges the survivors and
// hands the whole list to a handler on the caller supplied executor.
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/dispatch"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/metrics"
	"github.com/dmitrijs2005/kehilla/internal/mirror"
)

// Spec describes one feed.
type Spec[T any] struct {
	// Name labels logs and metrics, e.g. "posts/newest".
	Name    string
	Query   docstore.Query
	Decode  codec.DecodeFunc[T]
	Arrange func([]T) []T

	// Refresh, when set, is called once per subscription. Every signal on
	// the returned channel re-arranges the last decoded set and delivers it
	// again. The returned func stops the signals.
	Refresh func() (<-chan struct{}, func())
}

// Handler receives deliveries on the executor.
type Handler[T any] struct {
	OnUpdate func(items []T)
	OnError  func(err error)
}

type options struct {
	logger  logging.Logger
	metrics metrics.Recorder
}

type Option func(*options)

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// Subscription is a running feed.
type Subscription struct {
	name     string
	cancel   context.CancelFunc
	release  func()
	done     chan struct{}
	once     sync.Once
	canceled atomic.Bool

	mu            sync.Mutex
	lastDelivered uint64
}

// Subscribe starts the feed. The first delivery carries the current
// contents.
func Subscribe[T any](ctx context.Context, store docstore.Store, spec Spec[T], exec dispatch.Executor, h Handler[T], opts ...Option) (*Subscription, error) {
	return subscribe(ctx, store, spec, exec, h, nil, opts...)
}

// Mirror subscribes spec into col. It claims col first, so any earlier
// writer is revoked before the new feed starts, and releases it when the
// subscription ends.
func Mirror[T any](ctx context.Context, store docstore.Store, spec Spec[T], exec dispatch.Executor, col *mirror.Collection[T], onError func(error), opts ...Option) (*Subscription, error) {
	w := col.Claim()
	h := Handler[T]{
		OnUpdate: func(items []T) { w.Replace(items) },
		OnError:  onError,
	}
	sub, err := subscribe(ctx, store, spec, exec, h, w.Release, opts...)
	if err != nil {
		w.Release()
		return nil, err
	}
	return sub, nil
}

func subscribe[T any](ctx context.Context, store docstore.Store, spec Spec[T], exec dispatch.Executor, h Handler[T], release func(), opts ...Option) (*Subscription, error) {
	o := options{logger: logging.NewNop(), metrics: metrics.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	if exec == nil {
		exec = dispatch.Immediate{}
	}
	if release == nil {
		release = func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	w, err := store.Watch(ctx, spec.Query)
	if err != nil {
		cancel()
		return nil, common.ErrFeed.WithMessage("feed %s", spec.Name).WithCause(docstore.Classify(err))
	}

	s := &Subscription{
		name:    spec.Name,
		cancel:  cancel,
		release: release,
		done:    make(chan struct{}),
	}
	go run(ctx, s, w, spec, exec, h, o)
	return s, nil
}

type batch struct {
	snaps []docstore.Snapshot
	err   error
}

// pump forwards watcher results until an error or ctx ends.
func pump(ctx context.Context, w docstore.Watcher, out chan<- batch) {
	defer close(out)
	for {
		snaps, err := w.Next(ctx)
		select {
		case out <- batch{snaps: snaps, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func run[T any](ctx context.Context, s *Subscription, w docstore.Watcher, spec Spec[T], exec dispatch.Executor, h Handler[T], o options) {
	defer close(s.done)
	defer w.Stop()

	batches := make(chan batch)
	go pump(ctx, w, batches)
	// pump must leave Next before the watcher is stopped.
	defer func() {
		s.finish()
		for range batches {
		}
	}()

	var refresh <-chan struct{}
	if spec.Refresh != nil {
		ch, stop := spec.Refresh()
		defer stop()
		refresh = ch
	}

	log := o.logger.With("feed", spec.Name)
	var (
		seq  uint64
		last []T
		have bool
	)

	publish := func() {
		items := append([]T(nil), last...)
		if spec.Arrange != nil {
			items = spec.Arrange(items)
		}
		o.metrics.RecordFeedDelivery(spec.Name, len(items))

		seq++
		n := seq
		exec.Submit(func() { s.deliver(n, func() { h.OnUpdate(items) }) })
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh:
			if have {
				publish()
			}
		case b, ok := <-batches:
			if !ok {
				return
			}
			if b.err != nil {
				if ctx.Err() != nil || errors.Is(b.err, docstore.ErrWatcherStopped) {
					return
				}
				o.metrics.RecordFeedError(spec.Name)
				log.Error(ctx, "feed failed", "error", b.err)

				ferr := common.ErrFeed.WithMessage("feed %s", spec.Name).WithCause(docstore.Classify(b.err))
				exec.Submit(func() {
					if !s.canceled.Load() && h.OnError != nil {
						h.OnError(ferr)
					}
				})
				return
			}

			items, rejects := codec.DecodeAll(b.snaps, spec.Decode)
			for _, r := range rejects {
				o.metrics.RecordDecodeReject(spec.Query.Collection)
				log.Debug(ctx, "dropped malformed document", "doc", r.Ref.String(), "error", r.Err)
			}
			last, have = items, true
			publish()
		}
	}
}

// deliver runs fn unless the subscription was canceled or a fresher
// delivery already ran.
func (s *Subscription) deliver(seq uint64, fn func()) {
	if s.canceled.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastDelivered {
		return
	}
	s.lastDelivered = seq
	fn()
}

// Cancel stops the feed. It is idempotent; once it returns no further
// update reaches the handler's mirror collection.
func (s *Subscription) Cancel() {
	s.canceled.Store(true)
	s.finish()
}

func (s *Subscription) finish() {
	s.once.Do(func() {
		s.cancel()
		s.release()
	})
}

// Done is closed when the feed goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Name is the feed label.
func (s *Subscription) Name() string {
	return s.name
}
