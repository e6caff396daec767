// Package repositories holds what the entity repositories share: the
// injected dependencies, the cross-family collaborator interfaces and the
// helpers that bind a feed or a one-shot fetch to a mirror collection.
package repositories

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/auth"
	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/dispatch"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/metrics"
	"github.com/dmitrijs2005/kehilla/internal/mirror"
	"github.com/dmitrijs2005/kehilla/internal/txn"
)

// Actor is the signed-in member performing an operation.
type Actor = auth.Principal

// Authorizer answers admin questions. IsAdmin reads the local mirror and is
// meant for presentation; LookupAdmin reads the store and guards writes.
type Authorizer interface {
	IsAdmin(email string) bool
	LookupAdmin(ctx context.Context, email string) (bool, error)
}

// Pledger accumulates a member's pledged total.
type Pledger interface {
	IncrementPledge(ctx context.Context, email string, amount float64) error
}

// Deps is shared by every repository of one session.
type Deps struct {
	Txn      *txn.Coordinator
	State    *mirror.State
	Exec     dispatch.Executor
	Registry *feed.Registry
	Logger   logging.Logger
	Metrics  metrics.Recorder
	Now      func() time.Time

	// OnFeedError receives feed failures on Exec. The mirrored list keeps
	// its last contents.
	OnFeedError func(feedName string, err error)
}

// WithDefaults fills the optional fields.
func (d Deps) WithDefaults() Deps {
	if d.Exec == nil {
		d.Exec = dispatch.Immediate{}
	}
	if d.Registry == nil {
		d.Registry = feed.NewRegistry()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.State == nil {
		d.State = mirror.New()
	}
	return d
}

// Store is the underlying document store.
func (d Deps) Store() docstore.Store {
	return d.Txn.Store()
}

func (d Deps) feedOptions() []feed.Option {
	return []feed.Option{feed.WithLogger(d.Logger), feed.WithMetrics(d.Metrics)}
}

func (d Deps) onError(name string) func(error) {
	return func(err error) {
		if d.OnFeedError != nil {
			d.OnFeedError(name, err)
		}
	}
}

// Watch mirrors spec into col under key. A feed already occupying key is
// canceled first.
func Watch[T any](ctx context.Context, d Deps, key feed.Key, spec feed.Spec[T], col *mirror.Collection[T]) error {
	return d.Registry.Start(key, func() (feed.Canceler, error) {
		sub, err := feed.Mirror(ctx, d.Store(), spec, d.Exec, col, d.onError(spec.Name), d.feedOptions()...)
		if err != nil {
			return nil, err
		}
		return sub, nil
	})
}

// Fetch runs spec's query once, decodes and arranges the result and offers
// it to col. col keeps a live feed's contents if one is running.
func Fetch[T any](ctx context.Context, d Deps, spec feed.Spec[T], col *mirror.Collection[T]) ([]T, error) {
	snaps, err := d.Store().Query(ctx, spec.Query)
	if err != nil {
		return nil, docstore.Classify(err)
	}
	items, rejects := codec.DecodeAll(snaps, spec.Decode)
	for _, r := range rejects {
		d.Metrics.RecordDecodeReject(spec.Query.Collection)
		d.Logger.Debug(ctx, "dropped malformed document", "doc", r.Ref.String(), "error", r.Err)
	}
	if spec.Arrange != nil {
		items = spec.Arrange(items)
	}
	if col != nil {
		col.Store(items)
	}
	return items, nil
}

// Get reads and decodes a single document. A missing document is reported
// as not found.
func Get[T any](ctx context.Context, d Deps, ref docstore.DocRef, decode codec.DecodeFunc[T]) (T, error) {
	var zero T
	snap, err := d.Store().Get(ctx, ref)
	if err != nil {
		return zero, docstore.Classify(err)
	}
	v, ok, err := codec.DecodeOne(snap, decode)
	if !ok {
		return zero, notFound(ref)
	}
	if err != nil {
		d.Metrics.RecordDecodeReject(ref.Collection)
		return zero, invalidDocument(ref, err)
	}
	return v, nil
}
