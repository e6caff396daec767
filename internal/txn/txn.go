// Package txn runs named, conditional single-document mutations against the
// document store and reports their outcome.
//
// Three idioms cover every competing write in the app:
//
//   - RunConditional: read the document, let a pure function validate the
//     current state and build the next one, write it. The store re-runs the
//     whole cycle when the document changes under it.
//   - ClaimIdentity: create a document at a deterministic id. Existence of
//     the document is the lock, so two claimants can never both succeed.
//   - Increment: a store-native atomic add, for counters that must never
//     lose an update.
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Mutation inspects the current document and returns the fields to merge
// into it, nil for no write, or a *common.Error to abort. It must be free of
// side effects: it may run several times.
type Mutation func(current docstore.Snapshot) (docstore.Fields, error)

// Check inspects the current document before a conditional delete.
type Check func(current docstore.Snapshot) error

type Coordinator struct {
	store   docstore.Store
	tracer  trace.Tracer
	metrics metrics.Recorder
	logger  logging.Logger
	now     func() time.Time
}

type Option func(*Coordinator)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp.Tracer("github.com/dmitrijs2005/kehilla/internal/txn") }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(store docstore.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		tracer:  otel.Tracer("github.com/dmitrijs2005/kehilla/internal/txn"),
		metrics: metrics.Nop(),
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "txn")
	return c
}

// Store exposes the underlying store for direct, non-conflicting writes.
func (c *Coordinator) Store() docstore.Store {
	return c.store
}

// RunConditional executes m against ref inside a store transaction.
// A missing document is passed to m with Exists=false; if m still returns
// fields the document is created.
func (c *Coordinator) RunConditional(ctx context.Context, name string, ref docstore.DocRef, m Mutation) error {
	ctx, span, start := c.begin(ctx, name, ref)
	attempts := 0

	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		fields, err := m(snap)
		if err != nil {
			return err
		}
		if fields == nil {
			return nil
		}
		if snap.Exists {
			return tx.Update(ref, fields)
		}
		return tx.Create(ref, fields)
	})

	err = docstore.Classify(err)
	c.end(ctx, span, name, ref, start, attempts, err)
	return err
}

// DeleteIf deletes ref inside a transaction once check accepts its current
// state. A missing document is reported as not found.
func (c *Coordinator) DeleteIf(ctx context.Context, name string, ref docstore.DocRef, check Check) error {
	ctx, span, start := c.begin(ctx, name, ref)
	attempts := 0

	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return common.ErrNotFound.WithMessage("%s not found", ref)
		}
		if check != nil {
			if err := check(snap); err != nil {
				return err
			}
		}
		return tx.Delete(ref)
	})

	err = docstore.Classify(err)
	c.end(ctx, span, name, ref, start, attempts, err)
	return err
}

// ClaimIdentity creates ref with fields unless it already exists, in which
// case conflict is returned.
func (c *Coordinator) ClaimIdentity(ctx context.Context, name string, ref docstore.DocRef, fields docstore.Fields, conflict *common.Error) error {
	ctx, span, start := c.begin(ctx, name, ref)

	err := c.store.Create(ctx, ref, fields)
	if docstore.IsAlreadyExists(err) {
		err = conflict.WithCause(err)
	} else {
		err = docstore.Classify(err)
	}

	c.end(ctx, span, name, ref, start, 1, err)
	return err
}

// Increment atomically adds amount to field. Non-positive and non-finite
// amounts are rejected before the store is contacted.
func (c *Coordinator) Increment(ctx context.Context, name string, ref docstore.DocRef, field string, amount float64) error {
	if !codec.Finite(amount) || amount <= 0 {
		return common.ErrInvalidAmount.WithMessage("increment of %v rejected", amount)
	}

	ctx, span, start := c.begin(ctx, name, ref)
	err := docstore.Classify(c.store.Increment(ctx, ref, field, amount))
	c.end(ctx, span, name, ref, start, 1, err)
	return err
}

func (c *Coordinator) begin(ctx context.Context, name string, ref docstore.DocRef) (context.Context, trace.Span, time.Time) {
	ctx, span := c.tracer.Start(ctx, "txn."+name, trace.WithAttributes(
		attribute.String("doc.collection", ref.Collection),
		attribute.String("doc.id", ref.ID),
	))
	return ctx, span, c.now()
}

func (c *Coordinator) end(ctx context.Context, span trace.Span, name string, ref docstore.DocRef, start time.Time, attempts int, err error) {
	defer span.End()

	outcome := Outcome(err)
	span.SetAttributes(attribute.Int("txn.attempts", attempts), attribute.String("txn.outcome", outcome))
	c.metrics.RecordTransaction(name, outcome, c.now().Sub(start))

	switch common.KindOf(err) {
	case "":
		if err == nil {
			c.logger.Debug(ctx, "transaction committed", "name", name, "doc", ref.String(), "attempts", attempts)
			return
		}
	case common.KindConflict, common.KindNotFound, common.KindValidation:
		span.SetStatus(otelcodes.Unset, string(common.ReasonOf(err)))
		c.logger.Info(ctx, "transaction rejected", "name", name, "doc", ref.String(), "reason", outcome)
		return
	}

	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	c.logger.Error(ctx, "transaction failed", "name", name, "doc", ref.String(), "error", err)
}

// Outcome is the metrics label for err.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ce *common.Error
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return string(ce.Reason)
		}
		return string(ce.Kind)
	}
	return "error"
}
