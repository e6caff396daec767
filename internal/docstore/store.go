package docstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields is the dynamic field map of a document.
type Fields map[string]any

// DocRef addresses one document.
type DocRef struct {
	Collection string
	ID         string
}

func (r DocRef) String() string {
	return r.Collection + "/" + r.ID
}

// Snapshot is a point-in-time read of a document. A missing document is
// reported with Exists=false and nil Fields.
type Snapshot struct {
	Ref        DocRef
	Fields     Fields
	Exists     bool
	UpdateTime time.Time
}

// Op is a filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query to documents whose Field satisfies Op Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts query results by Field.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

// Where returns a copy of q with an extra filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy returns a copy of q with an extra ordering.
func (q Query) OrderBy(field string, desc bool) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Field: field, Desc: desc})
	return q
}

// Tx is the handle passed to transaction functions. All reads should happen
// before the first write.
type Tx interface {
	Get(ref DocRef) (Snapshot, error)
	Create(ref DocRef, f Fields) error
	Set(ref DocRef, f Fields) error
	Update(ref DocRef, f Fields) error
	Delete(ref DocRef) error
}

// Store is a remote document store.
type Store interface {
	Get(ctx context.Context, ref DocRef) (Snapshot, error)
	Query(ctx context.Context, q Query) ([]Snapshot, error)

	// Create writes f only if ref does not exist yet (codes.AlreadyExists).
	Create(ctx context.Context, ref DocRef, f Fields) error
	Set(ctx context.Context, ref DocRef, f Fields) error
	// Update merges f into an existing document (codes.NotFound).
	Update(ctx context.Context, ref DocRef, f Fields) error
	// Delete is idempotent.
	Delete(ctx context.Context, ref DocRef) error
	// Increment atomically adds delta to a numeric field of an existing
	// document.
	Increment(ctx context.Context, ref DocRef, field string, delta float64) error

	// RunTransaction runs fn with optimistic concurrency, re-running it when a
	// document it read changes before commit. fn must be free of side effects
	// other than calls on tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Watch starts a change feed for q.
	Watch(ctx context.Context, q Query) (Watcher, error)

	Close() error
}

// Watcher yields full result sets of a query as they change.
type Watcher interface {
	// Next blocks until the next snapshot set. The first call returns the
	// current contents.
	Next(ctx context.Context) ([]Snapshot, error)
	// Stop releases the feed. It is safe to call more than once.
	Stop()
}

// NewID returns a random document id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
