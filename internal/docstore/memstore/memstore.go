// Package memstore is an in-process docstore.Store with per-document
// versions and optimistic transactions. It backs the "memory" backend and
// the test suites of the packages above it.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
)

// DefaultMaxAttempts matches the retry budget of hosted document stores.
const DefaultMaxAttempts = 5

type record struct {
	fields  docstore.Fields
	version uint64
	updated time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	docs        map[docstore.DocRef]*record
	clock       func() time.Time
	hub         *docstore.Hub
	maxAttempts int
	closed      bool
	seq         uint64

	beforeCommit func()
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithBeforeCommit installs a hook run after a transaction function returns
// and before its commit is validated.
func WithBeforeCommit(fn func()) Option {
	return func(s *Store) { s.beforeCommit = fn }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[docstore.DocRef]*record),
		clock:       time.Now,
		hub:         docstore.NewHub(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var errClosed = docstore.Unavailable(errors.New("memstore closed"))

func (s *Store) snapshot(ref docstore.DocRef) docstore.Snapshot {
	r, ok := s.docs[ref]
	if !ok {
		return docstore.Snapshot{Ref: ref}
	}
	return docstore.Snapshot{Ref: ref, Fields: clone(r.fields), Exists: true, UpdateTime: r.updated}
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.Snapshot{}, errClosed
	}
	return s.snapshot(ref), nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	all := make([]docstore.Snapshot, 0)
	for ref := range s.docs {
		if ref.Collection == q.Collection {
			all = append(all, s.snapshot(ref))
		}
	}
	return docstore.Apply(q, all), nil
}

func (s *Store) Create(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	return s.write(ctx, ref, func(cur *record) (docstore.Fields, error) {
		if cur != nil {
			return nil, docstore.AlreadyExists(ref)
		}
		return f, nil
	})
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	return s.write(ctx, ref, func(*record) (docstore.Fields, error) { return f, nil })
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	return s.write(ctx, ref, func(cur *record) (docstore.Fields, error) {
		if cur == nil {
			return nil, docstore.NotFound(ref)
		}
		return docstore.Merge(cur.fields, f), nil
	})
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	_, existed := s.docs[ref]
	delete(s.docs, ref)
	s.mu.Unlock()

	if existed {
		s.hub.Publish(ref.Collection)
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, ref docstore.DocRef, field string, delta float64) error {
	return s.write(ctx, ref, func(cur *record) (docstore.Fields, error) {
		if cur == nil {
			return nil, docstore.NotFound(ref)
		}
		base, _ := toFloat(cur.fields[field])
		next := docstore.Merge(cur.fields, docstore.Fields{field: base + delta})
		return next, nil
	})
}

// write applies one atomic single-document mutation.
func (s *Store) write(ctx context.Context, ref docstore.DocRef, fn func(cur *record) (docstore.Fields, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	next, err := fn(s.docs[ref])
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.put(ref, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.hub.Publish(ref.Collection)
	return nil
}

// put must be called with mu held.
func (s *Store) put(ref docstore.DocRef, f docstore.Fields) error {
	nf, err := docstore.Normalize(f)
	if err != nil {
		return docstore.InvalidArgument(err)
	}
	s.docs[ref] = &record{fields: nf, version: s.nextVersion(), updated: s.clock()}
	return nil
}

// nextVersion must be called with mu held. Versions never repeat, so a
// deleted and recreated document never looks unchanged to a transaction.
func (s *Store) nextVersion() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Watcher, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errClosed
	}
	return docstore.NewPollWatcher(s.hub, q, s.Query), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func clone(f docstore.Fields) docstore.Fields {
	// Normalized values are immutable scalars, []any or map[string]any;
	// Normalize doubles as a deep copy.
	c, err := docstore.Normalize(f)
	if err != nil {
		return docstore.Merge(nil, f)
	}
	return c
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
