// Package redisstore is a docstore.Store on Redis. Each document is a string
// key holding a protobuf-encoded envelope, each collection a set of ids.
// Transactions are optimistic: reads are recorded, then revalidated under
// WATCH and committed with MULTI/EXEC. Change signals travel over a pub/sub
// channel so watchers in every process see each commit.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const DefaultMaxAttempts = 5

type Store struct {
	client      redis.UniversalClient
	owned       bool
	prefix      string
	hub         *docstore.Hub
	clock       func() time.Time
	maxAttempts int
	backoff     time.Duration
	logger      logging.Logger

	pubsub *redis.PubSub
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Store)

// WithPrefix namespaces every key and the change channel.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between transaction attempts.
func WithBackoff(d time.Duration) Option {
	return func(s *Store) { s.backoff = d }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects to url and returns a Store that owns the client.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)

	s, err := New(ctx, client, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(ctx context.Context, client redis.UniversalClient, opts ...Option) (*Store, error) {
	s := &Store{
		client:      client,
		prefix:      "kehilla:",
		hub:         docstore.NewHub(),
		clock:       time.Now,
		maxAttempts: DefaultMaxAttempts,
		backoff:     5 * time.Millisecond,
		logger:      logging.NewNop(),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("module", "redisstore")

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s.pubsub = client.Subscribe(ctx, s.changesChannel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}
	go s.relay()

	return s, nil
}

func (s *Store) docKey(ref docstore.DocRef) string {
	return s.prefix + "doc:" + ref.Collection + ":" + ref.ID
}

func (s *Store) colKey(collection string) string {
	return s.prefix + "col:" + collection
}

func (s *Store) changesChannel() string {
	return s.prefix + "changes"
}

// relay forwards change messages into the local hub until Close.
func (s *Store) relay() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		s.hub.Publish(msg.Payload)
	}
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

var errClosed = docstore.Unavailable(errors.New("redisstore closed"))

// wrap maps client failures onto store status errors.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return docstore.Unavailable(err)
}

func (s *Store) snapshot(ref docstore.DocRef, raw []byte) (docstore.Snapshot, error) {
	f, updated, err := decode(raw)
	if err != nil {
		return docstore.Snapshot{}, docstore.InvalidArgument(err)
	}
	return docstore.Snapshot{Ref: ref, Fields: f, Exists: true, UpdateTime: updated}, nil
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	if err := s.check(); err != nil {
		return docstore.Snapshot{}, err
	}
	raw, err := s.client.Get(ctx, s.docKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, wrap(err)
	}
	return s.snapshot(ref, raw)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.colKey(q.Collection)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if len(ids) == 0 {
		return []docstore.Snapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(docstore.DocRef{Collection: q.Collection, ID: id})
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap(err)
	}

	all := make([]docstore.Snapshot, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Removed between SMEMBERS and MGET.
			continue
		}
		ref := docstore.DocRef{Collection: q.Collection, ID: ids[i]}
		snap, err := s.snapshot(ref, []byte(raw))
		if err != nil {
			s.logger.Warn(ctx, "undecodable document skipped", "doc", ref.String(), "error", err)
			continue
		}
		all = append(all, snap)
	}
	return docstore.Apply(q, all), nil
}

func (s *Store) Create(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	return s.single(ctx, func(tx docstore.Tx) error { return tx.Create(ref, f) })
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	return s.single(ctx, func(tx docstore.Tx) error { return tx.Set(ref, f) })
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	return s.single(ctx, func(tx docstore.Tx) error { return tx.Update(ref, f) })
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	return s.single(ctx, func(tx docstore.Tx) error { return tx.Delete(ref) })
}

func (s *Store) Increment(ctx context.Context, ref docstore.DocRef, field string, delta float64) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return docstore.NotFound(ref)
		}
		base, _ := toFloat(snap.Fields[field])
		return tx.Update(ref, docstore.Fields{field: base + delta})
	})
}

func (s *Store) single(ctx context.Context, fn func(tx docstore.Tx) error) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error { return fn(tx) })
}

func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Watcher, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return docstore.NewPollWatcher(s.hub, q, s.Query), nil
}

// Close stops the change relay and, for stores created by Open, closes
// the client.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.pubsub.Close()
	<-s.done
	if s.owned {
		err = errors.Join(err, s.client.Close())
	}
	return err
}

func (s *Store) retryBackoff() retry.Backoff {
	b := retry.NewExponential(s.backoff)
	b = retry.WithCappedDuration(20*s.backoff, b)
	return retry.WithMaxRetries(uint64(s.maxAttempts-1), b)
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
