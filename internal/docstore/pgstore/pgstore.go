// Package pgstore is a docstore.Store on PostgreSQL. Documents live in one
// jsonb table keyed by (collection, id); transactions run serializable and
// are retried on serialization failures; LISTEN/NOTIFY drives change feeds.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/dbx"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/docstore/pgstore/migrations"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Channel is the NOTIFY channel the documents trigger publishes on.
const Channel = "document_changes"

const codeUniqueViolation = "23505"

type Store struct {
	db     *sql.DB
	owned  bool
	hub    *docstore.Hub
	policy dbx.RetryPolicy
	clock  func() time.Time
	logger logging.Logger

	listenCancel context.CancelFunc
	listenDone   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Store)

func WithRetryPolicy(p dbx.RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.policy.Attempts = uint64(n)
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// Open connects to dsn, applies migrations and starts listening for
// changes. The returned Store owns the connection pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	s := New(db, opts...)
	s.owned = true

	lctx, cancel := context.WithCancel(context.Background())
	s.listenCancel = cancel
	s.listenDone = make(chan struct{})
	go s.listen(lctx, dsn)

	return s, nil
}

// New wraps db without listening for remote changes: watchers only see
// writes made through this Store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		hub:    docstore.NewHub(),
		policy: dbx.DefaultRetryPolicy,
		clock:  time.Now,
		logger: logging.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("module", "pgstore")
	return s
}

var errClosed = docstore.Unavailable(errors.New("pgstore closed"))

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func dbErr(err error) error {
	return fmt.Errorf("db error: %w", err)
}

func encode(f docstore.Fields) ([]byte, error) {
	nf, err := docstore.Normalize(f)
	if err != nil {
		return nil, docstore.InvalidArgument(err)
	}
	b, err := json.Marshal(docstore.ToPortable(nf))
	if err != nil {
		return nil, docstore.InvalidArgument(err)
	}
	return b, nil
}

func decode(raw []byte) (docstore.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return docstore.FromPortable(m), nil
}

const (
	selectOne = `SELECT fields, updated_at FROM documents WHERE collection = $1 AND id = $2`
	selectAll = `SELECT id, fields, updated_at FROM documents WHERE collection = $1`
	insertDoc = `INSERT INTO documents (collection, id, fields, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)`
	upsertDoc = `INSERT INTO documents (collection, id, fields, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (collection, id) DO UPDATE
		SET fields = EXCLUDED.fields, version = documents.version + 1, updated_at = EXCLUDED.updated_at`
	mergeDoc = `UPDATE documents SET fields = fields || $3::jsonb, version = version + 1, updated_at = $4
		WHERE collection = $1 AND id = $2`
	deleteDoc    = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	incrementDoc = `UPDATE documents
		SET fields = jsonb_set(fields, ARRAY[$3::text], to_jsonb(COALESCE((fields ->> $3::text)::numeric, 0) + $4::numeric)),
		    version = version + 1, updated_at = $5
		WHERE collection = $1 AND id = $2`
)

func getOne(ctx context.Context, q dbx.DBTX, query string, ref docstore.DocRef) (docstore.Snapshot, error) {
	var raw []byte
	var updated time.Time
	err := q.QueryRowContext(ctx, query, ref.Collection, ref.ID).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, dbErr(err)
	}
	f, err := decode(raw)
	if err != nil {
		return docstore.Snapshot{}, docstore.InvalidArgument(err)
	}
	return docstore.Snapshot{Ref: ref, Fields: f, Exists: true, UpdateTime: updated.UTC()}, nil
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	if err := s.check(); err != nil {
		return docstore.Snapshot{}, err
	}
	return getOne(ctx, s.db, selectOne, ref)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectAll, q.Collection)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	all := make([]docstore.Snapshot, 0)
	for rows.Next() {
		var id string
		var raw []byte
		var updated time.Time
		if err := rows.Scan(&id, &raw, &updated); err != nil {
			return nil, dbErr(err)
		}
		ref := docstore.DocRef{Collection: q.Collection, ID: id}
		f, err := decode(raw)
		if err != nil {
			s.logger.Warn(ctx, "undecodable document skipped", "doc", ref.String(), "error", err)
			continue
		}
		all = append(all, docstore.Snapshot{Ref: ref, Fields: f, Exists: true, UpdateTime: updated.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return docstore.Apply(q, all), nil
}

func (s *Store) Create(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := create(ctx, s.db, ref, f, s.clock()); err != nil {
		return err
	}
	s.hub.Publish(ref.Collection)
	return nil
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := set(ctx, s.db, ref, f, s.clock()); err != nil {
		return err
	}
	s.hub.Publish(ref.Collection)
	return nil
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := update(ctx, s.db, ref, f, s.clock()); err != nil {
		return err
	}
	s.hub.Publish(ref.Collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, deleteDoc, ref.Collection, ref.ID); err != nil {
		return dbErr(err)
	}
	s.hub.Publish(ref.Collection)
	return nil
}

// Increment is a single UPDATE; the row lock makes concurrent increments
// serialize without a transaction retry.
func (s *Store) Increment(ctx context.Context, ref docstore.DocRef, field string, delta float64) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, incrementDoc, ref.Collection, ref.ID, field, delta, s.clock())
	if err != nil {
		return dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if n == 0 {
		return docstore.NotFound(ref)
	}
	s.hub.Publish(ref.Collection)
	return nil
}

func create(ctx context.Context, q dbx.DBTX, ref docstore.DocRef, f docstore.Fields, now time.Time) error {
	b, err := encode(f)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, insertDoc, ref.Collection, ref.ID, b, now)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return docstore.AlreadyExists(ref)
	}
	if err != nil {
		return dbErr(err)
	}
	return nil
}

func set(ctx context.Context, q dbx.DBTX, ref docstore.DocRef, f docstore.Fields, now time.Time) error {
	b, err := encode(f)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, upsertDoc, ref.Collection, ref.ID, b, now); err != nil {
		return dbErr(err)
	}
	return nil
}

func update(ctx context.Context, q dbx.DBTX, ref docstore.DocRef, f docstore.Fields, now time.Time) error {
	b, err := encode(f)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, mergeDoc, ref.Collection, ref.ID, b, now)
	if err != nil {
		return dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if n == 0 {
		return docstore.NotFound(ref)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Watcher, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return docstore.NewPollWatcher(s.hub, q, s.Query), nil
}

// Close stops the listener and, for stores created by Open, closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.listenCancel != nil {
		s.listenCancel()
		<-s.listenDone
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}
