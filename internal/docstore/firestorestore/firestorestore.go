// Package firestorestore adapts Cloud Firestore to docstore.Store. Firestore
// already speaks the store's model (optimistic transactions, create-only
// writes, atomic increments, query listeners), so this is a thin mapping.
package firestorestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultMaxAttempts = 5

type Store struct {
	client      *firestore.Client
	maxAttempts int
	logger      logging.Logger
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates a Firestore client for projectID. When FIRESTORE_EMULATOR_HOST
// is set the client library connects to the emulator instead.
func Open(ctx context.Context, projectID string, clientOpts []option.ClientOption, opts ...Option) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return New(client, opts...), nil
}

func New(client *firestore.Client, opts ...Option) *Store {
	s := &Store{client: client, maxAttempts: DefaultMaxAttempts, logger: logging.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("module", "firestorestore")
	return s
}

func (s *Store) doc(ref docstore.DocRef) *firestore.DocumentRef {
	return s.client.Collection(ref.Collection).Doc(ref.ID)
}

func toSnapshot(ref docstore.DocRef, snap *firestore.DocumentSnapshot) docstore.Snapshot {
	if snap == nil || !snap.Exists() {
		return docstore.Snapshot{Ref: ref}
	}
	return docstore.Snapshot{
		Ref:        ref,
		Fields:     docstore.Fields(snap.Data()),
		Exists:     true,
		UpdateTime: snap.UpdateTime.UTC(),
	}
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	snap, err := s.doc(ref).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return toSnapshot(ref, snap), nil
}

func (s *Store) query(q docstore.Query) (firestore.Query, error) {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		op, err := operator(f.Op)
		if err != nil {
			return fq, err
		}
		fq = fq.WherePath(firestore.FieldPath(splitPath(f.Field)), op, f.Value)
	}
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderByPath(firestore.FieldPath(splitPath(o.Field)), dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	docs, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return toSnapshots(q.Collection, docs), nil
}

func toSnapshots(collection string, docs []*firestore.DocumentSnapshot) []docstore.Snapshot {
	out := make([]docstore.Snapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, toSnapshot(docstore.DocRef{Collection: collection, ID: d.Ref.ID}, d))
	}
	return out
}

func (s *Store) Create(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	data, err := prepare(f)
	if err != nil {
		return err
	}
	_, err = s.doc(ref).Create(ctx, data)
	return err
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	data, err := prepare(f)
	if err != nil {
		return err
	}
	_, err = s.doc(ref).Set(ctx, data)
	return err
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, f docstore.Fields) error {
	ups, err := updates(f)
	if err != nil {
		return err
	}
	_, err = s.doc(ref).Update(ctx, ups)
	return err
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	_, err := s.doc(ref).Delete(ctx)
	return err
}

func (s *Store) Increment(ctx context.Context, ref docstore.DocRef, field string, delta float64) error {
	_, err := s.doc(ref).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{field}, Value: firestore.Increment(delta)},
	})
	return err
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &tx{s: s, ftx: ftx})
	}, firestore.MaxAttempts(s.maxAttempts))
}

func (s *Store) Close() error {
	return s.client.Close()
}

type tx struct {
	s   *Store
	ftx *firestore.Transaction
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	snap, err := t.ftx.Get(t.s.doc(ref))
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return toSnapshot(ref, snap), nil
}

func (t *tx) Create(ref docstore.DocRef, f docstore.Fields) error {
	data, err := prepare(f)
	if err != nil {
		return err
	}
	return t.ftx.Create(t.s.doc(ref), data)
}

func (t *tx) Set(ref docstore.DocRef, f docstore.Fields) error {
	data, err := prepare(f)
	if err != nil {
		return err
	}
	return t.ftx.Set(t.s.doc(ref), data)
}

func (t *tx) Update(ref docstore.DocRef, f docstore.Fields) error {
	ups, err := updates(f)
	if err != nil {
		return err
	}
	return t.ftx.Update(t.s.doc(ref), ups)
}

func (t *tx) Delete(ref docstore.DocRef) error {
	return t.ftx.Delete(t.s.doc(ref))
}

var errEmptyUpdate = errors.New("update without fields")

// prepare normalizes f into values the Firestore client accepts.
func prepare(f docstore.Fields) (map[string]any, error) {
	nf, err := docstore.Normalize(f)
	if err != nil {
		return nil, docstore.InvalidArgument(err)
	}
	return map[string]any(nf), nil
}

// updates turns top-level fields into field-path updates, so keys are never
// parsed as dotted paths.
func updates(f docstore.Fields) ([]firestore.Update, error) {
	if len(f) == 0 {
		return nil, docstore.InvalidArgument(errEmptyUpdate)
	}
	nf, err := prepare(f)
	if err != nil {
		return nil, err
	}
	out := make([]firestore.Update, 0, len(nf))
	for k, v := range nf {
		out = append(out, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return out, nil
}

func operator(op docstore.Op) (string, error) {
	switch op {
	case docstore.OpEqual, docstore.OpLess, docstore.OpLessEqual, docstore.OpGreater, docstore.OpGreaterEqual, docstore.OpArrayContains:
		return string(op), nil
	}
	return "", docstore.InvalidArgument(fmt.Errorf("unsupported operator %q", op))
}

func splitPath(p string) []string {
	return strings.Split(p, ".")
}
