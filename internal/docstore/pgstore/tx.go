package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/dbx"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
)

const selectForUpdate = selectOne + ` FOR UPDATE`

// tx executes statements immediately inside the surrounding SQL
// transaction.
type tx struct {
	ctx   context.Context
	q     dbx.DBTX
	now   time.Time
	colls map[string]struct{}
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	return getOne(t.ctx, t.q, selectForUpdate, ref)
}

func (t *tx) Create(ref docstore.DocRef, f docstore.Fields) error {
	t.colls[ref.Collection] = struct{}{}
	return create(t.ctx, t.q, ref, f, t.now)
}

func (t *tx) Set(ref docstore.DocRef, f docstore.Fields) error {
	t.colls[ref.Collection] = struct{}{}
	return set(t.ctx, t.q, ref, f, t.now)
}

func (t *tx) Update(ref docstore.DocRef, f docstore.Fields) error {
	t.colls[ref.Collection] = struct{}{}
	return update(t.ctx, t.q, ref, f, t.now)
}

func (t *tx) Delete(ref docstore.DocRef) error {
	t.colls[ref.Collection] = struct{}{}
	if _, err := t.q.ExecContext(t.ctx, deleteDoc, ref.Collection, ref.ID); err != nil {
		return dbErr(err)
	}
	return nil
}

// RunTransaction runs fn in a serializable transaction, retrying on
// serialization failures until the retry policy is spent.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := s.check(); err != nil {
		return err
	}

	var colls map[string]struct{}
	attempts := 0
	err := dbx.WithRetryTx(ctx, s.db, s.policy, func(n int) { attempts = n }, func(ctx context.Context, q dbx.DBTX) error {
		t := &tx{ctx: ctx, q: q, now: s.clock(), colls: make(map[string]struct{})}
		colls = t.colls
		return fn(ctx, t)
	})
	if errors.Is(err, dbx.ErrRetriesExhausted) {
		return docstore.Aborted(attempts, err)
	}
	if err != nil {
		return err
	}

	for coll := range colls {
		s.hub.Publish(coll)
	}
	return nil
}
