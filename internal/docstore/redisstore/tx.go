package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

var errConflict = errors.New("read set changed before commit")

type opKind int

const (
	opCreate opKind = iota
	opSet
	opUpdate
	opDelete
)

type op struct {
	kind   opKind
	ref    docstore.DocRef
	fields docstore.Fields
}

// tx records the raw value of every document it reads; nil means absent.
type tx struct {
	s      *Store
	ctx    context.Context
	reads  map[docstore.DocRef][]byte
	writes []op
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return docstore.Snapshot{}, docstore.InvalidArgument(fmt.Errorf("read of %s after write", ref))
	}
	raw, err := t.s.client.Get(t.ctx, t.s.docKey(ref)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		raw = nil
	case err != nil:
		return docstore.Snapshot{}, wrap(err)
	}
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = raw
	}
	if raw == nil {
		return docstore.Snapshot{Ref: ref}, nil
	}
	return t.s.snapshot(ref, raw)
}

func (t *tx) Create(ref docstore.DocRef, f docstore.Fields) error {
	t.writes = append(t.writes, op{kind: opCreate, ref: ref, fields: f})
	return nil
}

func (t *tx) Set(ref docstore.DocRef, f docstore.Fields) error {
	t.writes = append(t.writes, op{kind: opSet, ref: ref, fields: f})
	return nil
}

func (t *tx) Update(ref docstore.DocRef, f docstore.Fields) error {
	t.writes = append(t.writes, op{kind: opUpdate, ref: ref, fields: f})
	return nil
}

func (t *tx) Delete(ref docstore.DocRef) error {
	t.writes = append(t.writes, op{kind: opDelete, ref: ref})
	return nil
}

// RunTransaction re-runs fn with exponential backoff while its read set is
// invalidated by concurrent writers.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := s.check(); err != nil {
		return err
	}

	var last error
	err := retry.Do(ctx, s.retryBackoff(), func(ctx context.Context) error {
		t := &tx{s: s, ctx: ctx, reads: make(map[docstore.DocRef][]byte)}
		if err := fn(ctx, t); err != nil {
			return err
		}
		err := s.commit(ctx, t)
		if errors.Is(err, errConflict) || errors.Is(err, redis.TxFailedErr) {
			last = err
			return retry.RetryableError(err)
		}
		return err
	})

	if last != nil && (errors.Is(err, errConflict) || errors.Is(err, redis.TxFailedErr)) {
		return docstore.Aborted(s.maxAttempts, last)
	}
	return err
}

type staged struct {
	fields docstore.Fields
	exists bool
}

func (s *Store) commit(ctx context.Context, t *tx) error {
	if len(t.writes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(t.reads)+len(t.writes))
	for ref := range t.reads {
		keys = append(keys, s.docKey(ref))
	}
	for _, w := range t.writes {
		keys = append(keys, s.docKey(w.ref))
	}

	return s.client.Watch(ctx, func(rtx *redis.Tx) error {
		current := make(map[docstore.DocRef][]byte)
		load := func(ref docstore.DocRef) ([]byte, error) {
			if raw, ok := current[ref]; ok {
				return raw, nil
			}
			raw, err := rtx.Get(ctx, s.docKey(ref)).Bytes()
			if errors.Is(err, redis.Nil) {
				raw, err = nil, nil
			}
			if err != nil {
				return nil, wrap(err)
			}
			current[ref] = raw
			return raw, nil
		}

		for ref, seen := range t.reads {
			raw, err := load(ref)
			if err != nil {
				return err
			}
			if string(raw) != string(seen) || (raw == nil) != (seen == nil) {
				return errConflict
			}
		}

		overlay := make(map[docstore.DocRef]staged)
		state := func(ref docstore.DocRef) (staged, error) {
			if st, ok := overlay[ref]; ok {
				return st, nil
			}
			raw, err := load(ref)
			if err != nil || raw == nil {
				return staged{}, err
			}
			f, _, err := decode(raw)
			if err != nil {
				return staged{}, docstore.InvalidArgument(err)
			}
			return staged{fields: f, exists: true}, nil
		}

		order := make([]docstore.DocRef, 0, len(t.writes))
		for _, w := range t.writes {
			cur, err := state(w.ref)
			if err != nil {
				return err
			}
			switch w.kind {
			case opCreate:
				if cur.exists {
					return docstore.AlreadyExists(w.ref)
				}
				overlay[w.ref] = staged{fields: w.fields, exists: true}
			case opSet:
				overlay[w.ref] = staged{fields: w.fields, exists: true}
			case opUpdate:
				if !cur.exists {
					return docstore.NotFound(w.ref)
				}
				overlay[w.ref] = staged{fields: docstore.Merge(cur.fields, w.fields), exists: true}
			case opDelete:
				overlay[w.ref] = staged{}
			}
			order = append(order, w.ref)
		}

		now := s.clock()
		encoded := make(map[docstore.DocRef][]byte, len(overlay))
		for ref, st := range overlay {
			if !st.exists {
				continue
			}
			raw, err := encode(st.fields, now)
			if err != nil {
				return docstore.InvalidArgument(err)
			}
			encoded[ref] = raw
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			written := make(map[docstore.DocRef]struct{}, len(order))
			for _, ref := range order {
				if _, done := written[ref]; done {
					continue
				}
				written[ref] = struct{}{}

				if raw, ok := encoded[ref]; ok {
					pipe.Set(ctx, s.docKey(ref), raw, 0)
					pipe.SAdd(ctx, s.colKey(ref.Collection), ref.ID)
				} else {
					pipe.Del(ctx, s.docKey(ref))
					pipe.SRem(ctx, s.colKey(ref.Collection), ref.ID)
				}
			}
			published := make(map[string]struct{})
			for _, ref := range order {
				if _, ok := published[ref.Collection]; ok {
					continue
				}
				published[ref.Collection] = struct{}{}
				pipe.Publish(ctx, s.changesChannel(), ref.Collection)
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return wrap(err)
		}
		return err
	}, keys...)
}
