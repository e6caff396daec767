package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
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

type tx struct {
	s      *Store
	reads  map[docstore.DocRef]uint64
	writes []op
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return docstore.Snapshot{}, docstore.InvalidArgument(fmt.Errorf("read of %s after write", ref))
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.closed {
		return docstore.Snapshot{}, errClosed
	}

	if _, seen := t.reads[ref]; !seen {
		var v uint64
		if r, ok := t.s.docs[ref]; ok {
			v = r.version
		}
		t.reads[ref] = v
	}
	return t.s.snapshot(ref), nil
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

// RunTransaction retries fn while its read set is invalidated by concurrent
// writers, up to the configured number of attempts.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var last error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := &tx{s: s, reads: make(map[docstore.DocRef]uint64)}
		if err := fn(ctx, t); err != nil {
			return err
		}

		if s.beforeCommit != nil {
			s.beforeCommit()
		}

		colls, err := s.commit(t)
		if err == nil {
			for coll := range colls {
				s.hub.Publish(coll)
			}
			return nil
		}
		if !errors.Is(err, errConflict) {
			return err
		}
		last = err
	}
	return docstore.Aborted(s.maxAttempts, last)
}

func (s *Store) commit(t *tx) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}

	for ref, v := range t.reads {
		var cur uint64
		if r, ok := s.docs[ref]; ok {
			cur = r.version
		}
		if cur != v {
			return nil, errConflict
		}
	}

	// Stage every write first so a failing op leaves the store untouched.
	type staged struct {
		fields docstore.Fields
		exists bool
	}
	overlay := make(map[docstore.DocRef]staged)
	current := func(ref docstore.DocRef) staged {
		if st, ok := overlay[ref]; ok {
			return st
		}
		if r, ok := s.docs[ref]; ok {
			return staged{fields: r.fields, exists: true}
		}
		return staged{}
	}

	order := make([]docstore.DocRef, 0, len(t.writes))
	for _, w := range t.writes {
		cur := current(w.ref)
		switch w.kind {
		case opCreate:
			if cur.exists {
				return nil, docstore.AlreadyExists(w.ref)
			}
			overlay[w.ref] = staged{fields: w.fields, exists: true}
		case opSet:
			overlay[w.ref] = staged{fields: w.fields, exists: true}
		case opUpdate:
			if !cur.exists {
				return nil, docstore.NotFound(w.ref)
			}
			overlay[w.ref] = staged{fields: docstore.Merge(cur.fields, w.fields), exists: true}
		case opDelete:
			overlay[w.ref] = staged{}
		}
		order = append(order, w.ref)
	}

	normalized := make(map[docstore.DocRef]docstore.Fields, len(overlay))
	for ref, st := range overlay {
		if !st.exists {
			continue
		}
		nf, err := docstore.Normalize(st.fields)
		if err != nil {
			return nil, docstore.InvalidArgument(err)
		}
		normalized[ref] = nf
	}

	applied := make(map[docstore.DocRef]struct{}, len(order))
	colls := make(map[string]struct{})
	now := s.clock()
	for _, ref := range order {
		if _, done := applied[ref]; done {
			continue
		}
		applied[ref] = struct{}{}
		colls[ref.Collection] = struct{}{}

		if !overlay[ref].exists {
			delete(s.docs, ref)
			continue
		}
		s.docs[ref] = &record{fields: normalized[ref], version: s.nextVersion(), updated: now}
	}
	return colls, nil
}
