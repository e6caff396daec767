package codec

import (
	"github.com/dmitrijs2005/kehilla/internal/docstore"
)

// DecodeFunc decodes one document.
type DecodeFunc[T any] func(id string, f docstore.Fields) (T, error)

// Reject records a document dropped by DecodeAll.
type Reject struct {
	Ref docstore.DocRef
	Err error
}

// DecodeAll decodes every existing snapshot and returns the successes in
// input order together with the rejects.
func DecodeAll[T any](snaps []docstore.Snapshot, decode DecodeFunc[T]) ([]T, []Reject) {
	out := make([]T, 0, len(snaps))
	var rejects []Reject
	for _, s := range snaps {
		if !s.Exists {
			continue
		}
		v, err := decode(s.Ref.ID, s.Fields)
		if err != nil {
			rejects = append(rejects, Reject{Ref: s.Ref, Err: err})
			continue
		}
		out = append(out, v)
	}
	return out, rejects
}

// DecodeOne decodes a single snapshot; a missing document is reported by
// ok=false.
func DecodeOne[T any](s docstore.Snapshot, decode DecodeFunc[T]) (v T, ok bool, err error) {
	if !s.Exists {
		return v, false, nil
	}
	v, err = decode(s.Ref.ID, s.Fields)
	if err != nil {
		return v, true, err
	}
	return v, true, nil
}
