package docstore

import (
	"sort"
	"strings"
	"time"
)

// Apply evaluates q against snaps in memory: filters, ordering and limit.
// It is used by backends without server-side query support. Documents that
// lack an ordered field are excluded and ties fall back to document id.
func Apply(q Query, snaps []Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if !s.Exists || s.Ref.Collection != q.Collection {
			continue
		}
		if Match(q, s.Fields) {
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.Orders {
			a, _ := Lookup(out[i].Fields, o.Field)
			b, _ := Lookup(out[j].Fields, o.Field)
			c, ok := Compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Match reports whether f satisfies every filter of q and carries every
// ordered field.
func Match(q Query, f Fields) bool {
	for _, o := range q.Orders {
		if _, ok := Lookup(f, o.Field); !ok {
			return false
		}
	}
	for _, flt := range q.Filters {
		v, ok := Lookup(f, flt.Field)
		if !ok {
			return false
		}
		if !matchFilter(flt, v) {
			return false
		}
	}
	return true
}

func matchFilter(flt Filter, v any) bool {
	if flt.Op == OpArrayContains {
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range list {
			if c, ok := Compare(e, flt.Value); ok && c == 0 {
				return true
			}
		}
		return false
	}

	c, ok := Compare(v, flt.Value)
	if !ok {
		return false
	}
	switch flt.Op {
	case OpEqual:
		return c == 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// Compare orders two scalar values of compatible types. ok is false for
// values that cannot be compared (different types, lists, maps).
func Compare(a, b any) (c int, ok bool) {
	if fa, isNum := toFloat(a); isNum {
		fb, bNum := toFloat(b)
		if !bNum {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}

	switch x := a.(type) {
	case string:
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}
		return x.Compare(y), true
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
