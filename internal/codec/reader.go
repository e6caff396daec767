package codec

import (
	"fmt"
	"time"
)

// FieldError explains why a record was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// reader pulls typed values out of a field map and remembers the first
// failure, so decoders read straight through and check once at the end.
type reader struct {
	m   map[string]any
	err error
}

func newReader(m map[string]any) *reader {
	return &reader{m: m}
}

func (r *reader) fail(field, reason string) {
	if r.err == nil {
		r.err = &FieldError{Field: field, Reason: reason}
	}
}

func (r *reader) lookup(field string) (any, bool) {
	v, ok := r.m[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (r *reader) requiredString(field string) string {
	v, ok := r.lookup(field)
	if !ok {
		r.fail(field, "missing")
		return ""
	}
	s, ok := String(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want string, got %T", v))
		return ""
	}
	if s == "" {
		r.fail(field, "empty")
	}
	return s
}

func (r *reader) optionalString(field, def string) string {
	v, ok := r.lookup(field)
	if !ok {
		return def
	}
	s, ok := String(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want string, got %T", v))
		return def
	}
	return s
}

func (r *reader) requiredNumber(field string) float64 {
	v, ok := r.lookup(field)
	if !ok {
		r.fail(field, "missing")
		return 0
	}
	n, ok := Number(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want number, got %T", v))
	}
	return n
}

func (r *reader) optionalNumber(field string, def float64) float64 {
	v, ok := r.lookup(field)
	if !ok {
		return def
	}
	n, ok := Number(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want number, got %T", v))
		return def
	}
	return n
}

func (r *reader) optionalInt(field string, def int) int {
	v, ok := r.lookup(field)
	if !ok {
		return def
	}
	n, ok := Int(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want integer, got %v", v))
		return def
	}
	return n
}

func (r *reader) optionalBool(field string, def bool) bool {
	v, ok := r.lookup(field)
	if !ok {
		return def
	}
	b, ok := Bool(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want bool, got %T", v))
		return def
	}
	return b
}

func (r *reader) requiredTime(field string) time.Time {
	v, ok := r.lookup(field)
	if !ok {
		r.fail(field, "missing")
		return time.Time{}
	}
	t, ok := Time(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want timestamp, got %T", v))
	}
	return t
}

func (r *reader) optionalTime(field string) (time.Time, bool) {
	v, ok := r.lookup(field)
	if !ok {
		return time.Time{}, false
	}
	t, ok := Time(v)
	if !ok {
		r.fail(field, fmt.Sprintf("want timestamp, got %T", v))
		return time.Time{}, false
	}
	return t, true
}

func (r *reader) stringList(field string) []string {
	v, ok := r.lookup(field)
	if !ok {
		return []string{}
	}
	l, ok := StringList(v)
	if !ok {
		r.fail(field, "want list of strings")
		return []string{}
	}
	return l
}
