package docstore

import (
	"encoding/json"
	"strings"
	"time"
)

// timeKey tags timestamps in backends whose wire format has no time type.
const timeKey = "$time"

// ToPortable converts normalized fields into JSON-compatible values,
// encoding timestamps as {"$time": RFC3339Nano}.
func ToPortable(f Fields) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = toPortable(v)
	}
	return out
}

func toPortable(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{timeKey: t.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		return ToPortable(Fields(t))
	case Fields:
		return ToPortable(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toPortable(e)
		}
		return out
	}
	return v
}

// FromPortable reverses ToPortable. json.Number values become int64 when
// integral and float64 otherwise.
func FromPortable(m map[string]any) Fields {
	out := make(Fields, len(m))
	for k, v := range m {
		out[k] = fromPortable(v)
	}
	return out
}

func fromPortable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if s, ok := t[timeKey].(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return ts.UTC()
				}
			}
		}
		return map[string]any(FromPortable(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromPortable(e)
		}
		return out
	case json.Number:
		if !strings.ContainsAny(t.String(), ".eE") {
			if n, err := t.Int64(); err == nil {
				return n
			}
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	}
	return v
}
