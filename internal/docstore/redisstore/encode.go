package redisstore

import (
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	envFields  = "fields"
	envUpdated = "updated"
)

// encode serializes a document as a protobuf Struct envelope holding the
// portable field map and the write time.
func encode(f docstore.Fields, updated time.Time) ([]byte, error) {
	nf, err := docstore.Normalize(f)
	if err != nil {
		return nil, err
	}
	body, err := structpb.NewStruct(docstore.ToPortable(nf))
	if err != nil {
		return nil, err
	}
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		envFields:  structpb.NewStructValue(body),
		envUpdated: structpb.NewStringValue(updated.UTC().Format(time.RFC3339Nano)),
	}}
	return proto.Marshal(env)
}

func decode(raw []byte) (docstore.Fields, time.Time, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode document: %w", err)
	}

	var updated time.Time
	if s := env.GetFields()[envUpdated].GetStringValue(); s != "" {
		updated, _ = time.Parse(time.RFC3339Nano, s)
	}

	body := env.GetFields()[envFields].GetStructValue()
	m := restoreInts(body.AsMap()).(map[string]any)
	return docstore.FromPortable(m), updated, nil
}

// restoreInts turns integral numbers back into int64, undoing the float64
// widening of structpb.
func restoreInts(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = restoreInts(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = restoreInts(e)
		}
		return out
	}
	return v
}
