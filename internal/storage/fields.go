package storage

import (
	"bytes"
	"cmp"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Fields is the schemaless body of a document.
// Values are normalized to string, bool, int64, float64, []any, map[string]any or nil.
type Fields map[string]any

// Encode converts a msgpack-tagged struct into Fields.
func Encode(v any) (Fields, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return decodeFields(data)
}

// Decode fills the msgpack-tagged struct v from the fields.
func (f Fields) Decode(v any) error {
	data, err := msgpack.Marshal(map[string]any(f))
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	return msgpack.Unmarshal(data, v)
}

func (f Fields) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(map[string]any(f))
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func decodeFields(data []byte) (Fields, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	out := make(Fields, len(m))
	for k, v := range m {
		out[k] = canonical(v)
	}
	return out, nil
}

// normalize brings an arbitrary Go value into the shape it has after a store round trip.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal(map[string]any{"v": v})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	f, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	return f["v"], nil
}

func canonical(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = canonical(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = canonical(e)
		}
		return out
	default:
		return v
	}
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(canonical(a), canonical(b))
}

// compareValues orders scalars of the same kind; mismatched kinds order by kind rank.
func compareValues(a, b any) int {
	a, b = canonical(a), canonical(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y)
		case float64:
			return cmp.Compare(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, float64(y))
		case float64:
			return cmp.Compare(x, y)
		}
	case string:
		return cmp.Compare(x, b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func fieldValue(doc Document, field string) any {
	if field == FieldID {
		return doc.ID
	}
	return doc.Fields[field]
}

func (f Filter) matches(doc Document) bool {
	v := fieldValue(doc, f.Field)
	switch f.Op {
	case OpEqual:
		return equalValues(v, f.Value)
	case OpContains:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range arr {
			if equalValues(e, f.Value) {
				return true
			}
		}
	}
	return false
}

func (q Query) matches(doc Document) bool {
	for _, f := range q.Filters {
		if !f.matches(doc) {
			return false
		}
	}
	return true
}
