package snapshot

import (
	"reflect"
	"time"
)

// TimeFormat is the wire format for every timestamp in a snapshot.
const TimeFormat = time.RFC3339Nano

// Canonicalize walks an arbitrarily nested value and returns a copy in
// which every time.Time is replaced by its TimeFormat text.
//
// Maps with string keys and slices/arrays are walked recursively, pointers
// are dereferenced (nil stays nil) and every other scalar is returned as is.
// Structs are not inspected.
func Canonicalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.Format(TimeFormat)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(TimeFormat)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Canonicalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Canonicalize(val)
		}
		return out
	case []byte:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Canonicalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Canonicalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = Canonicalize(rv.Index(i).Interface())
		}
		return out
	}

	return v
}
