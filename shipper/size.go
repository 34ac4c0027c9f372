package shipper

import (
	"encoding/json"
	"reflect"
	"strings"
)

var jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// circularSentinel replaces a cyclic reference in a value being
// serialized for size estimation or transport.
const circularSentinel = "[Circular]"

// sizeOf returns the on-wire byte length of v as it will actually be
// serialized. It MUST agree with whatever marshals v for transport.
// Transport marshals with encoding/json; safeMarshal produces output of
// the same length for any acyclic record of this package (same fields,
// same omitempty handling, same value encodings), so the batcher
// charges exactly what goes over the wire.
func sizeOf(v any) int {
	data, err := safeMarshal(v)
	if err != nil {
		// A serialization failure is treated as oversize so the record
		// is dropped rather than silently lost. maxBatchBytes is always
		// >= 0, so returning a very large number here always exceeds it.
		return 1 << 62
	}
	return len(data)
}

// safeMarshal serializes v to JSON, substituting circularSentinel for
// any cyclic reference instead of recursing forever or erroring.
// encoding/json itself has no cycle protection for arbitrary values
// reached through interfaces/maps, so this walks the value with
// reflection first, replacing cycles with the sentinel string, then
// hands the cycle-free copy to encoding/json.
func safeMarshal(v any) ([]byte, error) {
	safe := breakCycles(reflect.ValueOf(v), map[uintptr]bool{})
	return json.Marshal(safe)
}

// breakCycles returns a copy of rv as a plain any tree (maps, slices,
// and scalars) with any pointer/map/slice it has already visited on the
// current path replaced by circularSentinel.
func breakCycles(rv reflect.Value, seen map[uintptr]bool) any {
	if !rv.IsValid() {
		return nil
	}

	// Types with their own JSON encoding (time.Time, json.RawMessage, ...)
	// are serialized directly rather than walked field-by-field: walking
	// time.Time's unexported fields would lose its encoding entirely, and
	// a value already encoded to JSON bytes can't cyclically reference
	// anything reachable from the enclosing struct.
	if rv.CanInterface() && rv.Type().Implements(jsonMarshalerType) {
		if m, ok := rv.Interface().(json.Marshaler); ok {
			data, err := m.MarshalJSON()
			if err != nil {
				return circularSentinel
			}
			return json.RawMessage(data)
		}
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return breakCycles(rv.Elem(), seen)

	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return circularSentinel
		}
		next := make(map[uintptr]bool, len(seen)+1)
		for k := range seen {
			next[k] = true
		}
		next[ptr] = true
		return breakCycles(rv.Elem(), next)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return circularSentinel
		}
		next := withSeen(seen, ptr)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[formatMapKey(iter.Key())] = breakCycles(iter.Value(), next)
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return circularSentinel
		}
		next := withSeen(seen, ptr)
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = breakCycles(rv.Index(i), next)
		}
		return out

	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = breakCycles(rv.Index(i), seen)
		}
		return out

	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			fv := rv.Field(i)
			if strings.Contains(f.Tag.Get("json"), ",omitempty") {
				switch fv.Kind() {
				case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
					if fv.Len() == 0 {
						continue
					}
				case reflect.Struct: // encoding/json never omits structs
				default:
					if fv.IsZero() {
						continue
					}
				}
			}
			out[jsonFieldName(f)] = breakCycles(fv, seen)
		}
		return out

	default:
		if rv.CanInterface() {
			return rv.Interface()
		}
		return nil
	}
}

func withSeen(seen map[uintptr]bool, ptr uintptr) map[uintptr]bool {
	next := make(map[uintptr]bool, len(seen)+1)
	for k := range seen {
		next[k] = true
	}
	next[ptr] = true
	return next
}

func formatMapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	data, err := json.Marshal(k.Interface())
	if err != nil {
		return circularSentinel
	}
	return string(data)
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	name := tag
	for i, c := range tag {
		if c == ',' {
			name = tag[:i]
			break
		}
	}
	if name == "" {
		return f.Name
	}
	return name
}
