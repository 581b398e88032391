package protocol

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// SerializationFailureKey marks a value that could not be serialized at all.
// The stashed value is {"serializationError": message}.
const SerializationFailureKey = "serializationError"

// Serialize converts v into a value that can cross the channel. It tries, in
// order: a structural clone, a JSON round trip, string coercion, and finally
// stashing the failure message. It never fails, so an unserializable value
// can never prevent a reply from being sent.
func Serialize(v any) any {
	if clone, ok := StructuralClone(v); ok {
		return clone
	}
	if out, err := jsonRoundTrip(v); err == nil {
		return out
	}
	s, err := stringify(v)
	if err == nil {
		return s
	}
	return map[string]any{SerializationFailureKey: err.Error()}
}

// StructuralClone deep-copies v when it consists only of clonable values:
// nil, booleans, finite numbers, strings, byte slices, times, and slices,
// arrays or string-keyed maps of those. NaN and infinities have no JSON form. Type is preserved. Anything else (structs,
// funcs, channels, cycles through pointers) reports false.
func StructuralClone(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	out, ok := cloneValue(reflect.ValueOf(v), 0)
	if !ok {
		return nil, false
	}
	return out.Interface(), true
}

const maxCloneDepth = 64

var timeType = reflect.TypeOf(time.Time{})

func cloneValue(v reflect.Value, depth int) (reflect.Value, bool) {
	if depth > maxCloneDepth {
		return reflect.Value{}, false
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v, true

	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return reflect.Value{}, false
		}
		return v, true

	case reflect.Struct:
		if v.Type() == timeType {
			return v, true
		}
		return reflect.Value{}, false

	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type()), true
		}
		inner, ok := cloneValue(v.Elem(), depth+1)
		if !ok {
			return reflect.Value{}, false
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(inner)
		return out, true

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()), true
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if v.Type().Elem().Kind() == reflect.Uint8 {
			reflect.Copy(out, v)
			return out, true
		}
		for i := 0; i < v.Len(); i++ {
			elem, ok := cloneValue(v.Index(i), depth+1)
			if !ok {
				return reflect.Value{}, false
			}
			out.Index(i).Set(elem)
		}
		return out, true

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, ok := cloneValue(v.Index(i), depth+1)
			if !ok {
				return reflect.Value{}, false
			}
			out.Index(i).Set(elem)
		}
		return out, true

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		if v.IsNil() {
			return reflect.Zero(v.Type()), true
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			elem, ok := cloneValue(iter.Value(), depth+1)
			if !ok {
				return reflect.Value{}, false
			}
			out.SetMapIndex(iter.Key(), elem)
		}
		return out, true
	}

	return reflect.Value{}, false
}

func jsonRoundTrip(v any) (any, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := codec.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringify(v any) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stringify: %v", r)
		}
	}()
	s = fmt.Sprint(v)
	if strings.Contains(s, "(PANIC=") {
		return "", fmt.Errorf("stringify: %s", s)
	}
	return s, nil
}

// SerializeArgs applies Serialize to each argument.
func SerializeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = Serialize(a)
	}
	return out
}
