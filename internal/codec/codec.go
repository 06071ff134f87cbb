package codec

import (
	"fmt"
	"time"
)

// Encode converts a Go value into its tagged wire form.
//
// Supported inputs: nil, string, bool, all int kinds, float32/float64,
// time.Time, []any, map[string]any, and Value itself (passed through).
// Integer kinds take the integer tag, float kinds the double tag; this is
// the typed-language reading of the "integral vs non-integral" rule and is
// what keeps Decode(Encode(x)) == x.
func Encode(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Boolean(t), nil
	case int:
		return Integer(int64(t)), nil
	case int8:
		return Integer(int64(t)), nil
	case int16:
		return Integer(int64(t)), nil
	case int32:
		return Integer(int64(t)), nil
	case int64:
		return Integer(t), nil
	case uint8:
		return Integer(int64(t)), nil
	case uint16:
		return Integer(int64(t)), nil
	case uint32:
		return Integer(int64(t)), nil
	case float32:
		return Double(float64(t)), nil
	case float64:
		return Double(t), nil
	case time.Time:
		return Timestamp(t), nil
	case []any:
		out := make([]Value, 0, len(t))
		for i, el := range t {
			v, err := Encode(el)
			if err != nil {
				return Value{}, fmt.Errorf("codec: array index %d: %w", i, err)
			}
			out = append(out, v)
		}
		return Array(out), nil
	case map[string]any:
		fields, err := EncodeFields(t)
		if err != nil {
			return Value{}, err
		}
		return Map(fields), nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnrepresentable, x)
}

// EncodeFields encodes every entry of a record's field map.
func EncodeFields(m map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(m))
	for k, x := range m {
		v, err := Encode(x)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Decode converts a wire value back into its Go form: the exact inverse of
// Encode. Integers come back as int64, doubles as float64, timestamps as
// UTC time.Time, arrays as []any, maps as map[string]any.
func Decode(v Value) (any, error) {
	switch v.tag {
	case tagNull:
		return nil, nil
	case tagString:
		return v.str, nil
	case tagInteger:
		return v.i64, nil
	case tagDouble:
		return v.f64, nil
	case tagBoolean:
		return v.b, nil
	case tagTimestamp:
		return v.ts, nil
	case tagArray:
		out := make([]any, 0, len(v.arr))
		for i, el := range v.arr {
			if el.IsZero() {
				continue // unknown tag inside an array: skip the element
			}
			x, err := Decode(el)
			if err != nil {
				return nil, fmt.Errorf("codec: array index %d: %w", i, err)
			}
			out = append(out, x)
		}
		return out, nil
	case tagMap:
		return DecodeFields(v.m)
	}
	return nil, fmt.Errorf("codec: cannot decode value with no tag")
}

// DecodeFields decodes a record's field map. Fields whose wire value carries
// no recognized tag are omitted from the result: callers observe them as
// absent, never as a zero value.
func DecodeFields(fields map[string]Value) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v.IsZero() {
			continue
		}
		x, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", k, err)
		}
		out[k] = x
	}
	return out, nil
}
