// Package codec converts between Go values and the document store's tagged
// wire representation. Every wire value carries exactly one type tag
// (string/integer/double/boolean/timestamp/array/map/null); integers travel
// as decimal strings to survive JSON number precision limits.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Value is the one-of tagged wire value. Exactly one tag is set on an
// encoded value; a Value with no tag set represents an absent field and
// decodes to nothing.
type Value struct {
	tag tag
	str string
	i64 int64
	f64 float64
	b   bool
	ts  time.Time
	arr []Value
	m   map[string]Value
}

type tag uint8

const (
	tagNone tag = iota
	tagNull
	tagString
	tagInteger
	tagDouble
	tagBoolean
	tagTimestamp
	tagArray
	tagMap
)

// ErrUnrepresentable reports a Go value the wire format cannot carry.
var ErrUnrepresentable = errors.New("codec: unrepresentable value")

// Constructors keep the one-of invariant without exposing the internals.

func Null() Value               { return Value{tag: tagNull} }
func String(s string) Value     { return Value{tag: tagString, str: s} }
func Integer(i int64) Value     { return Value{tag: tagInteger, i64: i} }
func Double(f float64) Value    { return Value{tag: tagDouble, f64: f} }
func Boolean(b bool) Value      { return Value{tag: tagBoolean, b: b} }
func Timestamp(t time.Time) Value {
	return Value{tag: tagTimestamp, ts: t.UTC()}
}
func Array(vs []Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{tag: tagArray, arr: vs}
}
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{tag: tagMap, m: fields}
}

// IsZero reports whether no tag is set (absent field).
func (v Value) IsZero() bool { return v.tag == tagNone }

// MarshalJSON emits the single-tag wire object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.tag {
	case tagNone:
		return []byte("{}"), nil
	case tagNull:
		return []byte(`{"nullValue":null}`), nil
	case tagString:
		return json.Marshal(map[string]string{"stringValue": v.str})
	case tagInteger:
		return json.Marshal(map[string]string{"integerValue": strconv.FormatInt(v.i64, 10)})
	case tagDouble:
		return json.Marshal(map[string]float64{"doubleValue": v.f64})
	case tagBoolean:
		return json.Marshal(map[string]bool{"booleanValue": v.b})
	case tagTimestamp:
		return json.Marshal(map[string]string{"timestampValue": v.ts.UTC().Format(time.RFC3339Nano)})
	case tagArray:
		return json.Marshal(map[string]any{"arrayValue": map[string]any{"values": v.arr}})
	case tagMap:
		return json.Marshal(map[string]any{"mapValue": map[string]any{"fields": v.m}})
	}
	return nil, fmt.Errorf("codec: unknown tag %d", v.tag)
}

// UnmarshalJSON accepts the wire object. Unknown tags leave the Value zero
// so the owning field reads as absent rather than defaulted.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Value{}
	if _, ok := raw["nullValue"]; ok {
		v.tag = tagNull
		return nil
	}
	if b, ok := raw["stringValue"]; ok {
		v.tag = tagString
		return json.Unmarshal(b, &v.str)
	}
	if b, ok := raw["integerValue"]; ok {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			// Some stores send bare numbers; tolerate both shapes.
			if err2 := json.Unmarshal(b, &v.i64); err2 != nil {
				return err
			}
			v.tag = tagInteger
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("codec: integerValue %q: %w", s, err)
		}
		v.tag = tagInteger
		v.i64 = i
		return nil
	}
	if b, ok := raw["doubleValue"]; ok {
		v.tag = tagDouble
		return json.Unmarshal(b, &v.f64)
	}
	if b, ok := raw["booleanValue"]; ok {
		v.tag = tagBoolean
		return json.Unmarshal(b, &v.b)
	}
	if b, ok := raw["timestampValue"]; ok {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("codec: timestampValue %q: %w", s, err)
		}
		v.tag = tagTimestamp
		v.ts = t.UTC()
		return nil
	}
	if b, ok := raw["arrayValue"]; ok {
		var inner struct {
			Values []Value `json:"values"`
		}
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		if inner.Values == nil {
			inner.Values = []Value{}
		}
		v.tag = tagArray
		v.arr = inner.Values
		return nil
	}
	if b, ok := raw["mapValue"]; ok {
		var inner struct {
			Fields map[string]Value `json:"fields"`
		}
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		if inner.Fields == nil {
			inner.Fields = map[string]Value{}
		}
		v.tag = tagMap
		v.m = inner.Fields
		return nil
	}
	// Unknown tag: leave the value zero.
	return nil
}
