// Package value defines the language-neutral value model exchanged between
// blocks, and the marshaling rules that turn values into target-language
// literals and back out of the JSON interchange file.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	Null Kind = iota
	String
	Int
	Float
	Bool
	List
	Map
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case List:
		return "list"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged variant over string, integer, float, boolean, null,
// list and string-keyed map. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	m    map[string]Value
}

func NewNull() Value { return Value{} }
func NewString(s string) Value { return Value{kind: String, s: s} }
func NewInt(i int64) Value { return Value{kind: Int, i: i} }
func NewFloat(f float64) Value { return Value{kind: Float, f: f} }
func NewBool(b bool) Value { return Value{kind: Bool, b: b} }
func NewList(items ...Value) Value { return Value{kind: List, list: items} }

// NewMap returns a map Value. The map is not copied.
func NewMap(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Map, m: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }
func (v Value) Str() string { return v.s }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool { return v.b }
func (v Value) Items() []Value { return v.list }
func (v Value) Fields() map[string]Value { return v.m }

// Keys returns the map keys in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case String:
		return v.s == o.s
	case Int:
		return v.i == o.i
	case Float:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case Bool:
		return v.b == o.b
	case List:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case Map:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, x := range v.m {
			y, ok := o.m[k]
			if !ok || !x.Equal(y) {
				return false
			}
		}
		return true
	}
	return false
}

// Homogeneous returns the element kind shared by every item of a list or
// every field of a map, and whether the elements are all that one
// primitive kind. Empty containers report (Null, false).
func (v Value) Homogeneous() (Kind, bool) {
	var elems []Value
	switch v.kind {
	case List:
		elems = v.list
	case Map:
		for _, k := range v.Keys() {
			elems = append(elems, v.m[k])
		}
	default:
		return v.kind, false
	}
	if len(elems) == 0 {
		return Null, false
	}
	k := elems[0].kind
	if k == Null || k == List || k == Map {
		return k, false
	}
	for _, e := range elems[1:] {
		if e.kind != k {
			return k, false
		}
	}
	return k, true
}

// FromAny converts a Go value produced by encoding/json (or built by hand)
// into a Value. Unsupported types are stringified with fmt so conversion
// never fails.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return NewNull()
	case Value:
		return t
	case string:
		return NewString(t)
	case bool:
		return NewBool(t)
	case int:
		return NewInt(int64(t))
	case int32:
		return NewInt(int64(t))
	case int64:
		return NewInt(t)
	case uint32:
		return NewInt(int64(t))
	case float32:
		return NewFloat(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return NewInt(int64(t))
		}
		return NewFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return NewInt(i)
		}
		if f, err := t.Float64(); err == nil {
			return NewFloat(f)
		}
		return NewString(t.String())
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return NewList(items...)
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = NewString(e)
		}
		return NewList(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return NewMap(m)
	default:
		return NewString(fmt.Sprint(t))
	}
}

// Interface converts v back into plain Go values (string, int64, float64,
// bool, nil, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case String:
		return v.s
	case Int:
		return v.i
	case Float:
		return v.f
	case Bool:
		return v.b
	case List:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case Map:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v as plain JSON. Non-finite floats become null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(v.s)
	case Int:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case Float:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return []byte(formatFloat(v.f)), nil
	case Bool:
		return []byte(strconv.FormatBool(v.b)), nil
	case List:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Map:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			b, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("value: unknown kind %d", v.kind)
}

// UnmarshalJSON decodes any JSON document into v, keeping integers as Int.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	*v = fromJSON(x)
	return nil
}

// fromJSON is FromAny for decoder output, where a json.Number such as
// "2.0" must stay a float.
func fromJSON(x any) Value {
	switch t := x.(type) {
	case json.Number:
		s := t.String()
		if !bytes.ContainsAny([]byte(s), ".eE") {
			if i, err := t.Int64(); err == nil {
				return NewInt(i)
			}
		}
		if f, err := t.Float64(); err == nil {
			return NewFloat(f)
		}
		return NewString(s)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = fromJSON(e)
		}
		return NewList(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = fromJSON(e)
		}
		return NewMap(m)
	default:
		return FromAny(t)
	}
}

// JSON returns the compact JSON text of v.
func (v Value) JSON() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(b)
}

// String renders v for humans: strings unquoted, everything else as JSON.
func (v Value) String() string {
	if v.kind == String {
		return v.s
	}
	return v.JSON()
}

// formatFloat renders f so that it reads back as a float in every target
// language (always with a '.' or exponent).
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !bytes.ContainsAny([]byte(s), ".eEn") {
		s += ".0"
	}
	return s
}
