package model

import "encoding/json"

// ValueKind identifies the shape of a metadata value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a tagged metadata value. Evaluation request metadata is an open
// schema, so every lookup goes through typed accessors that report whether
// the value had the expected shape. Accessors never panic; a shape mismatch
// reads as "not present".
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// FromAny coerces an arbitrary decoded JSON/YAML value into a Value.
// Unrecognized types collapse to null.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{kind: KindNull}
	case bool:
		return Value{kind: KindBool, b: x}
	case int:
		return Value{kind: KindNumber, n: float64(x)}
	case int64:
		return Value{kind: KindNumber, n: float64(x)}
	case float64:
		return Value{kind: KindNumber, n: x}
	case float32:
		return Value{kind: KindNumber, n: float64(x)}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{kind: KindString, s: x.String()}
		}
		return Value{kind: KindNumber, n: f}
	case string:
		return Value{kind: KindString, s: x}
	case []any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			list = append(list, FromAny(item))
		}
		return Value{kind: KindList, list: list}
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = FromAny(item)
		}
		return Value{kind: KindMap, m: m}
	default:
		return Value{kind: KindNull}
	}
}

// FromMap converts raw request metadata into the tagged form.
// A nil map yields an empty (non-nil) result.
func FromMap(m map[string]any) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// Kind returns the value's shape tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsBool returns the boolean value and whether the value is a boolean.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsNumber returns the numeric value and whether the value is a number.
func (v Value) AsNumber() (float64, bool) {
	return v.n, v.kind == KindNumber
}

// AsString returns the string value and whether the value is a string.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsList returns the list elements and whether the value is a list.
func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// AsMap returns the nested map and whether the value is a map.
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// Truthy reports whether the value counts as "set" for boost conditions:
// true booleans, non-zero numbers, non-empty strings, and non-empty
// collections. Null is never truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	default:
		return false
	}
}

// Count interprets the value as a cardinality: the length of a list, or a
// number rounded down. Anything else counts as zero.
func (v Value) Count() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindNumber:
		return int(v.n)
	default:
		return 0
	}
}

// ToAny converts back to plain Go values for serialization.
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, item.ToAny())
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes the value as its plain JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON decodes plain JSON into the tagged form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
