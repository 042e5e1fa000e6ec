package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON value kinds a document may hold.
type Value interface {
	docValue()
}

// Null is the JSON null value.
type Null struct{}

func (Null) docValue() {}

// String is a JSON string.
type String string

func (String) docValue() {}

// Int is an integral JSON number.
type Int int64

func (Int) docValue() {}

// Float is a non-integral JSON number.
type Float float64

func (Float) docValue() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) docValue() {}

// Array is a JSON array.
type Array []Value

func (Array) docValue() {}

// Object is a JSON object. Entity records are Objects carrying at least an
// "id" string field.
type Object map[string]Value

func (Object) docValue() {}

// Well-known record fields.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
)

// ID returns the record's "id" field, or "" when absent or not a string.
func (obj Object) ID() string {
	s, _ := obj.GetString(FieldID)
	return s
}

// GetString returns the string stored under key.
func (obj Object) GetString(key string) (string, bool) {
	s, ok := obj[key].(String)
	return string(s), ok
}

// GetInt returns the integer stored under key.
func (obj Object) GetInt(key string) (int64, bool) {
	switch v := obj[key].(type) {
	case Int:
		return int64(v), true
	case Float:
		return int64(v), true
	}
	return 0, false
}

// GetBool returns the boolean stored under key.
func (obj Object) GetBool(key string) (bool, bool) {
	b, ok := obj[key].(Bool)
	return bool(b), ok
}

// With returns a copy of obj with key set to v.
func (obj Object) With(key string, v Value) Object {
	out := obj.Clone()
	out[key] = v
	return out
}

// Clone returns a deep copy of obj. A nil Object clones to nil.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// SortedKeys returns keys in canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs for astral runes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// MarshalJSON writes obj with sorted keys.
func (obj Object) MarshalJSON() ([]byte, error) {
	return marshalValue(obj, encJSON)
}

// MarshalJSON writes arr.
func (arr Array) MarshalJSON() ([]byte, error) {
	return marshalValue(arr, encJSON)
}

// MarshalJSON writes null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler for Object. JSON null decodes
// to a nil Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	if _, isNull := v.(Null); isNull {
		*obj = nil
		return nil
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("doc: expected object, got %T", v)
	}
	*obj = o
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	if _, isNull := v.(Null); isNull {
		*arr = nil
		return nil
	}
	a, ok := v.(Array)
	if !ok {
		return fmt.Errorf("doc: expected array, got %T", v)
	}
	*arr = a
	return nil
}

// Parse decodes JSON into a Value. Integral numbers that fit int64 become
// Int; every other number becomes Float.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("doc: parse: %w", err)
	}
	return FromAny(raw)
}

// ParseObject decodes a JSON object.
func ParseObject(data []byte) (Object, error) {
	var obj Object
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return obj, nil
}

// FromAny converts plain Go values (as produced by encoding/json) into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			if n, err := val.Int64(); err == nil {
				return Int(n), nil
			}
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("doc: number %s: %w", s, err)
		}
		return Float(f), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			e, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			e, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = e
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("doc: unsupported type %T", v)
	}
}

// ToAny converts a Value back into plain Go values.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// Encode converts any JSON-marshalable Go value into an Object.
func Encode(v any) (Object, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("doc: encode: %w", err)
	}
	return ParseObject(data)
}

// Decode populates v from obj using encoding/json.
func Decode(obj Object, v any) error {
	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("doc: decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("doc: decode: %w", err)
	}
	return nil
}
