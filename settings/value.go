package settings

import (
	"encoding/json"
	"fmt"

	"github.com/c360/coupling/errors"
)

// Kind identifies the type of a setting value. The names follow the
// coupling configuration language: "str", "int", "float", "bool",
// "[float]" and "[[float]]".
type Kind string

// Supported setting value kinds.
const (
	KindString    Kind = "str"
	KindInt       Kind = "int"
	KindFloat     Kind = "float"
	KindBool      Kind = "bool"
	KindFloatList Kind = "[float]"
	KindFloatGrid Kind = "[[float]]"
)

func validKind(k Kind) bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindFloatList, KindFloatGrid:
		return true
	}
	return false
}

// Value is a single setting value. The zero Value is an empty string.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	fl   []float64
	fg   [][]float64
}

// StringValue creates a string Value.
func StringValue(s string) Value {
	return Value{kind: KindString, s: s}
}

// IntValue creates an integer Value.
func IntValue(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// FloatValue creates a float Value.
func FloatValue(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// BoolValue creates a boolean Value.
func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// FloatListValue creates a list-of-floats Value. The slice is copied.
func FloatListValue(fl []float64) Value {
	return Value{kind: KindFloatList, fl: append([]float64(nil), fl...)}
}

// FloatGridValue creates a list-of-lists-of-floats Value. The slices
// are copied.
func FloatGridValue(fg [][]float64) Value {
	cp := make([][]float64, len(fg))
	for i, row := range fg {
		cp[i] = append([]float64(nil), row...)
	}
	return Value{kind: KindFloatGrid, fg: cp}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindString
	}
	return v.kind
}

// Is reports whether the value has the given kind. An invalid kind is
// an error, matching the behavior of typed setting lookups.
func (v Value) Is(k Kind) (bool, error) {
	if !validKind(k) {
		return false, errors.WrapInvalid(
			fmt.Errorf("invalid setting kind %q", k),
			"Value", "Is", "kind validation")
	}
	return v.Kind() == k, nil
}

// AsString returns the string held by the value.
func (v Value) AsString() (string, error) {
	if v.Kind() != KindString {
		return "", v.kindError(KindString)
	}
	return v.s, nil
}

// AsInt returns the integer held by the value.
func (v Value) AsInt() (int64, error) {
	if v.Kind() != KindInt {
		return 0, v.kindError(KindInt)
	}
	return v.i, nil
}

// AsFloat returns the float held by the value. Integer values convert.
func (v Value) AsFloat() (float64, error) {
	switch v.Kind() {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, v.kindError(KindFloat)
}

// AsBool returns the boolean held by the value.
func (v Value) AsBool() (bool, error) {
	if v.Kind() != KindBool {
		return false, v.kindError(KindBool)
	}
	return v.b, nil
}

// AsFloatList returns the list of floats held by the value.
func (v Value) AsFloatList() ([]float64, error) {
	if v.Kind() != KindFloatList {
		return nil, v.kindError(KindFloatList)
	}
	return append([]float64(nil), v.fl...), nil
}

// AsFloatGrid returns the list of lists of floats held by the value.
func (v Value) AsFloatGrid() ([][]float64, error) {
	if v.Kind() != KindFloatGrid {
		return nil, v.kindError(KindFloatGrid)
	}
	cp := make([][]float64, len(v.fg))
	for i, row := range v.fg {
		cp[i] = append([]float64(nil), row...)
	}
	return cp, nil
}

func (v Value) kindError(want Kind) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: value is of type %q, where %q was expected",
			errors.ErrSettingType, v.Kind(), want),
		"Value", "As", "type check")
}

// Equal reports whether two values hold the same kind and data.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindString:
		return v.s == other.s
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindFloatList:
		if len(v.fl) != len(other.fl) {
			return false
		}
		for i := range v.fl {
			if v.fl[i] != other.fl[i] {
				return false
			}
		}
		return true
	case KindFloatGrid:
		if len(v.fg) != len(other.fg) {
			return false
		}
		for i := range v.fg {
			if len(v.fg[i]) != len(other.fg[i]) {
				return false
			}
			for j := range v.fg[i] {
				if v.fg[i][j] != other.fg[i][j] {
					return false
				}
			}
		}
		return true
	}
	return false
}

// String renders the value for error messages and logs.
func (v Value) String() string {
	switch v.Kind() {
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindFloatList:
		return fmt.Sprintf("%v", v.fl)
	case KindFloatGrid:
		return fmt.Sprintf("%v", v.fg)
	}
	return "<invalid>"
}

// valueWire is the tagged JSON form of a Value.
type valueWire struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler with a type tag, so that float
// lists and grids survive a round trip unambiguously.
func (v Value) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.Kind() {
	case KindString:
		inner = v.s
	case KindInt:
		inner = v.i
	case KindFloat:
		inner = v.f
	case KindBool:
		inner = v.b
	case KindFloatList:
		inner = v.fl
	case KindFloatGrid:
		inner = v.fg
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, errors.Wrap(err, "Value", "MarshalJSON", "inner value marshaling")
	}
	return json.Marshal(valueWire{Type: v.Kind(), Value: raw})
}

// UnmarshalJSON implements json.Unmarshaler for the tagged form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "wire unmarshaling")
	}

	switch wire.Type {
	case KindString:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "string unmarshaling")
		}
		*v = StringValue(s)
	case KindInt:
		var i int64
		if err := json.Unmarshal(wire.Value, &i); err != nil {
			return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "int unmarshaling")
		}
		*v = IntValue(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(wire.Value, &f); err != nil {
			return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "float unmarshaling")
		}
		*v = FloatValue(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(wire.Value, &b); err != nil {
			return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "bool unmarshaling")
		}
		*v = BoolValue(b)
	case KindFloatList:
		var fl []float64
		if err := json.Unmarshal(wire.Value, &fl); err != nil {
			return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "float list unmarshaling")
		}
		*v = FloatListValue(fl)
	case KindFloatGrid:
		var fg [][]float64
		if err := json.Unmarshal(wire.Value, &fg); err != nil {
			return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "float grid unmarshaling")
		}
		*v = FloatGridValue(fg)
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown setting value type: %s", wire.Type),
			"Value", "UnmarshalJSON", "type validation")
	}
	return nil
}
