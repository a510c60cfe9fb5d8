// Package settings holds simulation settings for the coupling runtime:
// typed setting values, an ordered name-to-value mapping, and the
// two-layer Manager that scopes lookups to an instance.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/coupling/errors"
)

// Settings is an ordered mapping from setting name to Value. Names are
// the canonical string form of a Reference. The zero Settings is empty
// and ready to use.
type Settings struct {
	order []string
	items map[string]Value
}

// New creates an empty Settings.
func New() *Settings {
	return &Settings{items: make(map[string]Value)}
}

// Set stores a value under the given name, preserving first-insertion
// order for iteration.
func (s *Settings) Set(name string, v Value) {
	if s.items == nil {
		s.items = make(map[string]Value)
	}
	if _, ok := s.items[name]; !ok {
		s.order = append(s.order, name)
	}
	s.items[name] = v
}

// Get returns the value stored under name.
func (s *Settings) Get(name string) (Value, bool) {
	if s == nil || s.items == nil {
		return Value{}, false
	}
	v, ok := s.items[name]
	return v, ok
}

// Has reports whether a value is stored under name.
func (s *Settings) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Len returns the number of stored settings.
func (s *Settings) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// IsEmpty reports whether no settings are stored.
func (s *Settings) IsEmpty() bool {
	return s.Len() == 0
}

// Keys returns the setting names in insertion order.
func (s *Settings) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Copy returns an independent copy.
func (s *Settings) Copy() *Settings {
	cp := New()
	if s == nil {
		return cp
	}
	for _, k := range s.order {
		cp.Set(k, s.items[k])
	}
	return cp
}

// Equal reports whether two Settings hold the same values, regardless
// of insertion order. A nil Settings equals an empty one.
func (s *Settings) Equal(other *Settings) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s == nil {
		return true
	}
	for _, k := range s.order {
		ov, ok := other.Get(k)
		if !ok || !s.items[k].Equal(ov) {
			return false
		}
	}
	return true
}

// String renders the settings for error messages, in insertion order.
func (s *Settings) String() string {
	if s.Len() == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range s.order {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", k, s.items[k])
	}
	b.WriteByte('}')
	return b.String()
}

// settingWire is one name/value pair in the JSON form. An array of
// pairs preserves insertion order, which a JSON object would not.
type settingWire struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (s *Settings) MarshalJSON() ([]byte, error) {
	pairs := make([]settingWire, 0, s.Len())
	if s != nil {
		for _, k := range s.order {
			pairs = append(pairs, settingWire{Name: k, Value: s.items[k]})
		}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var pairs []settingWire
	if err := json.Unmarshal(data, &pairs); err != nil {
		return errors.WrapInvalid(err, "Settings", "UnmarshalJSON", "pair list unmarshaling")
	}
	*s = Settings{items: make(map[string]Value, len(pairs))}
	for _, p := range pairs {
		s.Set(p.Name, p.Value)
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler. The YAML form is a plain
// mapping; document order is preserved.
func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.WrapInvalid(
			fmt.Errorf("settings must be a mapping, got %v", node.Kind),
			"Settings", "UnmarshalYAML", "node kind validation")
	}
	*s = Settings{items: make(map[string]Value)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		v, err := valueFromYAML(valNode)
		if err != nil {
			return errors.WrapInvalid(err, "Settings", "UnmarshalYAML",
				fmt.Sprintf("value for %q", keyNode.Value))
		}
		s.Set(keyNode.Value, v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler, emitting a mapping in
// insertion order.
func (s *Settings) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	if s == nil {
		return node, nil
	}
	for _, k := range s.order {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: k}
		valNode, err := valueToYAML(s.items[k])
		if err != nil {
			return nil, errors.Wrap(err, "Settings", "MarshalYAML", fmt.Sprintf("value for %q", k))
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func valueFromYAML(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err == nil && node.Tag == "!!bool" {
			return BoolValue(b), nil
		}
		var i int64
		if err := node.Decode(&i); err == nil && node.Tag == "!!int" {
			return IntValue(i), nil
		}
		var f float64
		if err := node.Decode(&f); err == nil && node.Tag == "!!float" {
			return FloatValue(f), nil
		}
		return StringValue(node.Value), nil
	case yaml.SequenceNode:
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var fg [][]float64
			if err := node.Decode(&fg); err != nil {
				return Value{}, err
			}
			return FloatGridValue(fg), nil
		}
		var fl []float64
		if err := node.Decode(&fl); err != nil {
			return Value{}, err
		}
		return FloatListValue(fl), nil
	}
	return Value{}, fmt.Errorf("unsupported YAML node kind %v", node.Kind)
}

func valueToYAML(v Value) (*yaml.Node, error) {
	node := &yaml.Node{}
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
	if err := node.Encode(inner); err != nil {
		return nil, err
	}
	return node, nil
}
