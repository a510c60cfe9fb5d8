package settings

import (
	"fmt"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/reference"
)

// Manager holds the two settings layers of a running instance: Base is
// the immutable set loaded from the manager at connect, Overlay holds
// the values of the current reuse iteration. Lookups scope a setting
// name by the instance name, most specific prefix first.
type Manager struct {
	Base    *Settings
	Overlay *Settings
}

// NewManager creates a Manager with empty base and overlay layers.
func NewManager() *Manager {
	return &Manager{Base: New(), Overlay: New()}
}

// GetSetting returns the value of a setting for the given instance.
//
// The overlay is consulted first: under the name scoped by the full
// instance reference, then under progressively shorter prefixes, then
// under the bare name. The base layer is then searched the same way.
func (m *Manager) GetSetting(instance reference.Reference, name reference.Reference) (Value, error) {
	for _, layer := range []*Settings{m.Overlay, m.Base} {
		if layer == nil {
			continue
		}
		for i := instance.Len(); i >= 0; i-- {
			key := instance.Slice(0, i).Concat(name).String()
			if v, ok := layer.Get(key); ok {
				return v, nil
			}
		}
	}
	return Value{}, errors.WrapInvalid(
		fmt.Errorf("%w: %q", errors.ErrSettingNotFound, name.String()),
		"Manager", "GetSetting", "lookup")
}

// GetSettingAs returns the value of a setting, checking that it has the
// requested kind.
func (m *Manager) GetSettingAs(instance reference.Reference, name reference.Reference, kind Kind) (Value, error) {
	v, err := m.GetSetting(instance, name)
	if err != nil {
		return Value{}, err
	}
	ok, err := v.Is(kind)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, errors.WrapInvalid(
			fmt.Errorf("%w: value for %q is of type %q, where %q was expected",
				errors.ErrSettingType, name.String(), v.Kind(), kind),
			"Manager", "GetSettingAs", "type check")
	}
	return v, nil
}
