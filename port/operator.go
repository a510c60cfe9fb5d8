// Package port models the endpoints of a compute element instance: the
// lifecycle operator a port belongs to, and the per-slot open/closed
// state that the runtime tracks for it.
package port

import (
	"fmt"

	"github.com/c360/coupling/errors"
)

// Operator is the lifecycle phase a port belongs to. Messages are
// received during F_INIT and S, and sent during O_I and O_F; B ports
// do both.
type Operator int

// The operators of the submodel execution loop, in lifecycle order.
const (
	// OperatorNone marks a port outside the submodel execution loop.
	OperatorNone Operator = iota
	// OperatorFInit marks initialization inputs.
	OperatorFInit
	// OperatorOI marks intermediate outputs.
	OperatorOI
	// OperatorS marks state inputs.
	OperatorS
	// OperatorB marks boundary ports, which both send and receive.
	OperatorB
	// OperatorOF marks final outputs.
	OperatorOF
	// OperatorSettingsIn is the pseudo-operator of the reserved
	// settings input port.
	OperatorSettingsIn
)

// String returns the configuration-language name of the operator.
func (o Operator) String() string {
	switch o {
	case OperatorNone:
		return "NONE"
	case OperatorFInit:
		return "F_INIT"
	case OperatorOI:
		return "O_I"
	case OperatorS:
		return "S"
	case OperatorB:
		return "B"
	case OperatorOF:
		return "O_F"
	case OperatorSettingsIn:
		return "SETTINGS_IN"
	default:
		return "UNKNOWN"
	}
}

// ParseOperator converts the configuration-language name of an
// operator back to its value.
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "NONE":
		return OperatorNone, nil
	case "F_INIT":
		return OperatorFInit, nil
	case "O_I":
		return OperatorOI, nil
	case "S":
		return OperatorS, nil
	case "B":
		return OperatorB, nil
	case "O_F":
		return OperatorOF, nil
	case "SETTINGS_IN":
		return OperatorSettingsIn, nil
	}
	return OperatorNone, errors.WrapInvalid(
		fmt.Errorf("unknown operator %q", s),
		"Operator", "ParseOperator", "validation")
}

// AllowsSending reports whether ports with this operator send messages.
func (o Operator) AllowsSending() bool {
	switch o {
	case OperatorOI, OperatorOF, OperatorB:
		return true
	}
	return false
}

// AllowsReceiving reports whether ports with this operator receive
// messages.
func (o Operator) AllowsReceiving() bool {
	switch o {
	case OperatorFInit, OperatorS, OperatorB:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler so operators render by
// name in JSON and YAML.
func (o Operator) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operator) UnmarshalText(text []byte) error {
	parsed, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
