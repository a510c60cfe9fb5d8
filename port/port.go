package port

import (
	"fmt"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/pkg/optional"
)

// Port is a named endpoint owned by an instance. Scalar ports carry a
// single stream of messages; vector ports carry one stream per slot.
// A connected port's slots are all open until a ClosePort message
// arrives on them.
//
// Port state is owned by the transport and mutated only from the
// user's thread; it is not safe for concurrent use.
type Port struct {
	name      string
	oper      Operator
	vector    bool
	connected bool
	resizable bool
	length    int
	open      []bool
}

// New creates a Port. Vector ports start with the given length; for
// scalar ports length is ignored. A resizable vector port may have its
// length changed later with SetLength.
func New(name string, oper Operator, vector, connected, resizable bool, length int) *Port {
	p := &Port{
		name:      name,
		oper:      oper,
		vector:    vector,
		connected: connected,
		resizable: resizable,
	}
	if vector {
		p.setLength(length)
	} else {
		p.open = []bool{connected}
	}
	return p
}

// Name returns the port name.
func (p *Port) Name() string {
	return p.name
}

// Operator returns the operator the port belongs to.
func (p *Port) Operator() Operator {
	return p.oper
}

// IsConnected reports whether the port is attached to a conduit.
func (p *Port) IsConnected() bool {
	return p.connected
}

// IsVector reports whether the port has slots.
func (p *Port) IsVector() bool {
	return p.vector
}

// IsResizable reports whether the vector length may be set locally.
func (p *Port) IsResizable() bool {
	return p.resizable
}

// Length returns the vector length.
func (p *Port) Length() (int, error) {
	if !p.vector {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrNotVector, p.name),
			"Port", "Length", "vector check")
	}
	return p.length, nil
}

// SetLength resizes a resizable vector port, reopening all slots.
func (p *Port) SetLength(length int) error {
	if !p.resizable {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrNotResizable, p.name),
			"Port", "SetLength", "resizable check")
	}
	p.setLength(length)
	return nil
}

func (p *Port) setLength(length int) {
	if length < 0 {
		length = 0
	}
	p.length = length
	p.open = make([]bool, length)
	for i := range p.open {
		p.open[i] = p.connected
	}
}

// IsOpen reports whether the port, or one of its slots, is open. For a
// scalar port the slot must be absent; for a vector port it must be
// present and within range.
func (p *Port) IsOpen(slot optional.Value[int]) (bool, error) {
	if !slot.IsSet() {
		if p.vector {
			return false, errors.WrapInvalid(
				fmt.Errorf("vector port %q needs a slot", p.name),
				"Port", "IsOpen", "slot check")
		}
		return p.open[0], nil
	}
	if !p.vector {
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrNotVector, p.name),
			"Port", "IsOpen", "slot check")
	}
	i := slot.Get()
	if i < 0 || i >= len(p.open) {
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: slot %d on %q of length %d", errors.ErrSlotOutOfRange, i, p.name, p.length),
			"Port", "IsOpen", "slot range check")
	}
	return p.open[i], nil
}

// AnyOpen reports whether any slot of the port is open.
func (p *Port) AnyOpen() bool {
	for _, o := range p.open {
		if o {
			return true
		}
	}
	return false
}

// SetClosed marks the port, or one of its slots, closed. Called by the
// transport when a ClosePort message arrives.
func (p *Port) SetClosed(slot optional.Value[int]) error {
	if !slot.IsSet() {
		if p.vector {
			return errors.WrapInvalid(
				fmt.Errorf("vector port %q needs a slot", p.name),
				"Port", "SetClosed", "slot check")
		}
		p.open[0] = false
		return nil
	}
	if !p.vector {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrNotVector, p.name),
			"Port", "SetClosed", "slot check")
	}
	i := slot.Get()
	if i < 0 || i >= len(p.open) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: slot %d on %q of length %d", errors.ErrSlotOutOfRange, i, p.name, p.length),
			"Port", "SetClosed", "slot range check")
	}
	p.open[i] = false
	return nil
}
