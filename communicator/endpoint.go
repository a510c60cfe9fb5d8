// Package communicator moves messages between coupled instances. It
// resolves ports and peer endpoints from the topology received at
// connect time, tracks port state, and carries the actual traffic over
// core NATS subjects.
package communicator

import (
	"fmt"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/reference"
)

// endpoint is a place a message is sent from or to: a compute element,
// the index of one of its instances, a port, and a slot on that port.
type endpoint struct {
	kernel reference.Reference
	index  []int
	port   string
	slot   optional.Value[int]
}

// ref flattens the endpoint to a Reference of the form
// kernel[index].port[slot], with index and slot omitted when empty.
func (e endpoint) ref() reference.Reference {
	r := e.kernel
	for _, i := range e.index {
		r = r.AppendIndex(i)
	}
	r = r.AppendIdentifier(e.port)
	if e.slot.IsSet() {
		r = r.AppendIndex(e.slot.Get())
	}
	return r
}

// peerEndpoint resolves where a message on the given local port and
// slot goes to (or comes from). The local instance index and the slot
// together form a total index; the leading part addresses the peer
// instance, up to the peer instance set's dimensionality, and the rest
// stays a slot on the peer's port.
func peerEndpoint(
	localKernel reference.Reference, localIndex []int,
	peerPort reference.Reference,
	peerDims map[string][]int,
	slot optional.Value[int],
) (endpoint, error) {
	peerKernel := peerPort.Slice(0, peerPort.Len()-1)
	portName := peerPort.Part(peerPort.Len() - 1).Name()

	dims, ok := peerDims[peerKernel.String()]
	if !ok {
		return endpoint{}, errors.WrapInvalid(
			fmt.Errorf("no dimensions known for peer %q", peerKernel.String()),
			"Communicator", "peerEndpoint", "peer lookup")
	}

	total := append([]int(nil), localIndex...)
	if slot.IsSet() {
		total = append(total, slot.Get())
	}

	if len(total) < len(dims) {
		return endpoint{}, errors.WrapInvalid(
			fmt.Errorf("sending to peer set %q of dimensions %v requires a slot",
				peerKernel.String(), dims),
			"Communicator", "peerEndpoint", "index resolution")
	}

	e := endpoint{
		kernel: peerKernel,
		index:  total[:len(dims)],
		port:   portName,
	}
	if len(total) > len(dims) {
		// one slot dimension at most in this API
		e.slot = optional.Of(total[len(dims)])
	}
	return e, nil
}
