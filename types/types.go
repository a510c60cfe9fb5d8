// Package types holds the shared wire-level types of the coupling
// protocol: conduits, peer topology information, and port
// descriptions, as exchanged with the manager.
package types

import (
	"fmt"

	"github.com/c360/coupling/port"
	"github.com/c360/coupling/reference"
)

// Conduit is a channel in the coupling topology, connecting a port on
// one compute element to a port on another. Sender and Receiver are
// references of the form "element.port".
type Conduit struct {
	Sender   reference.Reference `json:"sender"`
	Receiver reference.Reference `json:"receiver"`
}

// SendingElement returns the compute element on the sending side.
func (c Conduit) SendingElement() reference.Reference {
	return c.Sender.Slice(0, c.Sender.Len()-1)
}

// ReceivingElement returns the compute element on the receiving side.
func (c Conduit) ReceivingElement() reference.Reference {
	return c.Receiver.Slice(0, c.Receiver.Len()-1)
}

// SendingPort returns the name of the port on the sending side.
func (c Conduit) SendingPort() string {
	return c.Sender.Part(c.Sender.Len() - 1).Name()
}

// ReceivingPort returns the name of the port on the receiving side.
func (c Conduit) ReceivingPort() string {
	return c.Receiver.Part(c.Receiver.Len() - 1).Name()
}

// String renders the conduit for logs.
func (c Conduit) String() string {
	return fmt.Sprintf("%s -> %s", c.Sender, c.Receiver)
}

// PeerInfo is the topology information the manager returns for one
// instance: the conduits attached to its compute element, the
// dimensions of each peer instance set, and the network locations of
// each peer instance. Dimension and location maps are keyed by the
// string form of the peer reference.
type PeerInfo struct {
	Conduits      []Conduit           `json:"conduits"`
	PeerDims      map[string][]int    `json:"peer_dims"`
	PeerLocations map[string][]string `json:"peer_locations"`
}

// PortDesc describes one declared port in a registration request.
type PortDesc struct {
	Name     string        `json:"name"`
	Operator port.Operator `json:"operator"`
}

// PortsDescription declares the ports of a compute element, grouped by
// operator. A name ending in "[]" declares a vector port; the suffix
// is stripped before registration.
type PortsDescription map[port.Operator][]string
