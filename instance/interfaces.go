package instance

import (
	"github.com/c360/coupling/communicator"
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/mmp"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/profiler"
	"github.com/c360/coupling/reference"
	"github.com/c360/coupling/settings"
	"github.com/c360/coupling/types"
)

// Communicator is the peer-to-peer transport an Instance drives. The
// NATS transport in the communicator package implements it; tests
// substitute fakes.
type Communicator interface {
	// Locations returns the network locations this instance can be
	// reached at, for registration with the manager.
	Locations() []string

	// Connect wires the transport to its peers using the topology
	// received from the manager.
	Connect(info types.PeerInfo) error

	// ListPorts returns the resolved ports grouped by operator,
	// excluding the reserved settings port.
	ListPorts() map[port.Operator][]string

	// PortExists reports whether the named port exists.
	PortExists(name string) bool

	// Port returns the state of the named port.
	Port(name string) (*port.Port, error)

	// SendMessage sends a message on a port. Slot must be set for
	// vector ports and absent for scalar ports.
	SendMessage(portName string, msg message.Message, slot optional.Value[int]) error

	// ReceiveMessage blocks until a message arrives on a port. On a
	// disconnected port the default is returned if given.
	ReceiveMessage(portName string, slot optional.Value[int], def optional.Value[message.Message]) (message.Message, error)

	// ClosePort sends a ClosePort message on a port or one slot of it.
	ClosePort(portName string, slot optional.Value[int]) error

	// SettingsInConnected reports whether the reserved settings port
	// is attached to a conduit.
	SettingsInConnected() bool

	// Shutdown stops all communication. It is idempotent.
	Shutdown() error
}

// ManagerClient is the manager protocol surface an Instance uses. The
// mmp package provides the NATS implementation.
type ManagerClient interface {
	RegisterInstance(name reference.Reference, locations []string, ports []types.PortDesc) error
	RequestPeers(name reference.Reference) (types.PeerInfo, error)
	GetSettings() (*settings.Settings, error)
	DeregisterInstance(name reference.Reference) error
	SubmitProfileEvents(events []profiler.Event) error
}

var (
	_ Communicator  = (*communicator.Transport)(nil)
	_ ManagerClient = (*mmp.Client)(nil)
)
