package communicator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/reference"
	"github.com/c360/coupling/types"
)

// SettingsPortName is the reserved port that delivers per-iteration
// settings overlays and signals global termination.
const SettingsPortName = "muscle_settings_in"

// portRegistry resolves the declared ports of an instance against the
// conduits and peer dimensions received from the manager, and owns the
// resulting port state.
type portRegistry struct {
	kernel reference.Reference
	index  []int

	// peer port reference per local "kernel.port" reference string
	peers map[string]reference.Reference

	peerDims      map[string][]int
	peerLocations map[string][]string

	ports        map[string]*port.Port
	settingsPort *port.Port
}

func newPortRegistry(
	kernel reference.Reference, index []int,
	declared types.PortsDescription,
	info types.PeerInfo,
) (*portRegistry, error) {
	r := &portRegistry{
		kernel:        kernel,
		index:         index,
		peers:         make(map[string]reference.Reference),
		peerDims:      info.PeerDims,
		peerLocations: info.PeerLocations,
		ports:         make(map[string]*port.Port),
	}
	if r.peerDims == nil {
		r.peerDims = make(map[string][]int)
	}

	kernelStr := kernel.String()
	for _, conduit := range info.Conduits {
		if conduit.SendingElement().String() == kernelStr {
			r.peers[conduit.Sender.String()] = conduit.Receiver
		}
		if conduit.ReceivingElement().String() == kernelStr {
			r.peers[conduit.Receiver.String()] = conduit.Sender
		}
	}

	if declared != nil {
		if err := r.buildDeclaredPorts(declared); err != nil {
			return nil, err
		}
	} else {
		r.inferPortsFromConduits(info.Conduits)
	}

	settingsRef := kernel.AppendIdentifier(SettingsPortName).String()
	_, settingsConnected := r.peers[settingsRef]
	r.settingsPort = port.New(
		SettingsPortName, port.OperatorSettingsIn, false, settingsConnected, false, 0)

	return r, nil
}

func (r *portRegistry) buildDeclaredPorts(declared types.PortsDescription) error {
	for oper, names := range declared {
		for _, fullName := range names {
			name := strings.TrimSuffix(fullName, "[]")
			vector := name != fullName

			if name == SettingsPortName {
				return errors.WrapInvalid(
					fmt.Errorf("port name %q is reserved", SettingsPortName),
					"Communicator", "buildDeclaredPorts", "port validation")
			}
			if _, exists := r.ports[name]; exists {
				return errors.WrapInvalid(
					fmt.Errorf("port %q declared twice", name),
					"Communicator", "buildDeclaredPorts", "port validation")
			}

			portRef := r.kernel.AppendIdentifier(name).String()
			peer, connected := r.peers[portRef]

			length := 0
			resizable := false
			if vector && connected {
				length, resizable = r.vectorShape(peer)
			} else if vector {
				resizable = true
			}

			r.ports[name] = port.New(name, oper, vector, connected, resizable, length)
		}
	}
	return nil
}

// inferPortsFromConduits derives a port list for instances that did
// not declare any: every receiving conduit becomes a scalar F_INIT
// port and every sending conduit a scalar O_F port.
func (r *portRegistry) inferPortsFromConduits(conduits []types.Conduit) {
	kernelStr := r.kernel.String()
	for _, conduit := range conduits {
		if conduit.SendingElement().String() == kernelStr {
			name := conduit.SendingPort()
			r.ports[name] = port.New(name, port.OperatorOF, false, true, false, 0)
		}
		if conduit.ReceivingElement().String() == kernelStr {
			name := conduit.ReceivingPort()
			if name == SettingsPortName {
				continue
			}
			r.ports[name] = port.New(name, port.OperatorFInit, false, true, false, 0)
		}
	}
}

// vectorShape computes the length and resizability of a connected
// vector port from the peer instance set's dimensions. Dimensions not
// consumed by our own instance index become slots; if none remain, the
// length is not fixed by the topology and the port is resizable.
func (r *portRegistry) vectorShape(peer reference.Reference) (length int, resizable bool) {
	peerKernel := peer.Slice(0, peer.Len()-1).String()
	dims := r.peerDims[peerKernel]
	if len(dims) <= len(r.index) {
		return 0, true
	}
	length = 1
	for _, d := range dims[len(r.index):] {
		length *= d
	}
	return length, false
}

// listPorts returns the resolved port names grouped by operator, in
// sorted order. The reserved settings port is not included.
func (r *portRegistry) listPorts() map[port.Operator][]string {
	result := make(map[port.Operator][]string)
	for name, p := range r.ports {
		result[p.Operator()] = append(result[p.Operator()], name)
	}
	for _, names := range result {
		sort.Strings(names)
	}
	return result
}

func (r *portRegistry) portExists(name string) bool {
	if name == SettingsPortName {
		return true
	}
	_, ok := r.ports[name]
	return ok
}

func (r *portRegistry) getPort(name string) (*port.Port, error) {
	if name == SettingsPortName {
		return r.settingsPort, nil
	}
	p, ok := r.ports[name]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrPortNotFound, name),
			"Communicator", "getPort", "port lookup")
	}
	return p, nil
}

// peerFor returns the peer port reference a local port is wired to.
func (r *portRegistry) peerFor(name string) (reference.Reference, bool) {
	peer, ok := r.peers[r.kernel.AppendIdentifier(name).String()]
	return peer, ok
}
