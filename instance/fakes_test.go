package instance

import (
	"fmt"

	"github.com/c360/coupling/message"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/profiler"
	"github.com/c360/coupling/reference"
	"github.com/c360/coupling/settings"
	"github.com/c360/coupling/types"
)

// fakeComm is an in-process Communicator with scripted inbound
// messages, mirroring the transport's bookkeeping (ClosePort marks
// ports closed, received messages always carry a settings object).
type fakeComm struct {
	locations  []string
	ports      map[string]*port.Port
	settingsIn bool

	// scripted inbound messages per port key ("port" or "port[slot]")
	inbound map[string][]message.Message

	sent          []sentMessage
	closeSent     []string
	connectedWith *types.PeerInfo
	shutdownCalls int
}

type sentMessage struct {
	port string
	slot optional.Value[int]
	msg  message.Message
}

func newFakeComm() *fakeComm {
	return &fakeComm{
		locations: []string{"nats:nats://localhost:9000"},
		ports:     make(map[string]*port.Port),
		inbound:   make(map[string][]message.Message),
	}
}

func (f *fakeComm) addPort(p *port.Port) {
	f.ports[p.Name()] = p
}

func (f *fakeComm) queue(key string, msg message.Message) {
	f.inbound[key] = append(f.inbound[key], msg)
}

func (f *fakeComm) Locations() []string {
	return f.locations
}

func (f *fakeComm) Connect(info types.PeerInfo) error {
	f.connectedWith = &info
	return nil
}

func (f *fakeComm) ListPorts() map[port.Operator][]string {
	result := make(map[port.Operator][]string)
	for name, p := range f.ports {
		result[p.Operator()] = append(result[p.Operator()], name)
	}
	return result
}

func (f *fakeComm) PortExists(name string) bool {
	if name == "muscle_settings_in" {
		return true
	}
	_, ok := f.ports[name]
	return ok
}

func (f *fakeComm) Port(name string) (*port.Port, error) {
	if p, ok := f.ports[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("port does not exist: %q", name)
}

func (f *fakeComm) SendMessage(portName string, msg message.Message, slot optional.Value[int]) error {
	f.sent = append(f.sent, sentMessage{port: portName, slot: slot, msg: msg})
	if message.IsClosePort(msg.Data) {
		f.closeSent = append(f.closeSent, fakeKey(portName, slot))
	}
	return nil
}

func (f *fakeComm) ReceiveMessage(
	portName string, slot optional.Value[int], def optional.Value[message.Message],
) (message.Message, error) {
	if portName == "muscle_settings_in" && !f.settingsIn {
		if def.IsSet() {
			return def.Get(), nil
		}
		return message.Message{}, fmt.Errorf("port not connected and no default given: %q", portName)
	}
	if p, ok := f.ports[portName]; ok && !p.IsConnected() {
		if def.IsSet() {
			return def.Get(), nil
		}
		return message.Message{}, fmt.Errorf("port not connected and no default given: %q", portName)
	}

	key := fakeKey(portName, slot)
	queued := f.inbound[key]
	if len(queued) == 0 {
		return message.Message{}, fmt.Errorf("test scripted no message for %q", key)
	}
	msg := queued[0]
	f.inbound[key] = queued[1:]

	if message.IsClosePort(msg.Data) {
		if p, ok := f.ports[portName]; ok {
			if p.IsVector() {
				_ = p.SetClosed(slot)
			} else {
				_ = p.SetClosed(optional.None[int]())
			}
		}
	}
	if msg.Settings == nil {
		msg.Settings = settings.New()
	}
	return msg, nil
}

func (f *fakeComm) ClosePort(portName string, slot optional.Value[int]) error {
	return f.SendMessage(portName,
		message.New(0.0, message.ClosePort()).WithSettings(settings.New()), slot)
}

func (f *fakeComm) SettingsInConnected() bool {
	return f.settingsIn
}

func (f *fakeComm) Shutdown() error {
	f.shutdownCalls++
	return nil
}

func fakeKey(portName string, slot optional.Value[int]) string {
	if slot.IsSet() {
		return fmt.Sprintf("%s[%d]", portName, slot.Get())
	}
	return portName
}

// fakeManager records manager protocol calls.
type fakeManager struct {
	registeredName  string
	registeredLocs  []string
	registeredPorts []types.PortDesc
	registerCalls   int

	peerInfo         types.PeerInfo
	requestPeerCalls int

	settings         *settings.Settings
	getSettingsCalls int

	deregisterCalls int
	profileBatches  [][]profiler.Event
}

func newFakeManager() *fakeManager {
	return &fakeManager{settings: settings.New()}
}

func (f *fakeManager) RegisterInstance(
	name reference.Reference, locations []string, ports []types.PortDesc,
) error {
	f.registerCalls++
	f.registeredName = name.String()
	f.registeredLocs = locations
	f.registeredPorts = ports
	return nil
}

func (f *fakeManager) RequestPeers(name reference.Reference) (types.PeerInfo, error) {
	f.requestPeerCalls++
	return f.peerInfo, nil
}

func (f *fakeManager) GetSettings() (*settings.Settings, error) {
	f.getSettingsCalls++
	return f.settings.Copy(), nil
}

func (f *fakeManager) DeregisterInstance(name reference.Reference) error {
	f.deregisterCalls++
	return nil
}

func (f *fakeManager) SubmitProfileEvents(events []profiler.Event) error {
	f.profileBatches = append(f.profileBatches, append([]profiler.Event(nil), events...))
	return nil
}

// newTestInstance builds an Instance wired to the given fakes.
func newTestInstance(
	argv []string, declared types.PortsDescription,
	fc *fakeComm, fm *fakeManager,
) (*Instance, error) {
	return New(argv, declared,
		WithCommunicator(fc),
		WithManagerClient(fm),
		withExit(func(int) {}),
	)
}
