package communicator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/metric"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/reference"
	"github.com/c360/coupling/settings"
	"github.com/c360/coupling/types"
)

// closeTimestamp is the simulation time attached to ClosePort
// messages, sorting them after any real message.
const closeTimestamp = math.MaxFloat64

// envelope is the wire form of one peer-to-peer message.
type envelope struct {
	Sender     string          `json:"sender"`
	Receiver   string          `json:"receiver"`
	PortLength *int            `json:"port_length,omitempty"`
	Message    message.Message `json:"message"`
}

// Transport is the NATS-backed communicator of one instance. It
// subscribes for all inbound endpoints at construction, so that no
// message can be published to this instance before a subscription
// exists, and demultiplexes arrivals into per-endpoint queues.
//
// All exported methods are called from the instance's thread only; the
// NATS delivery callback is the single internal writer to the queues.
type Transport struct {
	kernel reference.Reference
	index  []int

	url      string
	prefix   string
	nc       *nats.Conn
	ownsConn bool
	sub      *nats.Subscription

	registry *portRegistry
	declared types.PortsDescription

	inboxes  map[string]chan *nats.Msg
	inboxMu  sync.Mutex
	shutDown bool

	logger  *slog.Logger
	metrics *metric.Metrics
}

// inboxDepth bounds how many undelivered messages one endpoint queue
// holds before the NATS callback drops new arrivals.
const inboxDepth = 1024

// Option configures a Transport.
type Option func(*Transport)

// WithURL sets the NATS server URL. The default is the local server.
func WithURL(url string) Option {
	return func(t *Transport) {
		t.url = url
	}
}

// WithConn uses an existing NATS connection instead of dialing. The
// caller keeps ownership; Shutdown will not close it.
func WithConn(nc *nats.Conn) Option {
	return func(t *Transport) {
		t.nc = nc
	}
}

// WithSubjectPrefix changes the subject namespace used for peer
// traffic. All instances of one simulation must agree on it.
func WithSubjectPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// WithDeclaredPorts sets the declared ports to resolve at connect
// time. Without it, ports are inferred from the conduits.
func WithDeclaredPorts(declared types.PortsDescription) Option {
	return func(t *Transport) {
		t.declared = declared
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithMetrics enables Prometheus metrics recording.
func WithMetrics(m *metric.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// New creates a Transport for the given compute element instance and
// starts listening for inbound messages.
func New(kernel reference.Reference, index []int, opts ...Option) (*Transport, error) {
	t := &Transport{
		kernel:  kernel,
		index:   index,
		url:     nats.DefaultURL,
		prefix:  "mcp",
		inboxes: make(map[string]chan *nats.Msg),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.nc == nil {
		nc, err := nats.Connect(t.url, nats.Name("coupling-"+t.instanceRef().String()))
		if err != nil {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrPeerUnreachable, err),
				"Communicator", "New", "transport connection")
		}
		t.nc = nc
		t.ownsConn = true
	}

	wildcard := fmt.Sprintf("%s.%s.>", t.prefix, t.instanceRef().String())
	sub, err := t.nc.Subscribe(wildcard, t.deliver)
	if err != nil {
		if t.ownsConn {
			t.nc.Close()
		}
		return nil, errors.WrapTransient(err, "Communicator", "New", "inbound subscription")
	}
	t.sub = sub
	t.logger.Debug("listening for peer messages", "subject", wildcard)

	return t, nil
}

func (t *Transport) instanceRef() reference.Reference {
	r := t.kernel
	for _, i := range t.index {
		r = r.AppendIndex(i)
	}
	return r
}

// deliver runs on the NATS delivery goroutine and routes one inbound
// message to its endpoint queue.
func (t *Transport) deliver(m *nats.Msg) {
	ch := t.inbox(m.Subject)
	select {
	case ch <- m:
	default:
		t.logger.Error("inbox overflow, dropping message", "subject", m.Subject)
	}
}

func (t *Transport) inbox(subject string) chan *nats.Msg {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()
	ch, ok := t.inboxes[subject]
	if !ok {
		ch = make(chan *nats.Msg, inboxDepth)
		t.inboxes[subject] = ch
	}
	return ch
}

func (t *Transport) subject(e endpoint) string {
	return t.prefix + "." + e.ref().String()
}

// Locations returns the network locations this instance can be
// reached at, in "protocol:location" form.
func (t *Transport) Locations() []string {
	return []string{"nats:" + strings.Join(t.nc.Servers(), ",")}
}

// Connect wires this transport to its peers. This is the second stage
// of the simulation wiring process: the conduits, peer instance set
// dimensions, and peer locations all come from the manager.
func (t *Transport) Connect(info types.PeerInfo) error {
	registry, err := newPortRegistry(t.kernel, t.index, t.declared, info)
	if err != nil {
		return errors.Wrap(err, "Communicator", "Connect", "port resolution")
	}
	t.registry = registry
	t.logger.Info("connected to peers",
		"instance", t.instanceRef().String(),
		"conduits", len(info.Conduits))
	return nil
}

func (t *Transport) requireRegistry(method string) error {
	if t.registry == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: Connect has not been called", errors.ErrNotRegistered),
			"Communicator", method, "state check")
	}
	return nil
}

// ListPorts returns the resolved ports grouped by operator. The
// reserved settings port is not listed.
func (t *Transport) ListPorts() map[port.Operator][]string {
	if t.registry == nil {
		return map[port.Operator][]string{}
	}
	return t.registry.listPorts()
}

// PortExists reports whether the named port exists on this instance.
func (t *Transport) PortExists(name string) bool {
	return t.registry != nil && t.registry.portExists(name)
}

// Port returns the state of the named port.
func (t *Transport) Port(name string) (*port.Port, error) {
	if err := t.requireRegistry("Port"); err != nil {
		return nil, err
	}
	return t.registry.getPort(name)
}

// SettingsInConnected reports whether the reserved settings port is
// attached to a conduit.
func (t *Transport) SettingsInConnected() bool {
	return t.registry != nil && t.registry.settingsPort.IsConnected()
}

// SendMessage sends a message on the given port. Sending on a
// disconnected port is a no-op; the data simply has no consumer.
func (t *Transport) SendMessage(portName string, msg message.Message, slot optional.Value[int]) error {
	if err := t.requireRegistry("SendMessage"); err != nil {
		return err
	}
	p, err := t.registry.getPort(portName)
	if err != nil {
		return errors.Wrap(err, "Communicator", "SendMessage", "port lookup")
	}
	if !p.IsConnected() {
		t.logger.Debug("dropping message on disconnected port", "port", portName)
		return nil
	}
	if p.IsVector() != slot.IsSet() {
		return errors.WrapInvalid(
			fmt.Errorf("port %q: vector ports take a slot and scalar ports do not", portName),
			"Communicator", "SendMessage", "slot check")
	}

	peer, _ := t.registry.peerFor(portName)
	dest, err := peerEndpoint(t.kernel, t.index, peer, t.registry.peerDims, slot)
	if err != nil {
		return errors.Wrap(err, "Communicator", "SendMessage", "peer resolution")
	}

	env := envelope{
		Sender:   endpoint{kernel: t.kernel, index: t.index, port: portName, slot: slot}.ref().String(),
		Receiver: dest.ref().String(),
		Message:  msg,
	}
	if p.IsVector() {
		if length, err := p.Length(); err == nil {
			env.PortLength = &length
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Communicator", "SendMessage", "message serialization")
	}
	if err := t.nc.Publish(t.subject(dest), data); err != nil {
		return errors.WrapTransient(err, "Communicator", "SendMessage", "publish")
	}
	t.metrics.RecordMessageSent(t.instanceRef().String(), portName)
	return nil
}

// ReceiveMessage receives a message on the given port. Receiving
// blocks until a message arrives. On a disconnected port the default
// is returned if given, and an error raised otherwise.
func (t *Transport) ReceiveMessage(
	portName string, slot optional.Value[int], def optional.Value[message.Message],
) (message.Message, error) {
	if err := t.requireRegistry("ReceiveMessage"); err != nil {
		return message.Message{}, err
	}
	p, err := t.registry.getPort(portName)
	if err != nil {
		return message.Message{}, errors.Wrap(err, "Communicator", "ReceiveMessage", "port lookup")
	}

	if !p.IsConnected() {
		if def.IsSet() {
			return def.Get(), nil
		}
		return message.Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrNoDefault, portName),
			"Communicator", "ReceiveMessage", "disconnected port")
	}

	self := endpoint{kernel: t.kernel, index: t.index, port: portName, slot: slot}
	natsMsg := <-t.inbox(t.subject(self))

	var env envelope
	if err := json.Unmarshal(natsMsg.Data, &env); err != nil {
		return message.Message{}, errors.WrapInvalid(
			err, "Communicator", "ReceiveMessage", "message deserialization")
	}
	msg := env.Message

	if env.PortLength != nil && p.IsResizable() {
		if current, err := p.Length(); err == nil && current != *env.PortLength {
			if err := p.SetLength(*env.PortLength); err != nil {
				return message.Message{}, errors.Wrap(
					err, "Communicator", "ReceiveMessage", "port resize")
			}
		}
	}

	if message.IsClosePort(msg.Data) {
		if p.IsVector() {
			err = p.SetClosed(slot)
		} else {
			err = p.SetClosed(optional.None[int]())
		}
		if err != nil {
			return message.Message{}, errors.Wrap(
				err, "Communicator", "ReceiveMessage", "port close bookkeeping")
		}
	}

	// the overlay attribute of a received message is always present
	if msg.Settings == nil {
		msg.Settings = settings.New()
	}

	t.metrics.RecordMessageReceived(t.instanceRef().String(), portName)
	return msg, nil
}

// ClosePort sends a ClosePort message on the given port (or one slot
// of it), telling the receiver that no more messages will come.
func (t *Transport) ClosePort(portName string, slot optional.Value[int]) error {
	msg := message.New(closeTimestamp, message.ClosePort()).
		WithSettings(settings.New())
	if err := t.SendMessage(portName, msg, slot); err != nil {
		return errors.Wrap(err, "Communicator", "ClosePort", "close message")
	}
	return nil
}

// Shutdown stops listening and releases the connection if owned.
// It is idempotent.
func (t *Transport) Shutdown() error {
	if t.shutDown {
		return nil
	}
	t.shutDown = true

	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			t.logger.Warn("unsubscribe failed during shutdown", "error", err)
		}
	}
	if t.ownsConn {
		if err := t.nc.Flush(); err != nil {
			t.logger.Warn("flush failed during shutdown", "error", err)
		}
		t.nc.Close()
	}
	t.logger.Info("transport shut down", "instance", t.instanceRef().String())
	return nil
}
