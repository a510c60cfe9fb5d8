package instance

import (
	"fmt"

	"github.com/c360/coupling/communicator"
	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/profiler"
	"github.com/c360/coupling/settings"
)

// SendOption configures a Send call.
type SendOption func(*sendConfig)

type sendConfig struct {
	slot optional.Value[int]
}

// OnSlot addresses one slot of a vector port. Required when sending
// on a vector port and invalid on a scalar one.
func OnSlot(slot int) SendOption {
	return func(c *sendConfig) {
		c.slot = optional.Of(slot)
	}
}

// ReceiveOption configures a Receive call.
type ReceiveOption func(*receiveConfig)

type receiveConfig struct {
	slot         optional.Value[int]
	def          optional.Value[message.Message]
	withSettings bool
}

// FromSlot addresses one slot of a vector port.
func FromSlot(slot int) ReceiveOption {
	return func(c *receiveConfig) {
		c.slot = optional.Of(slot)
	}
}

// WithDefault supplies the message to return when the port is not
// connected. Without a default, receiving on a disconnected port is
// an error.
func WithDefault(def message.Message) ReceiveOption {
	return func(c *receiveConfig) {
		c.def = optional.Of(def)
	}
}

// WithSettings keeps the settings overlay attached to the returned
// message instead of checking and stripping it. Receiving settings on
// an F_INIT port requires having passed applyOverlay=false to
// ReuseInstance.
func WithSettings() ReceiveOption {
	return func(c *receiveConfig) {
		c.withSettings = true
	}
}

// Send sends a message on the named port. A message that carries no
// overlay gets the current iteration's overlay attached, so that
// downstream instances can verify they live in the same universe.
func (i *Instance) Send(portName string, msg message.Message, opts ...SendOption) error {
	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := i.checkPort(portName); err != nil {
		return err
	}

	if !msg.HasSettings() {
		msg = msg.WithSettings(i.settings.Overlay.Copy())
	}

	event := profiler.Begin(i.name.String(), profiler.EventSend).
		WithPort(portName, cfg.slot).
		WithMessageSize(msg.Data.Size())
	if err := i.comm.SendMessage(portName, msg, cfg.slot); err != nil {
		return i.failInvalid(err, "Send", "message send")
	}
	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}
	return nil
}

// Receive receives a message on the named port.
//
// On an F_INIT port the message was already fetched by ReuseInstance
// and is served from the cache; receiving twice on the same port and
// slot within one iteration is an error. On other ports the call
// blocks until a message arrives.
func (i *Instance) Receive(portName string, opts ...ReceiveOption) (message.Message, error) {
	var cfg receiveConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return i.receiveMessage(portName, cfg.slot, cfg.def, cfg.withSettings)
}

func (i *Instance) receiveMessage(
	portName string,
	slot optional.Value[int],
	def optional.Value[message.Message],
	withSettings bool,
) (message.Message, error) {
	if err := i.checkPort(portName); err != nil {
		return message.Message{}, err
	}
	p, err := i.comm.Port(portName)
	if err != nil {
		return message.Message{}, i.failInvalid(err, "Receive", "port lookup")
	}

	if p.Operator() == port.OperatorFInit {
		return i.receiveCached(p, portName, slot, def, withSettings)
	}

	event := profiler.Begin(i.name.String(), profiler.EventReceive).
		WithPort(portName, slot)
	msg, err := i.comm.ReceiveMessage(portName, slot, def)
	if err != nil {
		return message.Message{}, i.failInvalid(err, "Receive", "message receive")
	}
	event = event.WithMessageSize(msg.Data.Size())
	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}

	if p.IsConnected() {
		open, err := i.portOpen(p, slot)
		if err != nil {
			return message.Message{}, i.failInvalid(err, "Receive", "port state")
		}
		if !open {
			i.shutdown()
			return message.Message{}, errors.WrapFatal(
				fmt.Errorf("%w: port %q is closed, but we are trying to receive"+
					" on it; did the peer crash?", errors.ErrPortClosed, portKey(portName, slot)),
				"Instance", "Receive", "port state")
		}
		if !withSettings {
			if err := i.checkCompatibility(portName, msg.Settings); err != nil {
				return message.Message{}, err
			}
		}
	}
	if !withSettings {
		msg = msg.WithoutSettings()
	}
	return msg, nil
}

// receiveCached serves an F_INIT receive from the pre-receive cache.
func (i *Instance) receiveCached(
	p *port.Port,
	portName string,
	slot optional.Value[int],
	def optional.Value[message.Message],
	withSettings bool,
) (message.Message, error) {
	key := portKey(portName, slot)

	if msg, ok := i.fInitCache.Get(key); ok {
		i.fInitCache.Erase(key)
		if withSettings && !msg.HasSettings() {
			i.shutdown()
			return message.Message{}, errors.WrapInvalid(
				fmt.Errorf("receiving with settings on an F_INIT port requires"+
					" passing false for applyOverlay to ReuseInstance; the"+
					" overlay has already been applied and stripped"),
				"Instance", "Receive", "settings availability")
		}
		return msg, nil
	}

	if p.IsConnected() {
		i.shutdown()
		return message.Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: port %q; did you forget to call ReuseInstance in"+
				" your reuse loop?", errors.ErrDoubleReceive, key),
			"Instance", "Receive", "cache lookup")
	}
	if def.IsSet() {
		return def.Get(), nil
	}
	i.shutdown()
	return message.Message{}, errors.WrapInvalid(
		fmt.Errorf("%w: port %q; please connect this port", errors.ErrNoDefault, key),
		"Instance", "Receive", "cache lookup")
}

// receiveSettings receives the next settings overlay on the reserved
// settings port. It returns false iff the port is connected and
// ClosePort was received, meaning the submodel will not run again.
func (i *Instance) receiveSettings() (bool, error) {
	def := message.New(0.0, message.SettingsPayload(settings.New())).
		WithSettings(settings.New())
	msg, err := i.comm.ReceiveMessage(
		communicator.SettingsPortName, optional.None[int](), optional.Of(def))
	if err != nil {
		return false, i.failInvalid(err, "ReuseInstance", "settings receive")
	}

	if message.IsClosePort(msg.Data) {
		return false, nil
	}

	payload, err := msg.Data.AsSettings()
	if err != nil {
		i.shutdown()
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: received a message on %s that is not a Settings"+
				" value; the simulation appears miswired or the sending"+
				" instance is broken", errors.ErrNotSettings,
				communicator.SettingsPortName),
			"Instance", "ReuseInstance", "settings payload")
	}

	// the payload overlay layers on top of the overlay the message
	// itself traveled with
	overlay := settings.New()
	if msg.Settings != nil {
		overlay = msg.Settings.Copy()
	}
	for _, key := range payload.Keys() {
		v, _ := payload.Get(key)
		overlay.Set(key, v)
	}
	i.settings.Overlay = overlay
	return true, nil
}

// preReceiveFInit empties the cache and receives one message for every
// connected F_INIT port and slot.
func (i *Instance) preReceiveFInit(applyOverlay bool) error {
	i.fInitCache.Clear()
	ports := i.comm.ListPorts()
	for _, portName := range ports[port.OperatorFInit] {
		p, err := i.comm.Port(portName)
		if err != nil {
			return i.failInvalid(err, "ReuseInstance", "port lookup")
		}
		if !p.IsConnected() {
			continue
		}
		if !p.IsVector() {
			if err := i.preReceive(portName, optional.None[int](), applyOverlay); err != nil {
				return err
			}
			continue
		}
		// slot 0 resolves the length of a resizable port, so receive
		// it before iterating the rest
		if err := i.preReceive(portName, optional.Of(0), applyOverlay); err != nil {
			return err
		}
		length, err := p.Length()
		if err != nil {
			return i.failInvalid(err, "ReuseInstance", "port length")
		}
		for slot := 1; slot < length; slot++ {
			if err := i.preReceive(portName, optional.Of(slot), applyOverlay); err != nil {
				return err
			}
		}
	}
	return nil
}

// preReceive fetches one message into the cache, applying and
// stripping the overlay if requested.
func (i *Instance) preReceive(portName string, slot optional.Value[int], applyOverlay bool) error {
	key := portKey(portName, slot)

	event := profiler.Begin(i.name.String(), profiler.EventReceive).
		WithPort(portName, slot)
	msg, err := i.comm.ReceiveMessage(portName, slot, optional.None[message.Message]())
	if err != nil {
		return i.failInvalid(err, "ReuseInstance", "initialization receive")
	}
	event = event.WithMessageSize(msg.Data.Size())
	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}

	if applyOverlay {
		i.applyOverlay(msg)
		if err := i.checkCompatibility(portName, msg.Settings); err != nil {
			return err
		}
		msg = msg.WithoutSettings()
	}
	i.fInitCache.Store(key, msg)
	return nil
}

// applyOverlay adopts the message's overlay as our own if we do not
// have one yet. The first initialization message of an iteration wins.
func (i *Instance) applyOverlay(msg message.Message) {
	if i.settings.Overlay.IsEmpty() && msg.HasSettings() {
		i.settings.Overlay = msg.Settings.Copy()
	}
}

// checkCompatibility verifies that a received overlay matches ours.
// All instances of one reuse iteration must observe identical
// settings; data from an instance running with different ones comes
// from a parallel universe and must never be mixed in.
func (i *Instance) checkCompatibility(portName string, overlay *settings.Settings) error {
	if overlay == nil {
		return nil
	}
	if !i.settings.Overlay.Equal(overlay) {
		i.shutdown()
		return errors.WrapInvalid(
			fmt.Errorf("%w: on port %q; my settings are %s and I received from"+
				" a universe with %s", errors.ErrOverlayMismatch,
				portName, i.settings.Overlay, overlay),
			"Instance", "Receive", "overlay comparison")
	}
	return nil
}

// checkPort verifies that the port exists, shutting down on failure.
func (i *Instance) checkPort(portName string) error {
	if !i.comm.PortExists(portName) {
		i.shutdown()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q on %q; check the name against the ports"+
				" declared for this compute element", errors.ErrPortNotFound,
				portName, i.name.String()),
			"Instance", "checkPort", "port lookup")
	}
	return nil
}

// portOpen reads the open state of a port, passing the slot through
// for vector ports only.
func (i *Instance) portOpen(p *port.Port, slot optional.Value[int]) (bool, error) {
	if p.IsVector() {
		return p.IsOpen(slot)
	}
	return p.IsOpen(optional.None[int]())
}

// failInvalid shuts down and wraps an error from a user-facing
// operation.
func (i *Instance) failInvalid(err error, method, action string) error {
	i.shutdown()
	return errors.Wrap(err, "Instance", method, action)
}

func portKey(portName string, slot optional.Value[int]) string {
	if slot.IsSet() {
		return fmt.Sprintf("%s[%d]", portName, slot.Get())
	}
	return portName
}
