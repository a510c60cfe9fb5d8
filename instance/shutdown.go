package instance

import (
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/profiler"
)

// shutdown closes communication with the outside world and
// deregisters. It is idempotent and best-effort: a failing step is
// logged and the remaining steps still run, so that as much of the
// protocol as possible completes.
//
// Outgoing ports close before incoming ports drain; a peer following
// the same protocol is thereby guaranteed to unblock.
func (i *Instance) shutdown() {
	if i.isShutDown {
		return
	}
	i.isShutDown = true

	event := profiler.Begin(i.name.String(), profiler.EventShutdown)
	i.closeOutgoingPorts()
	i.closeIncomingPorts()

	if err := i.comm.Shutdown(); err != nil {
		i.logger.Warn("transport shutdown failed", "error", err)
	}
	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}
	i.deregister()

	i.metrics.RecordInstanceStatus(i.name.String(), statusShutDown)
	i.logger.Info("instance shut down")
}

// closeOutgoingPorts sends a ClosePort message on every slot of every
// sending port.
func (i *Instance) closeOutgoingPorts() {
	for oper, names := range i.comm.ListPorts() {
		if !oper.AllowsSending() {
			continue
		}
		for _, name := range names {
			p, err := i.comm.Port(name)
			if err != nil {
				i.logger.Warn("port lookup failed during shutdown", "port", name, "error", err)
				continue
			}
			if p.IsVector() {
				length, err := p.Length()
				if err != nil {
					i.logger.Warn("port length lookup failed during shutdown",
						"port", name, "error", err)
					continue
				}
				for slot := 0; slot < length; slot++ {
					if err := i.comm.ClosePort(name, optional.Of(slot)); err != nil {
						i.logger.Warn("port close failed during shutdown",
							"port", name, "slot", slot, "error", err)
					}
				}
			} else if err := i.comm.ClosePort(name, optional.None[int]()); err != nil {
				i.logger.Warn("port close failed during shutdown", "port", name, "error", err)
			}
		}
	}
}

// closeIncomingPorts receives on every connected receiving port until
// ClosePort arrives, so the sending instance can shut down cleanly.
func (i *Instance) closeIncomingPorts() {
	for oper, names := range i.comm.ListPorts() {
		if !oper.AllowsReceiving() {
			continue
		}
		for _, name := range names {
			p, err := i.comm.Port(name)
			if err != nil {
				i.logger.Warn("port lookup failed during shutdown", "port", name, "error", err)
				continue
			}
			if !p.IsConnected() {
				continue
			}
			if p.IsVector() {
				i.drainIncomingVectorPort(name, p)
			} else {
				i.drainIncomingPort(name, p)
			}
		}
	}
}

// drainIncomingPort receives and discards messages until the port
// closes.
func (i *Instance) drainIncomingPort(name string, p *port.Port) {
	for {
		open, err := p.IsOpen(optional.None[int]())
		if err != nil || !open {
			return
		}
		if _, err := i.comm.ReceiveMessage(
			name, optional.None[int](), optional.None[message.Message]()); err != nil {
			i.logger.Warn("drain receive failed during shutdown", "port", name, "error", err)
			return
		}
	}
}

// drainIncomingVectorPort receives on every still-open slot until all
// slots are closed.
func (i *Instance) drainIncomingVectorPort(name string, p *port.Port) {
	for {
		length, err := p.Length()
		if err != nil {
			return
		}
		allClosed := true
		for slot := 0; slot < length; slot++ {
			open, err := p.IsOpen(optional.Of(slot))
			if err != nil {
				return
			}
			if open {
				allClosed = false
				if _, err := i.comm.ReceiveMessage(
					name, optional.Of(slot), optional.None[message.Message]()); err != nil {
					i.logger.Warn("drain receive failed during shutdown",
						"port", name, "slot", slot, "error", err)
					return
				}
			}
		}
		if allClosed {
			return
		}
	}
}

// deregister removes this instance from the manager and submits the
// remaining profile events.
func (i *Instance) deregister() {
	event := profiler.Begin(i.name.String(), profiler.EventDeregister)
	if err := i.manager.DeregisterInstance(i.name); err != nil {
		i.logger.Warn("deregistration failed", "error", err)
	}
	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}
	// the last events of this instance's life, so flush them now
	if err := i.profiler.Shutdown(); err != nil {
		i.logger.Warn("profile event flush failed", "error", err)
	}
	if i.closeManager != nil {
		i.closeManager()
	}
}
