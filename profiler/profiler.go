// Package profiler records timing events of a running instance and
// submits them to the manager in batches.
package profiler

import (
	"log/slog"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/metric"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/pkg/timestamp"
)

// EventType identifies what an event measures.
type EventType string

// The profiled operations of an instance's lifetime.
const (
	EventRegister   EventType = "register"
	EventConnect    EventType = "connect"
	EventSend       EventType = "send"
	EventReceive    EventType = "receive"
	EventDeregister EventType = "deregister"
	EventShutdown   EventType = "shutdown"
)

// Event is one profiled operation. Port, Slot and MessageSize are only
// set for send and receive events.
type Event struct {
	Instance    string
	Type        EventType
	Start       timestamp.Timestamp
	Stop        timestamp.Timestamp
	Port        optional.Value[string]
	Slot        optional.Value[int]
	MessageSize optional.Value[int]
}

// Begin creates an event of the given type with the start time set to
// now; the stop time is filled in by RecordEvent if left unset.
func Begin(instance string, typ EventType) Event {
	return Event{Instance: instance, Type: typ, Start: timestamp.Now()}
}

// WithPort returns a copy of the event tagged with a port and slot.
func (e Event) WithPort(name string, slot optional.Value[int]) Event {
	e.Port = optional.Of(name)
	e.Slot = slot
	return e
}

// WithMessageSize returns a copy of the event tagged with the
// serialized message size in bytes.
func (e Event) WithMessageSize(size int) Event {
	e.MessageSize = optional.Of(size)
	return e
}

// Submitter submits a batch of profile events to the manager.
// The manager protocol client implements this.
type Submitter interface {
	SubmitProfileEvents(events []Event) error
}

// flushThreshold is the batch size at which the buffer is submitted.
const flushThreshold = 100

// Profiler buffers profile events and flushes them to the manager once
// the buffer fills up, and once more on shutdown. It is used from the
// instance's thread only.
type Profiler struct {
	manager Submitter
	enabled bool
	events  []Event
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Profiler) {
		p.logger = logger
	}
}

// WithMetrics enables Prometheus metrics recording.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Profiler) {
		p.metrics = m
	}
}

// New creates a Profiler submitting to the given manager client.
// Profiling starts enabled; SetLevel adjusts it.
func New(manager Submitter, opts ...Option) *Profiler {
	p := &Profiler{
		manager: manager,
		enabled: true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetLevel enables recording if level is "all" and disables it
// otherwise.
func (p *Profiler) SetLevel(level string) {
	p.enabled = level == "all"
}

// RecordEvent adds an event to the buffer. An event without a stop
// time gets stamped with the current time. When the buffer reaches the
// flush threshold it is submitted to the manager as one batch.
func (p *Profiler) RecordEvent(event Event) error {
	if !event.Stop.IsSet() {
		event.Stop = timestamp.Now()
	}
	if p.enabled {
		p.events = append(p.events, event)
	}
	if len(p.events) >= flushThreshold {
		return p.flush()
	}
	return nil
}

// Shutdown submits any remaining buffered events.
func (p *Profiler) Shutdown() error {
	return p.flush()
}

func (p *Profiler) flush() error {
	if len(p.events) == 0 {
		return nil
	}
	n := len(p.events)
	if err := p.manager.SubmitProfileEvents(p.events); err != nil {
		return errors.Wrap(err, "Profiler", "flush", "event submission")
	}
	p.events = nil
	p.metrics.RecordProfileFlush(n)
	p.logger.Debug("flushed profile events", "count", n)
	return nil
}
