// Package message defines the messages exchanged between coupled
// instances: a timestamped payload with an optional settings overlay.
//
// The payload is a tagged union over three variants: domain data (an
// opaque, already-serialized value), a Settings value (used on the
// reserved settings port), and the ClosePort sentinel that terminates
// a stream of messages on a port.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/settings"
)

type payloadKind string

const (
	kindData      payloadKind = "data"
	kindSettings  payloadKind = "settings"
	kindClosePort payloadKind = "close_port"
)

// Payload is the data carried by a Message. The zero Payload is an
// empty data payload.
type Payload struct {
	kind     payloadKind
	settings *settings.Settings
	data     json.RawMessage
}

// ClosePort returns the sentinel payload that signals that no further
// messages will arrive on a port.
func ClosePort() Payload {
	return Payload{kind: kindClosePort}
}

// SettingsPayload wraps a Settings value as a payload, for the
// reserved settings port.
func SettingsPayload(s *settings.Settings) Payload {
	if s == nil {
		s = settings.New()
	}
	return Payload{kind: kindSettings, settings: s}
}

// Data wraps a domain value as a payload. The value is serialized
// immediately; what it means is up to the submodels on either end.
func Data(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, errors.WrapInvalid(err, "Payload", "Data", "value serialization")
	}
	return Payload{kind: kindData, data: raw}, nil
}

// MustData is Data for values known to serialize; it panics on error.
func MustData(v any) Payload {
	p, err := Data(v)
	if err != nil {
		panic(err)
	}
	return p
}

// Raw wraps pre-serialized domain data as a payload.
func Raw(b []byte) Payload {
	return Payload{kind: kindData, data: append(json.RawMessage(nil), b...)}
}

// IsClosePort reports whether the payload is the ClosePort sentinel.
func IsClosePort(p Payload) bool {
	return p.kind == kindClosePort
}

// IsSettings reports whether the payload holds a Settings value.
func (p Payload) IsSettings() bool {
	return p.kind == kindSettings
}

// AsSettings returns the Settings held by the payload.
func (p Payload) AsSettings() (*settings.Settings, error) {
	if p.kind != kindSettings {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: payload is %q", errors.ErrNotSettings, p.kind),
			"Payload", "AsSettings", "variant check")
	}
	return p.settings, nil
}

// Decode deserializes a data payload into v.
func (p Payload) Decode(v any) error {
	if p.kind != kindData && p.kind != "" {
		return errors.WrapInvalid(
			fmt.Errorf("cannot decode %q payload as data", p.kind),
			"Payload", "Decode", "variant check")
	}
	if err := json.Unmarshal(p.data, v); err != nil {
		return errors.WrapInvalid(err, "Payload", "Decode", "value deserialization")
	}
	return nil
}

// Bytes returns the serialized form of a data payload.
func (p Payload) Bytes() []byte {
	return append([]byte(nil), p.data...)
}

// Size returns the size in bytes of the serialized domain data, for
// profiling. It is zero for Settings and ClosePort payloads.
func (p Payload) Size() int {
	return len(p.data)
}

// payloadWire is the tagged JSON form of a Payload.
type payloadWire struct {
	Type     payloadKind        `json:"type"`
	Data     json.RawMessage    `json:"data,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	wire := payloadWire{Type: p.kind}
	if wire.Type == "" {
		wire.Type = kindData
	}
	switch p.kind {
	case kindSettings:
		wire.Settings = p.settings
	default:
		wire.Data = p.data
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var wire payloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Payload", "UnmarshalJSON", "wire unmarshaling")
	}
	switch wire.Type {
	case kindClosePort:
		*p = ClosePort()
	case kindSettings:
		s := wire.Settings
		if s == nil {
			s = settings.New()
		}
		*p = Payload{kind: kindSettings, settings: s}
	case kindData:
		*p = Payload{kind: kindData, data: wire.Data}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown payload type: %s", wire.Type),
			"Payload", "UnmarshalJSON", "type validation")
	}
	return nil
}

// Message is a message to be sent or that has been received.
//
// Timestamp is the simulation time for which the data is valid.
// NextTimestamp, if set, is the simulation time of the next message to
// be transmitted through the same port. Settings is the settings
// overlay traveling with the message; nil means no overlay attached.
type Message struct {
	Timestamp     float64
	NextTimestamp optional.Value[float64]
	Data          Payload
	Settings      *settings.Settings
}

// New creates a Message with the given simulation timestamp and data.
func New(timestamp float64, data Payload) Message {
	return Message{Timestamp: timestamp, Data: data}
}

// WithNext returns a copy of the message with NextTimestamp set.
func (m Message) WithNext(next float64) Message {
	m.NextTimestamp = optional.Of(next)
	return m
}

// WithSettings returns a copy of the message with the given overlay
// attached.
func (m Message) WithSettings(s *settings.Settings) Message {
	m.Settings = s
	return m
}

// HasSettings reports whether an overlay is attached.
func (m Message) HasSettings() bool {
	return m.Settings != nil
}

// WithoutSettings returns a copy of the message with the overlay
// removed.
func (m Message) WithoutSettings() Message {
	m.Settings = nil
	return m
}

// messageWire is the JSON form of a Message.
type messageWire struct {
	Timestamp     float64            `json:"timestamp"`
	NextTimestamp *float64           `json:"next_timestamp,omitempty"`
	Data          Payload            `json:"data"`
	Settings      *settings.Settings `json:"settings,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		Timestamp: m.Timestamp,
		Data:      m.Data,
		Settings:  m.Settings,
	}
	if m.NextTimestamp.IsSet() {
		next := m.NextTimestamp.Get()
		wire.NextTimestamp = &next
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Message", "UnmarshalJSON", "wire unmarshaling")
	}
	m.Timestamp = wire.Timestamp
	if wire.NextTimestamp != nil {
		m.NextTimestamp = optional.Of(*wire.NextTimestamp)
	} else {
		m.NextTimestamp = optional.None[float64]()
	}
	m.Data = wire.Data
	m.Settings = wire.Settings
	return nil
}
