// Package mmp implements the manager protocol: the RPC client through
// which an instance registers itself, learns its peers, fetches the
// simulation settings, and submits profile events and log messages.
//
// The protocol runs as JSON request/reply over the same NATS server
// that carries the peer-to-peer traffic; the manager subscribes to the
// "mmp.*" subjects.
package mmp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/metric"
	"github.com/c360/coupling/pkg/retry"
	"github.com/c360/coupling/profiler"
	"github.com/c360/coupling/reference"
	"github.com/c360/coupling/settings"
	"github.com/c360/coupling/types"
)

// RPC subjects of the manager protocol.
const (
	subjectRegister      = "mmp.register"
	subjectRequestPeers  = "mmp.request_peers"
	subjectGetSettings   = "mmp.get_settings"
	subjectDeregister    = "mmp.deregister"
	subjectProfileEvents = "mmp.profile_events"
	subjectLogMessage    = "mmp.log"
)

// Client talks to the manager on behalf of one instance.
type Client struct {
	nc       *nats.Conn
	ownsConn bool
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics
	retryCfg retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus metrics recording.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout sets the per-RPC timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetryConfig sets the connection retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) {
		c.retryCfg = cfg
	}
}

// WithConn uses an existing NATS connection instead of dialing. The
// caller keeps ownership; Close will not close it.
func WithConn(nc *nats.Conn) Option {
	return func(c *Client) {
		c.nc = nc
	}
}

// NewClient creates a Client for the manager at the given location, a
// "host:port" string. Dialing is retried with backoff; if every
// attempt fails, NewClient returns a transient-classified error
// wrapping ErrManagerUnreachable.
func NewClient(location string, opts ...Option) (*Client, error) {
	c := &Client{
		timeout:  30 * time.Second,
		logger:   slog.Default(),
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.nc == nil {
		url := location
		if !strings.Contains(url, "://") {
			url = "nats://" + url
		}
		err := retry.Do(context.Background(), c.retryCfg, func() error {
			nc, err := nats.Connect(url, nats.Name("coupling-instance"))
			if err != nil {
				return err
			}
			c.nc = nc
			return nil
		})
		if err != nil {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrManagerUnreachable, err),
				"Client", "NewClient", "manager connection")
		}
		c.ownsConn = true
		c.logger.Debug("connected to manager", "url", url)
	}

	return c, nil
}

// Close releases the connection if the client owns it.
func (c *Client) Close() {
	if c.ownsConn && c.nc != nil {
		c.nc.Close()
	}
}

// replyEnvelope is the manager's reply to any RPC.
type replyEnvelope struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// call performs one JSON request/reply RPC. result may be nil for RPCs
// without a result body.
func (c *Client) call(subject string, req any, result any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "call", "request serialization")
	}

	start := time.Now()
	msg, err := c.nc.Request(subject, data, c.timeout)
	c.metrics.RecordManagerRPC(subject, time.Since(start))
	if err != nil {
		c.metrics.RecordManagerRPCError(subject)
		return errors.WrapTransient(err, "Client", "call", fmt.Sprintf("request on %q", subject))
	}

	var reply replyEnvelope
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		c.metrics.RecordManagerRPCError(subject)
		return errors.WrapInvalid(err, "Client", "call", "reply deserialization")
	}
	if reply.Status != "ok" {
		c.metrics.RecordManagerRPCError(subject)
		return errors.WrapInvalid(
			fmt.Errorf("manager rejected %q: %s", subject, reply.Error),
			"Client", "call", "rpc")
	}
	if result != nil {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return errors.WrapInvalid(err, "Client", "call", "result deserialization")
		}
	}
	return nil
}

// registerRequest is the registration RPC body.
type registerRequest struct {
	InstanceName string           `json:"instance_name"`
	Locations    []string         `json:"locations"`
	Ports        []types.PortDesc `json:"ports"`
}

// RegisterInstance registers a compute element instance with the
// manager, with the locations it listens on and its declared ports.
func (c *Client) RegisterInstance(name reference.Reference, locations []string, ports []types.PortDesc) error {
	req := registerRequest{
		InstanceName: name.String(),
		Locations:    locations,
		Ports:        ports,
	}
	if err := c.call(subjectRegister, req, nil); err != nil {
		return errors.Wrap(err, "Client", "RegisterInstance", "registration")
	}
	c.logger.Info("registered with manager", "instance", name.String())
	return nil
}

// instanceRequest is the body of RPCs that carry only the instance name.
type instanceRequest struct {
	InstanceName string `json:"instance_name"`
}

// RequestPeers asks the manager for the peer topology of this
// instance: attached conduits, peer instance set dimensions, and peer
// network locations.
func (c *Client) RequestPeers(name reference.Reference) (types.PeerInfo, error) {
	var info types.PeerInfo
	err := c.call(subjectRequestPeers, instanceRequest{InstanceName: name.String()}, &info)
	if err != nil {
		return types.PeerInfo{}, errors.Wrap(err, "Client", "RequestPeers", "peer lookup")
	}
	return info, nil
}

// GetSettings fetches the base settings of the simulation.
func (c *Client) GetSettings() (*settings.Settings, error) {
	s := settings.New()
	if err := c.call(subjectGetSettings, struct{}{}, s); err != nil {
		return nil, errors.Wrap(err, "Client", "GetSettings", "settings fetch")
	}
	return s, nil
}

// DeregisterInstance removes this instance from the manager's registry.
func (c *Client) DeregisterInstance(name reference.Reference) error {
	if err := c.call(subjectDeregister, instanceRequest{InstanceName: name.String()}, nil); err != nil {
		return errors.Wrap(err, "Client", "DeregisterInstance", "deregistration")
	}
	c.logger.Info("deregistered from manager", "instance", name.String())
	return nil
}

// eventWire is the JSON form of one profile event.
type eventWire struct {
	Instance    string  `json:"instance"`
	Type        string  `json:"type"`
	StartNanos  int64   `json:"start_nanos"`
	StopNanos   int64   `json:"stop_nanos"`
	Port        *string `json:"port,omitempty"`
	Slot        *int    `json:"slot,omitempty"`
	MessageSize *int    `json:"message_size,omitempty"`
}

// profileRequest is the profile event submission body. Each batch
// carries a unique id so the manager can deduplicate resubmissions.
type profileRequest struct {
	BatchID string      `json:"batch_id"`
	Events  []eventWire `json:"events"`
}

func eventToWire(e profiler.Event) eventWire {
	w := eventWire{
		Instance:   e.Instance,
		Type:       string(e.Type),
		StartNanos: int64(e.Start),
		StopNanos:  int64(e.Stop),
	}
	if e.Port.IsSet() {
		p := e.Port.Get()
		w.Port = &p
	}
	if e.Slot.IsSet() {
		s := e.Slot.Get()
		w.Slot = &s
	}
	if e.MessageSize.IsSet() {
		ms := e.MessageSize.Get()
		w.MessageSize = &ms
	}
	return w
}

// SubmitProfileEvents sends a batch of profile events to the manager.
func (c *Client) SubmitProfileEvents(events []profiler.Event) error {
	req := profileRequest{
		BatchID: uuid.New().String(),
		Events:  make([]eventWire, len(events)),
	}
	for i, e := range events {
		req.Events[i] = eventToWire(e)
	}
	if err := c.call(subjectProfileEvents, req, nil); err != nil {
		return errors.Wrap(err, "Client", "SubmitProfileEvents", "event submission")
	}
	return nil
}

// logRequest is the log message submission body.
type logRequest struct {
	InstanceName string `json:"instance_name"`
	Level        string `json:"level"`
	Timestamp    string `json:"timestamp"`
	Text         string `json:"text"`
}

// SubmitLogMessage forwards one log line to the manager's central log.
func (c *Client) SubmitLogMessage(instance string, level slog.Level, at time.Time, text string) error {
	req := logRequest{
		InstanceName: instance,
		Level:        level.String(),
		Timestamp:    at.UTC().Format(time.RFC3339Nano),
		Text:         text,
	}
	if err := c.call(subjectLogMessage, req, nil); err != nil {
		return errors.Wrap(err, "Client", "SubmitLogMessage", "log submission")
	}
	return nil
}
