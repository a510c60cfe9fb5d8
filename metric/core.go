// Package metric provides Prometheus metrics for the coupling runtime.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all runtime-level metrics (not domain-specific).
// All record methods are safe to call on a nil receiver, so components
// can treat metrics as optional.
type Metrics struct {
	// Instance metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	ReuseIterations  *prometheus.CounterVec
	InstanceStatus   *prometheus.GaugeVec

	// Manager metrics
	ManagerRPCDuration *prometheus.HistogramVec
	ManagerRPCErrors   *prometheus.CounterVec

	// Profiler metrics
	ProfileFlushes     prometheus.Counter
	ProfileEventsTotal prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coupling",
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of messages sent",
			},
			[]string{"instance", "port"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coupling",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received",
			},
			[]string{"instance", "port"},
		),

		ReuseIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coupling",
				Subsystem: "instance",
				Name:      "reuse_iterations_total",
				Help:      "Total number of reuse loop iterations started",
			},
			[]string{"instance"},
		),

		InstanceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "coupling",
				Subsystem: "instance",
				Name:      "status",
				Help:      "Instance status (0=created, 1=registered, 2=connected, 3=shut_down)",
			},
			[]string{"instance"},
		),

		ManagerRPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coupling",
				Subsystem: "manager",
				Name:      "rpc_duration_seconds",
				Help:      "Manager RPC duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rpc"},
		),

		ManagerRPCErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coupling",
				Subsystem: "manager",
				Name:      "rpc_errors_total",
				Help:      "Total number of failed manager RPCs",
			},
			[]string{"rpc"},
		),

		ProfileFlushes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coupling",
				Subsystem: "profiler",
				Name:      "flushes_total",
				Help:      "Total number of profile event batch submissions",
			},
		),

		ProfileEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coupling",
				Subsystem: "profiler",
				Name:      "events_total",
				Help:      "Total number of profile events submitted",
			},
		),
	}
}

// Register registers all metrics with the given registerer.
func (c *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.MessagesSent,
		c.MessagesReceived,
		c.ReuseIterations,
		c.InstanceStatus,
		c.ManagerRPCDuration,
		c.ManagerRPCErrors,
		c.ProfileFlushes,
		c.ProfileEventsTotal,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// RecordMessageSent increments the sent message counter
func (c *Metrics) RecordMessageSent(instance, port string) {
	if c == nil {
		return
	}
	c.MessagesSent.WithLabelValues(instance, port).Inc()
}

// RecordMessageReceived increments the received message counter
func (c *Metrics) RecordMessageReceived(instance, port string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(instance, port).Inc()
}

// RecordReuseIteration increments the reuse iteration counter
func (c *Metrics) RecordReuseIteration(instance string) {
	if c == nil {
		return
	}
	c.ReuseIterations.WithLabelValues(instance).Inc()
}

// RecordInstanceStatus updates the instance status gauge
func (c *Metrics) RecordInstanceStatus(instance string, status int) {
	if c == nil {
		return
	}
	c.InstanceStatus.WithLabelValues(instance).Set(float64(status))
}

// RecordManagerRPC records the duration of a manager RPC
func (c *Metrics) RecordManagerRPC(rpc string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ManagerRPCDuration.WithLabelValues(rpc).Observe(duration.Seconds())
}

// RecordManagerRPCError increments the RPC error counter
func (c *Metrics) RecordManagerRPCError(rpc string) {
	if c == nil {
		return
	}
	c.ManagerRPCErrors.WithLabelValues(rpc).Inc()
}

// RecordProfileFlush records one batch submission of n events
func (c *Metrics) RecordProfileFlush(n int) {
	if c == nil {
		return
	}
	c.ProfileFlushes.Inc()
	c.ProfileEventsTotal.Add(float64(n))
}
