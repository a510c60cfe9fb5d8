package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.RecordMessageSent("macro", "state_out")
	m.RecordMessageSent("macro", "state_out")
	m.RecordMessageReceived("macro", "init_in")
	m.RecordReuseIteration("macro")
	m.RecordInstanceStatus("macro", 2)
	m.RecordManagerRPC("register", 5*time.Millisecond)
	m.RecordManagerRPCError("register")
	m.RecordProfileFlush(100)

	assert.Equal(t, 2.0,
		testutil.ToFloat64(m.MessagesSent.WithLabelValues("macro", "state_out")))
	assert.Equal(t, 1.0,
		testutil.ToFloat64(m.MessagesReceived.WithLabelValues("macro", "init_in")))
	assert.Equal(t, 1.0,
		testutil.ToFloat64(m.ReuseIterations.WithLabelValues("macro")))
	assert.Equal(t, 2.0,
		testutil.ToFloat64(m.InstanceStatus.WithLabelValues("macro")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManagerRPCErrors.WithLabelValues("register")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProfileFlushes))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.ProfileEventsTotal))
}

func TestDoubleRegisterFails(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordMessageSent("macro", "p")
	m.RecordMessageReceived("macro", "p")
	m.RecordReuseIteration("macro")
	m.RecordInstanceStatus("macro", 1)
	m.RecordManagerRPC("register", time.Millisecond)
	m.RecordManagerRPCError("register")
	m.RecordProfileFlush(1)
}
