package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/settings"
)

func overlayWith(key string, v settings.Value) *settings.Settings {
	s := settings.New()
	s.Set(key, v)
	return s
}

func queueOverlayMessage(fc *fakeComm, overlay *settings.Settings) {
	fc.settingsIn = true
	fc.queue("muscle_settings_in",
		message.New(0.0, message.SettingsPayload(overlay)).
			WithSettings(settings.New()))
}

func TestSendAlwaysAttachesOverlay(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("state_out", port.OperatorOF, false, true, false, 0))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	require.NoError(t, i.Send("state_out", message.New(0.0, message.MustData(42))))
	require.Len(t, fc.sent, 1)
	assert.True(t, fc.sent[0].msg.HasSettings(),
		"every sent message must carry an overlay")
	assert.True(t, fc.sent[0].msg.Settings.IsEmpty())
}

func TestSendKeepsExplicitSettings(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("state_out", port.OperatorOF, false, true, false, 0))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	explicit := overlayWith("dt", settings.FloatValue(0.5))
	msg := message.New(0.0, message.MustData(1)).WithSettings(explicit)
	require.NoError(t, i.Send("state_out", msg))
	assert.True(t, explicit.Equal(fc.sent[0].msg.Settings))
}

func TestSendOnSlot(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("bc_out", port.OperatorOI, true, true, false, 3))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	require.NoError(t, i.Send("bc_out", message.New(1.0, message.MustData(7)), OnSlot(2)))
	require.Len(t, fc.sent, 1)
	require.True(t, fc.sent[0].slot.IsSet())
	assert.Equal(t, 2, fc.sent[0].slot.Get())
}

func TestSendOnUnknownPortFailsAndShutsDown(t *testing.T) {
	fc := newFakeComm()
	fm := newFakeManager()
	i, err := newTestInstance(baseArgv, nil, fc, fm)
	require.NoError(t, err)

	err = i.Send("nope", message.New(0.0, message.MustData(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortNotFound)
	assert.Equal(t, 1, fc.shutdownCalls)
	assert.Equal(t, 1, fm.deregisterCalls)
}

func TestFInitCacheHitAndDoubleReceive(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, false, true, false, 0))
	fc.queue("init_in", message.New(0.0, message.MustData(42)))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	reuse, err := i.ReuseInstance(true)
	require.NoError(t, err)
	assert.True(t, reuse)

	msg, err := i.Receive("init_in")
	require.NoError(t, err)
	assert.Equal(t, 0.0, msg.Timestamp)
	var got int
	require.NoError(t, msg.Data.Decode(&got))
	assert.Equal(t, 42, got)
	assert.False(t, msg.HasSettings(), "settings are stripped on a plain receive")

	_, err = i.Receive("init_in")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDoubleReceive)
	assert.Equal(t, 1, fc.shutdownCalls)
}

func TestFInitVectorPreReceive(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, true, true, false, 3))
	for slot := 0; slot < 3; slot++ {
		fc.queue(fakeKey("init_in", optional.Of(slot)), message.New(0.0, message.MustData(slot*10)))
	}

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	reuse, err := i.ReuseInstance(true)
	require.NoError(t, err)
	assert.True(t, reuse)

	for slot := 0; slot < 3; slot++ {
		msg, err := i.Receive("init_in", FromSlot(slot))
		require.NoError(t, err)
		var got int
		require.NoError(t, msg.Data.Decode(&got))
		assert.Equal(t, slot*10, got)
	}

	_, err = i.Receive("init_in", FromSlot(1))
	assert.ErrorIs(t, err, errors.ErrDoubleReceive)
}

func TestFInitDisconnectedDefault(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, false, false, false, 0))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	def := message.New(0.0, message.MustData(99))
	msg, err := i.Receive("init_in", WithDefault(def))
	require.NoError(t, err)
	var got int
	require.NoError(t, msg.Data.Decode(&got))
	assert.Equal(t, 99, got)

	// no default: an error telling the user to connect the port
	_, err = i.Receive("init_in")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoDefault)
}

func TestFInitReceiveWithSettingsRequiresManualOverlay(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, false, true, false, 0))
	fc.queue("init_in", message.New(0.0, message.MustData(1)).
		WithSettings(overlayWith("dt", settings.FloatValue(0.1))))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.ReuseInstance(true)
	require.NoError(t, err)

	_, err = i.Receive("init_in", WithSettings())
	require.Error(t, err, "overlay was applied and stripped by ReuseInstance(true)")
	assert.Contains(t, err.Error(), "applyOverlay")
}

func TestFInitReceiveWithSettingsAfterManualReuse(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, false, true, false, 0))
	overlay := overlayWith("dt", settings.FloatValue(0.1))
	fc.queue("init_in", message.New(0.0, message.MustData(1)).WithSettings(overlay))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.ReuseInstance(false)
	require.NoError(t, err)

	msg, err := i.Receive("init_in", WithSettings())
	require.NoError(t, err)
	require.True(t, msg.HasSettings())
	assert.True(t, overlay.Equal(msg.Settings))
}

func TestOverlayAdoptedFromFirstFInitMessage(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, false, true, false, 0))
	overlay := overlayWith("dt", settings.FloatValue(0.25))
	fc.queue("init_in", message.New(0.0, message.MustData(1)).WithSettings(overlay))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.ReuseInstance(true)
	require.NoError(t, err)

	dt, err := i.GetSettingFloat("dt")
	require.NoError(t, err)
	assert.Equal(t, 0.25, dt)
}

func TestSettingsPortDeliversOverlay(t *testing.T) {
	fc := newFakeComm()
	queueOverlayMessage(fc, overlayWith("dt", settings.FloatValue(0.5)))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	reuse, err := i.ReuseInstance(true)
	require.NoError(t, err)
	assert.True(t, reuse)

	dt, err := i.GetSettingFloat("dt")
	require.NoError(t, err)
	assert.Equal(t, 0.5, dt)
}

func TestSettingsPortClosePortEndsReuse(t *testing.T) {
	fc := newFakeComm()
	fc.settingsIn = true
	fc.queue("muscle_settings_in", message.New(0.0, message.ClosePort()))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	reuse, err := i.ReuseInstance(true)
	require.NoError(t, err)
	assert.False(t, reuse)
}

func TestSettingsPortWrongPayloadFails(t *testing.T) {
	fc := newFakeComm()
	fc.settingsIn = true
	fc.queue("muscle_settings_in", message.New(0.0, message.MustData(42)))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.ReuseInstance(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotSettings)
	assert.Equal(t, 1, fc.shutdownCalls)
}

func TestClosePortOnFInitEndsReuse(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("init_in", port.OperatorFInit, false, true, false, 0))
	fc.queue("init_in", message.New(0.0, message.ClosePort()))
	// settings port open and delivering: settings alone say "go on"
	queueOverlayMessage(fc, settings.New())

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	reuse, err := i.ReuseInstance(true)
	require.NoError(t, err)
	assert.False(t, reuse, "ClosePort on any F_INIT port forces the loop to end")
}

func TestParallelUniverseMismatch(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("s_in", port.OperatorS, false, true, false, 0))
	queueOverlayMessage(fc, overlayWith("dt", settings.FloatValue(0.1)))
	fc.queue("s_in", message.New(1.0, message.MustData(1)).
		WithSettings(overlayWith("dt", settings.FloatValue(0.2))))

	fm := newFakeManager()
	i, err := newTestInstance(baseArgv, nil, fc, fm)
	require.NoError(t, err)

	_, err = i.ReuseInstance(true)
	require.NoError(t, err)

	_, err = i.Receive("s_in")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOverlayMismatch)
	assert.Contains(t, err.Error(), "0.1")
	assert.Contains(t, err.Error(), "0.2")
	assert.Equal(t, 1, fc.shutdownCalls)
	assert.Equal(t, 1, fm.deregisterCalls)
}

func TestMatchingOverlayPasses(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("s_in", port.OperatorS, false, true, false, 0))
	queueOverlayMessage(fc, overlayWith("dt", settings.FloatValue(0.1)))
	fc.queue("s_in", message.New(1.0, message.MustData(5)).
		WithSettings(overlayWith("dt", settings.FloatValue(0.1))))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.ReuseInstance(true)
	require.NoError(t, err)

	msg, err := i.Receive("s_in")
	require.NoError(t, err)
	assert.False(t, msg.HasSettings(), "settings are stripped on a plain receive")
}

func TestReceiveWithSettingsSkipsCheckAndKeepsOverlay(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("s_in", port.OperatorS, false, true, false, 0))
	queueOverlayMessage(fc, overlayWith("dt", settings.FloatValue(0.1)))
	foreign := overlayWith("dt", settings.FloatValue(0.2))
	fc.queue("s_in", message.New(1.0, message.MustData(5)).WithSettings(foreign))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.ReuseInstance(true)
	require.NoError(t, err)

	msg, err := i.Receive("s_in", WithSettings())
	require.NoError(t, err)
	require.True(t, msg.HasSettings())
	assert.True(t, foreign.Equal(msg.Settings))
}

func TestReceiveOnClosedPortReportsPeerCrash(t *testing.T) {
	fc := newFakeComm()
	fc.addPort(port.New("s_in", port.OperatorS, false, true, false, 0))
	fc.queue("s_in", message.New(0.0, message.ClosePort()))

	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.Receive("s_in")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortClosed)
	assert.Contains(t, err.Error(), "crash")
	assert.Equal(t, 1, fc.shutdownCalls)
}

func TestReceiveOnUnknownPortFails(t *testing.T) {
	fc := newFakeComm()
	i, err := newTestInstance(baseArgv, nil, fc, newFakeManager())
	require.NoError(t, err)

	_, err = i.Receive("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortNotFound)
}
