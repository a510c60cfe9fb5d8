// Package instance implements the instance-side runtime of the
// coupling framework: the object a submodel drives its reuse loop
// through. It registers the instance with the manager, connects the
// transport to its peers, pre-receives initialization inputs, tracks
// settings overlays across reuse iterations, validates and routes
// sends and receives, and shuts everything down cleanly.
package instance

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/c360/coupling/communicator"
	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/metric"
	"github.com/c360/coupling/mmp"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/profiler"
	"github.com/c360/coupling/reference"
	"github.com/c360/coupling/settings"
	"github.com/c360/coupling/types"
)

const (
	instanceFlag = "--muscle-instance="
	managerFlag  = "--muscle-manager="

	defaultManagerLocation = "localhost:9000"

	// profileLevelSetting optionally disables profiling; any value
	// other than "all" turns recording off.
	profileLevelSetting = "muscle_profile_level"
)

// Instance status values for the status gauge.
const (
	statusCreated = iota
	statusRegistered
	statusConnected
	statusShutDown
)

// Instance ties one submodel into a coupled simulation.
//
// An Instance is used from a single thread: create it, loop while
// ReuseInstance returns true, and receive and send inside the loop.
// All failures attempt a graceful shutdown before surfacing, so that
// peers and the manager observe a clean termination.
type Instance struct {
	name   reference.Reference
	kernel reference.Reference
	index  []int

	manager      ManagerClient
	comm         Communicator
	declared     types.PortsDescription
	settings     *settings.Manager
	profiler     *profiler.Profiler
	fInitCache   *fInitCache
	firstRun     bool
	isShutDown   bool
	exit         func(code int)
	logger       *slog.Logger
	metrics      *metric.Metrics
	managerAddr  string
	closeManager func()
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Instance) {
		i.logger = logger
	}
}

// WithMetrics enables Prometheus metrics recording.
func WithMetrics(m *metric.Metrics) Option {
	return func(i *Instance) {
		i.metrics = m
	}
}

// WithManagerClient substitutes the manager protocol client. Used by
// tests; the default dials the manager from the command line location.
func WithManagerClient(mc ManagerClient) Option {
	return func(i *Instance) {
		i.manager = mc
	}
}

// WithCommunicator substitutes the peer transport. Used by tests; the
// default connects a NATS transport to the manager's server.
func WithCommunicator(c Communicator) Option {
	return func(i *Instance) {
		i.comm = c
	}
}

// withExit substitutes the process exit for tests of ExitError.
func withExit(fn func(code int)) Option {
	return func(i *Instance) {
		i.exit = fn
	}
}

// New creates an Instance, registers it with the manager, and
// connects it to its peers.
//
// The command line must carry "--muscle-instance=<name>"; the manager
// location comes from "--muscle-manager=<host:port>" and defaults to
// localhost:9000. Other arguments are ignored; they belong to the
// submodel. The declared ports map lists port names per operator, a
// trailing "[]" marking vector ports; a nil map means ports are
// inferred from the conduits.
func New(argv []string, declared types.PortsDescription, opts ...Option) (*Instance, error) {
	name, err := parseInstanceName(argv)
	if err != nil {
		return nil, err
	}
	kernel, index := name.Identity()

	i := &Instance{
		name:        name,
		kernel:      kernel,
		index:       index,
		declared:    declared,
		settings:    settings.NewManager(),
		fInitCache:  newFInitCache(),
		firstRun:    true,
		exit:        os.Exit,
		logger:      slog.Default(),
		managerAddr: parseManagerLocation(argv),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("instance", name.String())

	if i.manager == nil {
		client, err := mmp.NewClient(i.managerAddr,
			mmp.WithLogger(i.logger), mmp.WithMetrics(i.metrics))
		if err != nil {
			return nil, errors.Wrap(err, "Instance", "New", "manager client")
		}
		i.manager = client
		i.closeManager = client.Close

		// mirror warnings and errors to the manager's central log
		i.logger = slog.New(newTeeHandler(
			i.logger.Handler(),
			mmp.NewLogHandler(client, name.String(), slog.LevelWarn)))
	}

	if i.comm == nil {
		transport, err := communicator.New(kernel, index,
			communicator.WithURL("nats://"+i.managerAddr),
			communicator.WithDeclaredPorts(declared),
			communicator.WithLogger(i.logger),
			communicator.WithMetrics(i.metrics))
		if err != nil {
			if i.closeManager != nil {
				i.closeManager()
			}
			return nil, errors.Wrap(err, "Instance", "New", "transport")
		}
		i.comm = transport
	}

	i.profiler = profiler.New(i.manager,
		profiler.WithLogger(i.logger), profiler.WithMetrics(i.metrics))

	if err := i.register(); err != nil {
		return nil, err
	}
	if err := i.connect(); err != nil {
		return nil, err
	}
	return i, nil
}

func parseInstanceName(argv []string) (reference.Reference, error) {
	for _, arg := range argv[1:] {
		if strings.HasPrefix(arg, instanceFlag) {
			name, err := reference.Parse(strings.TrimPrefix(arg, instanceFlag))
			if err != nil {
				return reference.Reference{}, errors.Wrap(
					err, "Instance", "New", "instance name parsing")
			}
			return name, nil
		}
	}
	return reference.Reference{}, errors.WrapInvalid(
		fmt.Errorf("%w: it is required to identify this instance", errors.ErrMissingInstance),
		"Instance", "New", "command line parsing")
}

func parseManagerLocation(argv []string) string {
	for _, arg := range argv[1:] {
		if strings.HasPrefix(arg, managerFlag) {
			return strings.TrimPrefix(arg, managerFlag)
		}
	}
	return defaultManagerLocation
}

// Name returns the full instance name.
func (i *Instance) Name() reference.Reference {
	return i.name
}

// register submits this instance's locations and declared ports to
// the manager.
func (i *Instance) register() error {
	event := profiler.Begin(i.name.String(), profiler.EventRegister)
	err := i.manager.RegisterInstance(i.name, i.comm.Locations(), i.listDeclaredPorts())
	if err != nil {
		return errors.Wrap(err, "Instance", "New", "registration")
	}
	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}
	i.metrics.RecordInstanceStatus(i.name.String(), statusRegistered)
	return nil
}

// connect asks the manager for the peer topology, hands it to the
// transport, and loads the base settings.
func (i *Instance) connect() error {
	event := profiler.Begin(i.name.String(), profiler.EventConnect)

	info, err := i.manager.RequestPeers(i.name)
	if err != nil {
		return errors.Wrap(err, "Instance", "New", "peer request")
	}
	if err := i.comm.Connect(info); err != nil {
		return errors.Wrap(err, "Instance", "New", "peer connection")
	}

	base, err := i.manager.GetSettings()
	if err != nil {
		return errors.Wrap(err, "Instance", "New", "base settings")
	}
	i.settings.Base = base

	if level, err := i.settings.GetSetting(i.name, reference.MustParse(profileLevelSetting)); err == nil {
		if levelStr, err := level.AsString(); err == nil {
			i.profiler.SetLevel(levelStr)
		}
	}

	if err := i.profiler.RecordEvent(event); err != nil {
		i.logger.Warn("could not record profile event", "error", err)
	}
	i.metrics.RecordInstanceStatus(i.name.String(), statusConnected)
	i.logger.Info("instance connected", "conduits", len(info.Conduits))
	return nil
}

// listDeclaredPorts flattens the declared ports map for registration,
// stripping the "[]" vector suffix.
func (i *Instance) listDeclaredPorts() []types.PortDesc {
	var result []types.PortDesc
	for oper, names := range i.declared {
		for _, name := range names {
			result = append(result, types.PortDesc{
				Name:     strings.TrimSuffix(name, "[]"),
				Operator: oper,
			})
		}
	}
	return result
}

// ReuseInstance decides whether the submodel should run again, and
// with what settings. Call it as the condition of the outer loop.
//
// With applyOverlay true (the usual case), the settings overlay of the
// incoming iteration is applied to this instance before any messages
// are handed to the user; pass false to inspect overlays manually via
// receives with settings.
func (i *Instance) ReuseInstance(applyOverlay bool) (bool, error) {
	doReuse, err := i.receiveSettings()
	if err != nil {
		return false, err
	}

	if i.fInitCache.Len() > 0 {
		i.logger.Warn("initialization messages from the previous iteration"+
			" were never received; discarding them",
			"count", i.fInitCache.Len())
	}

	if err := i.preReceiveFInit(applyOverlay); err != nil {
		return false, err
	}

	ports := i.comm.ListPorts()
	fInitNotConnected := true
	for _, name := range ports[port.OperatorFInit] {
		p, err := i.comm.Port(name)
		if err != nil {
			return false, i.failInvalid(err, "ReuseInstance", "port lookup")
		}
		if p.IsConnected() {
			fInitNotConnected = false
			break
		}
	}
	noSettingsIn := !i.comm.SettingsInConnected()

	if fInitNotConnected && noSettingsIn {
		// nothing upstream can signal reuse, so run exactly once
		doReuse = i.firstRun
		i.firstRun = false
	} else {
		i.fInitCache.Each(func(_ string, msg message.Message) {
			if message.IsClosePort(msg.Data) {
				doReuse = false
			}
		})
	}

	if doReuse {
		i.metrics.RecordReuseIteration(i.name.String())
	}
	return doReuse, nil
}

// ExitError shuts the instance down and terminates the process with a
// nonzero status. Use it for unrecoverable submodel errors, so that
// peers and the manager see a clean termination rather than a hang.
func (i *Instance) ExitError(msg string) {
	i.logger.Error("instance exiting with error", "reason", msg)
	i.shutdown()
	i.exit(1)
}

// Close shuts the instance down if that has not happened yet. Always
// call it (or ExitError) before the process ends, so that in-flight
// messages are drained and the instance deregisters.
func (i *Instance) Close() error {
	i.shutdown()
	return nil
}

// GetSetting returns the value of a setting, scoped to this instance.
func (i *Instance) GetSetting(name string) (settings.Value, error) {
	ref, err := reference.Parse(name)
	if err != nil {
		return settings.Value{}, errors.Wrap(err, "Instance", "GetSetting", "name parsing")
	}
	return i.settings.GetSetting(i.name, ref)
}

// GetSettingString returns a string-typed setting.
func (i *Instance) GetSettingString(name string) (string, error) {
	v, err := i.GetSetting(name)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// GetSettingInt returns an integer-typed setting.
func (i *Instance) GetSettingInt(name string) (int64, error) {
	v, err := i.GetSetting(name)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

// GetSettingFloat returns a float-typed setting; integer values
// convert.
func (i *Instance) GetSettingFloat(name string) (float64, error) {
	v, err := i.GetSetting(name)
	if err != nil {
		return 0, err
	}
	return v.AsFloat()
}

// GetSettingBool returns a boolean-typed setting.
func (i *Instance) GetSettingBool(name string) (bool, error) {
	v, err := i.GetSetting(name)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

// GetSettingFloatList returns a list-of-floats setting.
func (i *Instance) GetSettingFloatList(name string) ([]float64, error) {
	v, err := i.GetSetting(name)
	if err != nil {
		return nil, err
	}
	return v.AsFloatList()
}

// GetSettingFloatGrid returns a list-of-lists-of-floats setting.
func (i *Instance) GetSettingFloatGrid(name string) ([][]float64, error) {
	v, err := i.GetSetting(name)
	if err != nil {
		return nil, err
	}
	return v.AsFloatGrid()
}

// ListPorts returns this instance's ports grouped by operator.
func (i *Instance) ListPorts() map[port.Operator][]string {
	return i.comm.ListPorts()
}

// IsConnected reports whether the named port is attached to a conduit.
func (i *Instance) IsConnected(portName string) (bool, error) {
	p, err := i.comm.Port(portName)
	if err != nil {
		return false, err
	}
	return p.IsConnected(), nil
}

// IsVectorPort reports whether the named port has slots.
func (i *Instance) IsVectorPort(portName string) (bool, error) {
	p, err := i.comm.Port(portName)
	if err != nil {
		return false, err
	}
	return p.IsVector(), nil
}

// IsResizable reports whether the named port's length can be set.
func (i *Instance) IsResizable(portName string) (bool, error) {
	p, err := i.comm.Port(portName)
	if err != nil {
		return false, err
	}
	return p.IsResizable(), nil
}

// GetPortLength returns the length of a vector port.
func (i *Instance) GetPortLength(portName string) (int, error) {
	p, err := i.comm.Port(portName)
	if err != nil {
		return 0, err
	}
	return p.Length()
}

// SetPortLength resizes a resizable vector port.
func (i *Instance) SetPortLength(portName string, length int) error {
	p, err := i.comm.Port(portName)
	if err != nil {
		return err
	}
	return p.SetLength(length)
}
