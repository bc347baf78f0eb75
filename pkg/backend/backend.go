package backend

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/coupledsim/fmigate/pkg/log"
	"github.com/coupledsim/fmigate/pkg/rendezvous"
	"github.com/coupledsim/fmigate/pkg/shm"
	"github.com/coupledsim/fmigate/pkg/types"
)

// Config controls how the back end locates and attaches to the shared
// segment created by the front end.
type Config struct {
	// SegmentID overrides the PID-derived segment name. Use it when the
	// front end was configured with the same identifier.
	SegmentID string

	// UseParentPID derives the segment name from the parent process
	// instead of this process, for workers started through a wrapper
	// script.
	UseParentPID bool

	// Attach retry policy; zero values use the rendezvous defaults.
	RetryInterval time.Duration
	MaxAttempts   int

	// LogPath overrides the per-worker log file location. An empty path
	// keeps the default fmibackend_pid<pid>.log in the working
	// directory.
	LogPath string
}

// Backend is the client runtime linked into the worker process. It
// attaches to the shared segment, registers the variables the worker
// declares, and exchanges values and turn signals with the master.
type Backend struct {
	cfg Config
	lg  zerolog.Logger

	slave *rendezvous.Slave

	currentCommPoint *shm.RealSlot
	commStepSize     *shm.RealSlot
	stopTime         *shm.RealSlot
	stopTimeDefined  *shm.BoolSlot
	enforceStep      *shm.BoolSlot
	rejectStep       *shm.BoolSlot
	slaveTerminated  *shm.BoolSlot
	fmuType          *shm.IntSlot
	loggingOn        *shm.BoolSlot

	realParams    []shm.Record
	integerParams []shm.Record
	booleanParams []shm.Record
	stringParams  []shm.Record

	realInputs    []shm.Record
	integerInputs []shm.Record
	booleanInputs []shm.Record
	stringInputs  []shm.Record

	realOutputs    []shm.Record
	integerOutputs []shm.Record
	booleanOutputs []shm.Record
	stringOutputs  []shm.Record

	terminated bool
}

// New creates a back end; nothing attaches until StartInitialization.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg, lg: zerolog.Nop()}
}

func (b *Backend) segmentID() string {
	if b.cfg.SegmentID != "" {
		return b.cfg.SegmentID
	}
	pid := os.Getpid()
	if b.cfg.UseParentPID {
		pid = os.Getppid()
	}
	return types.SegmentPrefix + strconv.Itoa(pid)
}

// StartInitialization attaches to the shared segment (retrying while
// the front end is still constructing it), acquires the slave turn and
// resolves all control slots. Any missing slot is fatal.
func (b *Backend) StartInitialization() error {
	logPath := b.cfg.LogPath
	if logPath == "" {
		logPath = "fmibackend_pid" + strconv.Itoa(os.Getpid()) + ".log"
	}
	if lg, err := log.FileLogger(logPath); err == nil {
		b.lg = lg.With().Str("component", "backend").Logger()
	}

	var err error
	b.slave, err = rendezvous.NewSlave(b.segmentID(), rendezvous.SlaveConfig{
		RetryInterval: b.cfg.RetryInterval,
		MaxAttempts:   b.cfg.MaxAttempts,
	}, b.lg)
	if err != nil {
		b.lg.Error().Str("category", "ABORT").Err(err).Msg("unable to attach to shared memory segment")
		return err
	}

	// The master constructs all shared objects before it hands over the
	// first turn; block until then.
	if err := b.slave.WaitForMaster(); err != nil {
		return err
	}

	resolve := func(name string, f func() error) error {
		if err := f(); err != nil {
			b.lg.Error().Str("category", "ABORT").Err(err).
				Msgf("unable to retrieve internal variable '%s'", name)
			return fmt.Errorf("backend: retrieve %s: %w", name, err)
		}
		return nil
	}

	seg := b.slave.Segment
	steps := []struct {
		name string
		f    func() error
	}{
		{types.SlotCurrentCommPoint, func() (err error) { b.currentCommPoint, err = seg.FindReal(types.SlotCurrentCommPoint); return }},
		{types.SlotCommStepSize, func() (err error) { b.commStepSize, err = seg.FindReal(types.SlotCommStepSize); return }},
		{types.SlotStopTime, func() (err error) { b.stopTime, err = seg.FindReal(types.SlotStopTime); return }},
		{types.SlotStopTimeDefined, func() (err error) { b.stopTimeDefined, err = seg.FindBoolean(types.SlotStopTimeDefined); return }},
		{types.SlotEnforceStep, func() (err error) { b.enforceStep, err = seg.FindBoolean(types.SlotEnforceStep); return }},
		{types.SlotRejectStep, func() (err error) { b.rejectStep, err = seg.FindBoolean(types.SlotRejectStep); return }},
		{types.SlotSlaveTerminated, func() (err error) { b.slaveTerminated, err = seg.FindBoolean(types.SlotSlaveTerminated); return }},
		{types.SlotFMUType, func() (err error) { b.fmuType, err = seg.FindInteger(types.SlotFMUType); return }},
		{types.SlotLoggingOn, func() (err error) { b.loggingOn, err = seg.FindBoolean(types.SlotLoggingOn); return }},
	}
	for _, s := range steps {
		if err := resolve(s.name, s.f); err != nil {
			return err
		}
	}

	protocol, err := seg.FindInteger(types.SlotProtocolVersion)
	if err != nil {
		b.lg.Error().Str("category", "ABORT").Err(err).Msg("unable to retrieve internal variable 'protocol_version'")
		return fmt.Errorf("backend: retrieve %s: %w", types.SlotProtocolVersion, err)
	}
	if v := protocol.Get(); v != types.ProtocolVersionNumber {
		b.lg.Error().Str("category", "ABORT").Int64("version", v).Msg("front end speaks an unknown protocol version")
		return fmt.Errorf("backend: unsupported protocol version %d", v)
	}

	if b.loggingOn.Get() {
		b.lg.Debug().Str("category", "DEBUG").Msg("back end initialized successfully")
	}
	return nil
}

// EndInitialization returns the turn to the master; the first DoStep
// turn now belongs to it.
func (b *Backend) EndInitialization() error {
	if b.slave == nil {
		return errors.New("backend: not initialized")
	}
	return b.slave.SignalToMaster()
}

// WaitForMaster blocks until the master hands over the turn.
func (b *Backend) WaitForMaster() error {
	if b.slave == nil {
		return errors.New("backend: not initialized")
	}
	return b.slave.WaitForMaster()
}

// SignalToMaster returns the turn to the master. Do not touch shared
// data afterwards until WaitForMaster returns again.
func (b *Backend) SignalToMaster() error {
	if b.slave == nil {
		return errors.New("backend: not initialized")
	}
	return b.slave.SignalToMaster()
}

// CurrentCommunicationPoint returns the master's communication point.
func (b *Backend) CurrentCommunicationPoint() float64 { return b.currentCommPoint.Get() }

// CommunicationStepSize returns the pending communication step size.
func (b *Backend) CommunicationStepSize() float64 { return b.commStepSize.Get() }

// StopTime returns the configured stop time.
func (b *Backend) StopTime() float64 { return b.stopTime.Get() }

// StopTimeDefined reports whether the master defined a stop time.
func (b *Backend) StopTimeDefined() bool { return b.stopTimeDefined.Get() }

// LoggingOn reports whether the master enabled debug logging.
func (b *Backend) LoggingOn() bool { return b.loggingOn.Get() }

// FMIVersion returns the contract revision the front end declared.
func (b *Backend) FMIVersion() types.FMIVersion {
	return types.FMIVersion(b.fmuType.Get())
}

// EnforceTimeStep demands that the master's next step uses exactly the
// given size. Flag and step size are set together so the master sees a
// single atomic demand.
func (b *Backend) EnforceTimeStep(delta float64) {
	b.enforceStep.Set(true)
	b.commStepSize.Set(delta)
}

// RejectStep marks the current step as rejected; the master will
// discard it.
func (b *Backend) RejectStep() { b.rejectStep.Set(true) }

// Logger returns the worker-side file logger.
func (b *Backend) Logger() zerolog.Logger { return b.lg }

// Terminate notifies the front end that the back end is done and posts
// one final signal so a master blocked in doStep is released.
func (b *Backend) Terminate() {
	if b.slave == nil || b.terminated {
		return
	}
	b.terminated = true
	b.slaveTerminated.Set(true)
	b.slave.SignalToMaster()
	b.slave.Close()
}
