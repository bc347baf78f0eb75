package frontend

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coupledsim/fmigate/pkg/directory"
	"github.com/coupledsim/fmigate/pkg/events"
	"github.com/coupledsim/fmigate/pkg/log"
	"github.com/coupledsim/fmigate/pkg/metrics"
	"github.com/coupledsim/fmigate/pkg/modeldesc"
	"github.com/coupledsim/fmigate/pkg/rendezvous"
	"github.com/coupledsim/fmigate/pkg/shm"
	"github.com/coupledsim/fmigate/pkg/supervisor"
	"github.com/coupledsim/fmigate/pkg/types"
)

// comPointPrecision is the tolerance used to compare the master's
// communication point against the adapter's internal time.
const comPointPrecision = 1e-9

// Segment size estimate: a base allowance for the header, control slots
// and block bookkeeping, plus the record vectors, plus a string-storage
// reserve per string variable.
const (
	segmentBaseSize    = 4096
	stringValueReserve = 2048
)

// LoggerCallback is the typed port behind the master's printf-shaped
// logger: one line per event, tagged with the instance and a short
// category (ABORT, DISCARD STEP, WARNING, DEBUG).
type LoggerCallback func(instance string, st types.Status, category, message string)

// StepFinishedCallback is invoked after every DoStep with its outcome.
// A DoStep on an already poisoned adapter returns Fatal without invoking
// it.
type StepFinishedCallback func(st types.Status)

// Config carries the collaborators handed to the adapter at
// construction.
type Config struct {
	Logger       LoggerCallback
	StepFinished StepFinishedCallback
	Broker       *events.Broker

	// LoggingOn enables debug lines; it is mirrored into the segment so
	// the worker sees the same switch.
	LoggingOn bool

	// SegmentID overrides the process-ID-derived segment name, so one
	// master can couple to workers that compute their segment name from
	// a configured identifier rather than their own PID.
	SegmentID string

	// DisableLaunch skips spawning the worker process. The worker is
	// then managed externally (or runs in-process) and attaches to the
	// configured SegmentID on its own.
	DisableLaunch bool
}

// Adapter implements the slave side of the co-simulation contract on
// top of the shared-memory rendezvous. One adapter wraps one worker.
// A single instance must not be driven concurrently.
type Adapter struct {
	cfg   Config
	token string
	lg    zerolog.Logger

	instanceName string
	master       *rendezvous.Master
	worker       *supervisor.Worker
	dir          *directory.Directory

	currentCommPoint *shm.RealSlot
	commStepSize     *shm.RealSlot
	stopTime         *shm.RealSlot
	stopTimeDefined  *shm.BoolSlot
	enforceStep      *shm.BoolSlot
	rejectStep       *shm.BoolSlot
	slaveTerminated  *shm.BoolSlot
	fmuType          *shm.IntSlot
	loggingOn        *shm.BoolSlot

	instantiated bool
	poisoned     bool
	closed       bool
}

// New creates an adapter. Nothing is allocated until Instantiate.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:   cfg,
		token: uuid.New().String(),
		lg:    log.WithComponent("frontend"),
	}
}

func (a *Adapter) logf(st types.Status, category, msg string) {
	if st == types.StatusOK && !a.cfg.LoggingOn {
		return
	}
	var ev *zerolog.Event
	switch st {
	case types.StatusOK:
		ev = a.lg.Debug()
	case types.StatusWarning, types.StatusDiscard:
		ev = a.lg.Warn()
	default:
		ev = a.lg.Error()
	}
	ev.Str("category", category).Str("instance", a.instanceName).Msg(msg)

	if a.cfg.Logger != nil {
		a.cfg.Logger(a.instanceName, st, category, msg)
	}
}

func (a *Adapter) publish(t events.EventType, msg string, meta map[string]string) {
	if a.cfg.Broker == nil {
		return
	}
	a.cfg.Broker.Publish(&events.Event{
		Type:     t,
		Instance: a.instanceName,
		Message:  msg,
		Metadata: meta,
	})
}

func (a *Adapter) fatal(category, msg string) types.Status {
	a.poisoned = true
	a.logf(types.StatusFatal, category, msg)
	return types.StatusFatal
}

// Instantiate parses the model description at
// <fmuLocation>/modelDescription.xml, verifies the GUID, launches the
// worker, creates the shared segment and populates the variable
// directory. No simulation time passes.
func (a *Adapter) Instantiate(instanceName, guid, fmuLocation string, visible bool) types.Status {
	a.instanceName = instanceName
	a.lg = log.WithComponent("frontend").With().Str("instance", instanceName).Logger()
	_ = visible // window management is the simulator's business

	if a.instantiated {
		return a.fatal("ABORT", "adapter already instantiated")
	}

	location, err := supervisor.PathFromURI(fmuLocation)
	if err != nil {
		return a.fatal("ABORT", fmt.Sprintf("invalid FMU location URI: %v", err))
	}

	doc, err := modeldesc.Parse(location + "/" + modeldesc.FileName)
	if err != nil {
		return a.fatal("ABORT", fmt.Sprintf("unable to parse XML model description: %v", err))
	}
	if doc.GUID != guid {
		return a.fatal("ABORT", "wrong GUID")
	}

	pid := 0
	if !a.cfg.DisableLaunch {
		cmd, err := supervisor.Resolve(doc, location, a.lg)
		if err != nil {
			return a.fatal("ABORT", "incompatible model description")
		}
		if err := supervisor.CopyInputFiles(doc.AdditionalFiles, location, cmd.WorkDir); err != nil {
			return a.fatal("ABORT", fmt.Sprintf("unable to copy additional input files: %v", err))
		}
		a.worker, err = supervisor.Launch(cmd, a.lg)
		if err != nil {
			return a.fatal("ABORT", "unable to start external simulator application")
		}
		pid = a.worker.PID()
		metrics.WorkersRunning.Inc()
		a.publish(events.EventWorkerStarted, cmd.Executable, map[string]string{"pid": strconv.Itoa(pid)})
	} else if a.cfg.SegmentID == "" {
		return a.fatal("ABORT", "launch disabled but no segment name configured")
	}

	segmentID := a.cfg.SegmentID
	if segmentID == "" {
		segmentID = types.SegmentPrefix + strconv.Itoa(pid)
	}

	nReal, nInteger, nBoolean, nString := doc.Counts()
	segmentSize := int64(segmentBaseSize +
		(nReal+nInteger+nBoolean+nString)*shm.RecordBytes() +
		nString*stringValueReserve)

	a.master, err = rendezvous.NewMaster(segmentID, segmentSize, a.lg)
	if err != nil {
		return a.fatal("ABORT", fmt.Sprintf("unable to create proper shared memory segment: %v", err))
	}

	// Synchronization point: the initial semaphore count grants the
	// master the first turn without waiting for the worker.
	if err := a.master.WaitForSlave(); err != nil {
		return a.fatal("ABORT", fmt.Sprintf("rendezvous failed: %v", err))
	}

	if st := a.constructControlSlots(doc); st != types.StatusOK {
		return st
	}

	a.dir, err = directory.Build(a.master.Segment, doc, a.lg)
	if err != nil {
		return a.fatal("ABORT", fmt.Sprintf("unable to create variable directory: %v", err))
	}

	a.instantiated = true
	metrics.InstancesTotal.Inc()
	a.publish(events.EventInstanceCreated, doc.ModelName,
		map[string]string{"segment": segmentID, "token": a.token})
	a.logf(types.StatusOK, "DEBUG", "instantiation done")

	return types.StatusOK
}

func (a *Adapter) constructControlSlots(doc *modeldesc.Document) types.Status {
	seg := a.master.Segment
	var err error

	construct := func(name string, f func() error) bool {
		if err = f(); err != nil {
			a.fatal("ABORT", fmt.Sprintf("unable to create internal variable '%s': %v", name, err))
			return false
		}
		return true
	}

	ok := construct(types.SlotCurrentCommPoint, func() error {
		a.currentCommPoint, err = seg.ConstructReal(types.SlotCurrentCommPoint, 0)
		return err
	}) && construct(types.SlotCommStepSize, func() error {
		a.commStepSize, err = seg.ConstructReal(types.SlotCommStepSize, 0)
		return err
	}) && construct(types.SlotStopTime, func() error {
		a.stopTime, err = seg.ConstructReal(types.SlotStopTime, math.MaxFloat64)
		return err
	}) && construct(types.SlotStopTimeDefined, func() error {
		a.stopTimeDefined, err = seg.ConstructBoolean(types.SlotStopTimeDefined, false)
		return err
	}) && construct(types.SlotEnforceStep, func() error {
		a.enforceStep, err = seg.ConstructBoolean(types.SlotEnforceStep, false)
		return err
	}) && construct(types.SlotRejectStep, func() error {
		a.rejectStep, err = seg.ConstructBoolean(types.SlotRejectStep, false)
		return err
	}) && construct(types.SlotSlaveTerminated, func() error {
		a.slaveTerminated, err = seg.ConstructBoolean(types.SlotSlaveTerminated, false)
		return err
	}) && construct(types.SlotFMUType, func() error {
		a.fmuType, err = seg.ConstructInteger(types.SlotFMUType, int64(doc.Version()))
		return err
	}) && construct(types.SlotLoggingOn, func() error {
		a.loggingOn, err = seg.ConstructBoolean(types.SlotLoggingOn, a.cfg.LoggingOn)
		return err
	}) && construct(types.SlotProtocolVersion, func() error {
		_, err := seg.ConstructInteger(types.SlotProtocolVersion, types.ProtocolVersionNumber)
		return err
	})

	if !ok {
		return types.StatusFatal
	}
	return types.StatusOK
}

// InitializeSlave hands the start time, stop time and stop-time flag to
// the worker and blocks until its initialization completes.
func (a *Adapter) InitializeSlave(tStart float64, stopTimeDefined bool, tStop float64) types.Status {
	if a.poisoned {
		return types.StatusFatal
	}
	if !a.instantiated {
		return a.fatal("ABORT", "initializeSlave called before instantiate")
	}

	a.logf(types.StatusOK, "DEBUG", fmt.Sprintf("initialize slave at time t = %g", tStart))

	a.currentCommPoint.Set(tStart)
	a.stopTimeDefined.Set(stopTimeDefined)
	a.stopTime.Set(tStop)

	// Synchronization point: give control to the slave, let it
	// initialize, take control back.
	if err := a.master.SignalToSlave(); err != nil {
		return a.fatal("ABORT", fmt.Sprintf("rendezvous failed: %v", err))
	}
	if err := a.master.WaitForSlave(); err != nil {
		return a.fatal("ABORT", fmt.Sprintf("rendezvous failed: %v", err))
	}

	if a.slaveTerminated.Get() {
		return a.fatal("ABORT", "slave terminated during initialization")
	}

	a.logf(types.StatusOK, "DEBUG", "initialization done")
	return types.StatusOK
}

// DoStep advances the adapter by one communication step.
func (a *Adapter) DoStep(comPoint, stepSize float64, noSetStatePrior bool) types.Status {
	if a.poisoned {
		return types.StatusFatal
	}
	_ = noSetStatePrior // state rollback is not supported

	a.logf(types.StatusOK, "DEBUG",
		fmt.Sprintf("doStep - communication point = %g - step size = %g", comPoint, stepSize))

	if a.slaveTerminated.Get() {
		st := a.fatal("DEBUG", "slave has terminated")
		a.stepFinished(st)
		return st
	}

	if math.Abs(a.currentCommPoint.Get()-comPoint) > comPointPrecision {
		a.logf(types.StatusDiscard, "DISCARD STEP",
			fmt.Sprintf("internal time (%g) does not match communication point (%g)",
				a.currentCommPoint.Get(), comPoint))
		a.stepFinished(types.StatusDiscard)
		return types.StatusDiscard
	}

	if a.enforceStep.Get() {
		if stepSize != a.commStepSize.Get() {
			a.logf(types.StatusDiscard, "DISCARD STEP", "enforce time step: wrong step size")
			a.stepFinished(types.StatusDiscard)
			return types.StatusDiscard
		}
		a.logf(types.StatusOK, "DEBUG", "enforce time step: correct step size")
		a.enforceStep.Set(false)
	} else {
		a.commStepSize.Set(stepSize)
	}

	a.logf(types.StatusOK, "DEBUG", "start synchronization with slave ...")

	timer := metrics.NewTimer()
	if err := a.master.SignalToSlave(); err != nil {
		st := a.fatal("ABORT", fmt.Sprintf("rendezvous failed: %v", err))
		a.stepFinished(st)
		return st
	}
	if err := a.master.WaitForSlave(); err != nil {
		st := a.fatal("ABORT", fmt.Sprintf("rendezvous failed: %v", err))
		a.stepFinished(st)
		return st
	}
	timer.ObserveDuration(metrics.RendezvousWaitDuration)

	a.logf(types.StatusOK, "DEBUG", "... DONE")

	if a.rejectStep.Get() {
		a.rejectStep.Set(false)
		a.logf(types.StatusDiscard, "DISCARD STEP", "step rejected by slave")
		a.publish(events.EventStepDiscarded, "step rejected by slave", nil)
		a.stepFinished(types.StatusDiscard)
		return types.StatusDiscard
	}

	a.currentCommPoint.Set(a.currentCommPoint.Get() + stepSize)
	metrics.StepsTotal.WithLabelValues(types.StatusOK.String()).Inc()
	a.publish(events.EventStepCompleted,
		fmt.Sprintf("advanced to t = %g", a.currentCommPoint.Get()), nil)
	a.stepFinished(types.StatusOK)
	return types.StatusOK
}

func (a *Adapter) stepFinished(st types.Status) {
	if st == types.StatusDiscard {
		metrics.StepsTotal.WithLabelValues(st.String()).Inc()
	}
	if a.cfg.StepFinished != nil {
		a.cfg.StepFinished(st)
	}
}

// CurrentCommunicationPoint returns the adapter's internal time.
func (a *Adapter) CurrentCommunicationPoint() float64 {
	if a.currentCommPoint == nil {
		return 0
	}
	return a.currentCommPoint.Get()
}

// SetDebugLogging toggles debug output on both sides of the boundary.
func (a *Adapter) SetDebugLogging(on bool) {
	a.cfg.LoggingOn = on
	if a.loggingOn != nil {
		a.loggingOn.Set(on)
	}
}

// Terminate ends the slave. The worker is killed if and only if it has
// not reported its own termination.
func (a *Adapter) Terminate() types.Status {
	if !a.instantiated {
		return types.StatusFatal
	}
	a.shutdownWorker()
	a.publish(events.EventInstanceTerminated, "", nil)
	return types.StatusOK
}

func (a *Adapter) shutdownWorker() {
	if a.worker == nil {
		return
	}
	if a.slaveTerminated != nil && a.slaveTerminated.Get() {
		a.worker = nil
		metrics.WorkersRunning.Dec()
		return
	}
	a.worker.Terminate()
	a.publish(events.EventWorkerExited, "killed", nil)
	metrics.WorkersRunning.Dec()
	a.worker = nil
}

// Close kills a still-running worker and removes the shared segment.
// It is safe to call more than once.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	a.shutdownWorker()
	if a.master != nil {
		a.master.Close()
		a.master = nil
	}
	if a.instantiated {
		metrics.InstancesTotal.Dec()
	}
	return nil
}
