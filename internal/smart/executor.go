package smart

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartgarden/garden-core/internal/device"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceClaimer is the registry surface the executor needs.
type DeviceClaimer interface {
	Claim(id string, controller device.Controller) (device.Lease, bool)
	Release(id string, lease device.Lease) bool
}

// Actuator publishes run and stop commands for a device.
type Actuator interface {
	Start(deviceID string) error
	Stop(deviceID string) error
}

// ActionEventType describes what happened to an intent.
type ActionEventType string

// Action event types.
const (
	ActionStarted ActionEventType = "started"
	ActionStopped ActionEventType = "stopped"
	ActionDropped ActionEventType = "dropped"
	ActionFailed  ActionEventType = "failed"
)

// ActionEvent reports one step of an action's life.
type ActionEvent struct {
	ActionID        string            `json:"action_id"`
	CycleID         string            `json:"cycle_id,omitempty"`
	DeviceID        string            `json:"device_id"`
	Event           ActionEventType   `json:"event"`
	Controller      device.Controller `json:"controller"`
	DurationSeconds int               `json:"duration_seconds"`
	Priority        Priority          `json:"priority,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Error           string            `json:"error,omitempty"`
	At              time.Time         `json:"at"`
}

// ActionObserver receives action events. It is called from executor
// goroutines and must not block for long.
type ActionObserver func(ActionEvent)

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// StopOnShutdown publishes a stop for every pending device on Close.
	StopOnShutdown bool

	// Unit is the length of one duration second. Zero means time.Second.
	Unit time.Duration
}

type pendingStop struct {
	actionID string
	cycleID  string
	intent   ActionIntent
	lease    device.Lease
	timer    *time.Timer
}

func (p *pendingStop) cancel() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Executor runs action intents without blocking the caller.
//
// Thread Safety: all methods are safe for concurrent use.
type Executor struct {
	registry DeviceClaimer
	actuator Actuator
	cfg      ExecutorConfig
	logger   Logger

	mu      sync.Mutex
	pending map[string]*pendingStop
	closed  bool

	running sync.WaitGroup // Execute goroutines
	firing  sync.WaitGroup // stop callbacks past their pending check

	obsMu     sync.RWMutex
	observers []ActionObserver
}

// NewExecutor creates an executor.
//
// Parameters:
//   - registry: Device registry used to claim and release devices
//   - actuator: Publishes the run/stop commands
//   - cfg: Executor options
//   - logger: Logger instance (may be nil)
func NewExecutor(registry DeviceClaimer, actuator Actuator, cfg ExecutorConfig, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Unit <= 0 {
		cfg.Unit = time.Second
	}
	return &Executor{
		registry: registry,
		actuator: actuator,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]*pendingStop),
	}
}

// AddObserver registers fn for action events.
func (e *Executor) AddObserver(fn ActionObserver) {
	if fn == nil {
		return
	}
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

// Execute runs intent in the background and returns at once. An intent for
// a device that cannot be claimed is dropped without an error.
func (e *Executor) Execute(intent ActionIntent) {
	e.execute("", intent)
}

// ExecuteAll runs every intent independently under one cycle id.
func (e *Executor) ExecuteAll(cycleID string, intents []ActionIntent) {
	for _, intent := range intents {
		e.execute(cycleID, intent)
	}
}

// Pending returns the number of devices with an armed stop.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Executor) execute(cycleID string, intent ActionIntent) {
	ps := &pendingStop{
		actionID: uuid.New().String(),
		cycleID:  cycleID,
		intent:   intent,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Debug("executor closed, action dropped", "device_id", intent.DeviceID)
		go e.emit(ps, ActionDropped, "executor closed", nil)
		return
	}
	e.running.Add(1)
	e.mu.Unlock()

	go e.run(ps)
}

func (e *Executor) run(ps *pendingStop) {
	defer e.running.Done()
	id := ps.intent.DeviceID

	lease, ok := e.registry.Claim(id, device.ControllerSmart)
	if !ok {
		e.logger.Debug("device busy, smart action dropped", "device_id", id, "action_id", ps.actionID)
		e.emit(ps, ActionDropped, "device busy", nil)
		return
	}
	ps.lease = lease

	var superseded *pendingStop
	e.mu.Lock()
	if prev, exists := e.pending[id]; exists {
		if prev.lease > lease {
			// A later claim already owns the device's stop.
			e.mu.Unlock()
			e.emit(ps, ActionDropped, "superseded", nil)
			return
		}
		prev.cancel()
		superseded = prev
		e.logger.Debug("pending stop superseded", "device_id", id, "action_id", prev.actionID)
	}
	e.pending[id] = ps
	e.mu.Unlock()

	if err := e.actuator.Start(id); err != nil {
		e.mu.Lock()
		if e.pending[id] == ps {
			delete(e.pending, id)
		}
		e.mu.Unlock()

		// The superseded run may still be live and its stop is cancelled.
		if superseded != nil {
			stopErr := e.actuator.Stop(id)
			if stopErr != nil {
				e.logger.Warn("publishing stop command failed", "device_id", id, "error", stopErr)
			}
			e.emit(superseded, ActionStopped, "superseding start failed", stopErr)
		}
		e.registry.Release(id, lease)

		e.logger.Warn("publishing start command failed", "device_id", id, "error", err)
		e.emit(ps, ActionFailed, "start publish failed", err)
		return
	}

	e.logger.Info("smart action started",
		"device_id", id,
		"duration_s", ps.intent.DurationSeconds,
		"priority", ps.intent.Priority,
		"action_id", ps.actionID,
	)
	e.emit(ps, ActionStarted, "", nil)

	d := time.Duration(ps.intent.DurationSeconds) * e.cfg.Unit
	e.mu.Lock()
	if e.pending[id] == ps {
		ps.timer = time.AfterFunc(d, func() { e.fire(ps) })
	}
	e.mu.Unlock()
}

// fire is the deferred stop for ps.
func (e *Executor) fire(ps *pendingStop) {
	id := ps.intent.DeviceID

	e.mu.Lock()
	if e.pending[id] != ps {
		e.mu.Unlock()
		return
	}
	delete(e.pending, id)
	e.firing.Add(1)
	e.mu.Unlock()
	defer e.firing.Done()

	e.stop(ps, "timer")
}

// stop publishes the stop command and releases the claim whatever the
// publish outcome.
func (e *Executor) stop(ps *pendingStop, reason string) {
	id := ps.intent.DeviceID

	err := e.actuator.Stop(id)
	if err != nil {
		e.logger.Warn("publishing stop command failed", "device_id", id, "error", err)
	}
	released := e.registry.Release(id, ps.lease)

	e.logger.Info("smart action stopped",
		"device_id", id,
		"action_id", ps.actionID,
		"released", released,
	)
	e.emit(ps, ActionStopped, reason, err)
}

// Close cancels every pending stop. With StopOnShutdown set it publishes
// those stops immediately. Execute calls after Close are dropped.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.running.Wait()

	e.mu.Lock()
	pending := make([]*pendingStop, 0, len(e.pending))
	for id, ps := range e.pending {
		ps.cancel()
		pending = append(pending, ps)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	e.firing.Wait()

	if !e.cfg.StopOnShutdown {
		if len(pending) > 0 {
			e.logger.Warn("pending stops discarded on shutdown", "count", len(pending))
		}
		return
	}
	for _, ps := range pending {
		e.stop(ps, "shutdown")
	}
}

func (e *Executor) emit(ps *pendingStop, event ActionEventType, reason string, err error) {
	ev := ActionEvent{
		ActionID:        ps.actionID,
		CycleID:         ps.cycleID,
		DeviceID:        ps.intent.DeviceID,
		Event:           event,
		Controller:      device.ControllerSmart,
		DurationSeconds: ps.intent.DurationSeconds,
		Priority:        ps.intent.Priority,
		Reason:          reason,
		At:              time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}

	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}
