package device

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Observer is notified after every registry transition. Observers of one
// device see its records in transition order; a record that loses the race
// to a newer one is skipped. Observers must not change the registry.
type Observer func(Record)

type entry struct {
	rec   Record
	lease Lease
	seq   uint64

	// notifyMu serializes delivery; delivered is the last seq handed out.
	notifyMu  sync.Mutex
	delivered uint64
}

// Registry tracks actuator state and ownership.
//
// All public methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*entry
	lastLease Lease

	obsMu     sync.RWMutex
	observers []Observer

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*entry),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers fn to be called after each transition.
func (r *Registry) AddObserver(fn Observer) {
	if fn == nil {
		return
	}
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

// SetState records an observed state for a device.
func (r *Registry) SetState(id string, state State, controller Controller) {
	r.SetStatus(id, state, controller, "")
}

// SetStatus records an observed state with the firmware detail string.
// Any outstanding lease on the device is invalidated.
func (r *Registry) SetStatus(id string, state State, controller Controller, detail string) {
	if id == "" {
		return
	}

	r.mu.Lock()
	e := r.entryLocked(id)
	e.rec = Record{
		DeviceID:   id,
		State:      state,
		Controller: controller,
		Detail:     detail,
		UpdatedAt:  r.now().UTC(),
	}
	e.lease = 0
	e.seq++
	rec, seq := e.rec, e.seq
	r.mu.Unlock()

	r.logger.Debug("device state set",
		"device_id", id,
		"state", state,
		"controller", controller,
		"detail", detail,
	)
	r.notify(e, rec, seq)
}

// GetState returns the record for id.
func (r *Registry) GetState(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// IsFree reports whether a new claim on id would succeed. It is false only
// when the device is RUNNING under the raspberry controller.
func (r *Registry) IsFree(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isFreeLocked(id)
}

// List returns all records ordered by device id.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, e := range r.records {
		out = append(out, e.rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Claim atomically checks that id is free and marks it RUNNING under
// controller. On success the returned lease identifies this claim and any
// earlier lease on the device stops being current.
func (r *Registry) Claim(id string, controller Controller) (Lease, bool) {
	if id == "" {
		return 0, false
	}

	r.mu.Lock()
	if !r.isFreeLocked(id) {
		r.mu.Unlock()
		r.logger.Debug("device claim refused", "device_id", id, "controller", controller)
		return 0, false
	}

	r.lastLease++
	lease := r.lastLease
	e := r.entryLocked(id)
	e.rec = Record{
		DeviceID:   id,
		State:      StateRunning,
		Controller: controller,
		UpdatedAt:  r.now().UTC(),
	}
	e.lease = lease
	e.seq++
	rec, seq := e.rec, e.seq
	r.mu.Unlock()

	r.logger.Debug("device claimed", "device_id", id, "controller", controller, "lease", lease)
	r.notify(e, rec, seq)
	return lease, true
}

// Release returns id to IDLE with no owner if lease is still the current
// claim. It reports whether the release took effect.
func (r *Registry) Release(id string, lease Lease) bool {
	if lease == 0 {
		return false
	}

	r.mu.Lock()
	e, ok := r.records[id]
	if !ok || e.lease != lease {
		r.mu.Unlock()
		r.logger.Debug("stale device release ignored", "device_id", id, "lease", lease)
		return false
	}

	e.rec = Record{
		DeviceID:   id,
		State:      StateIdle,
		Controller: ControllerNone,
		UpdatedAt:  r.now().UTC(),
	}
	e.lease = 0
	e.seq++
	rec, seq := e.rec, e.seq
	r.mu.Unlock()

	r.logger.Debug("device released", "device_id", id, "lease", lease)
	r.notify(e, rec, seq)
	return true
}

// CurrentLease returns the outstanding lease on id, or zero.
func (r *Registry) CurrentLease(id string) Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.records[id]; ok {
		return e.lease
	}
	return 0
}

func (r *Registry) isFreeLocked(id string) bool {
	e, ok := r.records[id]
	if !ok {
		return true
	}
	return !e.rec.Busy()
}

func (r *Registry) entryLocked(id string) *entry {
	e, ok := r.records[id]
	if !ok {
		e = &entry{}
		r.records[id] = e
	}
	return e
}

// notify delivers rec unless a later transition of the same device has
// already been delivered.
func (r *Registry) notify(e *entry, rec Record, seq uint64) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if seq <= e.delivered {
		r.logger.Debug("stale device transition not delivered", "device_id", rec.DeviceID)
		return
	}
	e.delivered = seq

	for _, fn := range observers {
		fn(rec)
	}
}
