package smart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/telemetry"
	"github.com/smartgarden/garden-core/internal/vision"
)

// MessageNoActions is the cycle message when nothing needed doing.
const MessageNoActions = "no actions needed"

// SnapshotSource provides the current telemetry.
type SnapshotSource interface {
	Snapshot() telemetry.Snapshot
}

// IntentRunner executes intents. *Executor satisfies it.
type IntentRunner interface {
	ExecuteAll(cycleID string, intents []ActionIntent)
}

// DiagnosisStore persists diagnoses.
type DiagnosisStore interface {
	// SaveDiagnosis stores d and returns its id.
	SaveDiagnosis(ctx context.Context, d diagnosis.Diagnosis, imageName string, leaves []diagnosis.LeafObservation) (string, error)

	// LatestDiagnosis returns the most recent diagnosis. ok is false when
	// none has been stored.
	LatestDiagnosis(ctx context.Context) (d diagnosis.Diagnosis, ok bool, err error)
}

// Analyzer runs the vision pipeline on one image.
type Analyzer interface {
	Analyze(ctx context.Context, filename string, image io.Reader) (vision.Result, error)
}

// CycleResult describes one smart control evaluation.
type CycleResult struct {
	CycleID     string              `json:"cycle_id"`
	Diagnosis   diagnosis.Diagnosis `json:"diagnosis"`
	Telemetry   telemetry.Snapshot  `json:"telemetry"`
	Actions     []ActionIntent      `json:"actions"`
	Message     string              `json:"message"`
	TriggeredAt time.Time           `json:"triggered_at"`
}

// Analysis is the outcome of Controller.Analyze.
type Analysis struct {
	// ID is the stored diagnosis id; empty when persistence failed.
	ID        string                      `json:"id,omitempty"`
	ImageName string                      `json:"image_name"`
	Diagnosis diagnosis.Diagnosis         `json:"diagnosis"`
	Leaves    []diagnosis.LeafObservation `json:"leaves,omitempty"`

	// Cycle is set when the analysis triggered a control cycle.
	Cycle *CycleResult `json:"cycle,omitempty"`
}

// CycleObserver is told about every TriggerSmartControl outcome.
type CycleObserver func(CycleResult, error)

// ControllerConfig tunes the controller.
type ControllerConfig struct {
	// AutoTrigger runs a control cycle after every successful analysis.
	AutoTrigger bool
}

// Controller runs smart control cycles.
//
// Thread Safety: all methods are safe for concurrent use.
type Controller struct {
	evaluator *Evaluator
	runner    IntentRunner
	snapshots SnapshotSource
	store     DiagnosisStore
	analyzer  Analyzer
	cfg       ControllerConfig
	logger    Logger

	enabled atomic.Bool

	// latest is the last diagnosis seen, used when the store is unavailable.
	latestMu sync.RWMutex
	latest   *diagnosis.Diagnosis

	obsMu     sync.RWMutex
	observers []CycleObserver
}

// NewController creates a controller. Smart control starts enabled.
//
// Parameters:
//   - evaluator: Rule evaluator
//   - runner: Executes the chosen intents (normally *Executor)
//   - snapshots: Live telemetry
//   - store: Diagnosis persistence (may be nil)
//   - analyzer: Vision pipeline client (may be nil)
//   - cfg: Controller options
//   - logger: Logger instance (may be nil)
func NewController(evaluator *Evaluator, runner IntentRunner, snapshots SnapshotSource, store DiagnosisStore, analyzer Analyzer, cfg ControllerConfig, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Controller{
		evaluator: evaluator,
		runner:    runner,
		snapshots: snapshots,
		store:     store,
		analyzer:  analyzer,
		cfg:       cfg,
		logger:    logger,
	}
	c.enabled.Store(true)
	return c
}

// SetEnabled switches smart control on or off.
func (c *Controller) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether smart control is available.
func (c *Controller) Enabled() bool {
	return c.enabled.Load()
}

// AddCycleObserver registers fn for cycle outcomes.
func (c *Controller) AddCycleObserver(fn CycleObserver) {
	if fn == nil {
		return
	}
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// TriggerSmartControl evaluates the latest diagnosis against the current
// telemetry and starts the resulting actions. It returns once the actions
// are dispatched, not when they finish.
//
// Returns:
//   - CycleResult: The intents dispatched, or MessageNoActions
//   - error: ErrSmartControlDisabled, ErrNoDiagnosis, or nil
func (c *Controller) TriggerSmartControl(ctx context.Context) (CycleResult, error) {
	if !c.Enabled() {
		c.notify(CycleResult{}, ErrSmartControlDisabled)
		return CycleResult{}, ErrSmartControlDisabled
	}

	d, err := c.latestDiagnosis(ctx)
	if err != nil {
		c.notify(CycleResult{}, err)
		return CycleResult{}, err
	}

	return c.cycle(d), nil
}

// Analyze sends one image to the vision pipeline, fuses the result into a
// diagnosis and stores it. Storage failures are logged and do not fail the
// analysis. Vision failures abort before anything is stored or actuated.
func (c *Controller) Analyze(ctx context.Context, filename string, image io.Reader) (Analysis, error) {
	if c.analyzer == nil {
		return Analysis{}, ErrVisionUnavailable
	}

	res, err := c.analyzer.Analyze(ctx, filename, image)
	if err != nil {
		c.logger.Warn("image analysis failed", "image", filename, "error", err)
		return Analysis{}, fmt.Errorf("analyzing image: %w", err)
	}

	d := res.Diagnosis()
	a := Analysis{ImageName: filename, Diagnosis: d, Leaves: res.Leaves}

	c.latestMu.Lock()
	c.latest = &d
	c.latestMu.Unlock()

	if c.store != nil {
		id, saveErr := c.store.SaveDiagnosis(ctx, d, filename, res.Leaves)
		if saveErr != nil {
			c.logger.Warn("storing diagnosis failed", "image", filename, "error", saveErr)
		} else {
			a.ID = id
		}
	}

	c.logger.Info("image analysed",
		"image", filename,
		"label", d.Label,
		"confidence", d.Confidence,
		"supporting", d.SupportingCount,
		"total_leaves", d.TotalLeaves,
	)

	if c.cfg.AutoTrigger && c.Enabled() && !d.IsSentinel() {
		result := c.cycle(d)
		a.Cycle = &result
	}

	return a, nil
}

// latestDiagnosis prefers the store and falls back to the last diagnosis
// seen by this process when the store fails.
func (c *Controller) latestDiagnosis(ctx context.Context) (diagnosis.Diagnosis, error) {
	if c.store != nil {
		d, ok, err := c.store.LatestDiagnosis(ctx)
		switch {
		case err != nil:
			c.logger.Warn("loading latest diagnosis failed, using in-memory copy", "error", err)
		case ok:
			return d, nil
		default:
			return diagnosis.Diagnosis{}, ErrNoDiagnosis
		}
	}

	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	if c.latest == nil {
		return diagnosis.Diagnosis{}, ErrNoDiagnosis
	}
	return *c.latest, nil
}

func (c *Controller) cycle(d diagnosis.Diagnosis) CycleResult {
	snap := c.snapshots.Snapshot()
	intents := c.evaluator.Evaluate(d, snap)

	result := CycleResult{
		CycleID:     uuid.New().String(),
		Diagnosis:   d,
		Telemetry:   snap,
		Actions:     intents,
		TriggeredAt: time.Now().UTC(),
	}
	if result.Actions == nil {
		result.Actions = []ActionIntent{}
	}

	if len(intents) == 0 {
		result.Message = MessageNoActions
	} else {
		result.Message = fmt.Sprintf("%d action(s) dispatched", len(intents))
		c.runner.ExecuteAll(result.CycleID, intents)
	}

	c.logger.Info("smart control cycle",
		"cycle_id", result.CycleID,
		"label", d.Label,
		"confidence", d.Confidence,
		"humidity", snap.Humidity,
		"soil_moisture", snap.SoilMoisture,
		"actions", len(intents),
	)
	c.notify(result, nil)
	return result
}

func (c *Controller) notify(result CycleResult, err error) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(result, err)
	}
}

// CycleOutcome names a cycle result for metrics.
func CycleOutcome(result CycleResult, err error) string {
	switch {
	case errors.Is(err, ErrSmartControlDisabled):
		return "disabled"
	case errors.Is(err, ErrNoDiagnosis):
		return "no_diagnosis"
	case err != nil:
		return "error"
	case len(result.Actions) == 0:
		return "no_actions"
	default:
		return "actions"
	}
}
