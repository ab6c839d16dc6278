package smart

import (
	"time"

	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

// Defaults for EvaluatorConfig.
const (
	DefaultMinConfidence   = 0.45
	DefaultPumpWindowStart = 6
	DefaultPumpWindowEnd   = 18
)

// ActionIntent asks the executor to run one device for a fixed time.
type ActionIntent struct {
	DeviceID        string   `json:"device_id"`
	DurationSeconds int      `json:"duration_seconds"`
	Priority        Priority `json:"priority"`
}

// DeviceAvailability is the registry query the evaluator needs.
type DeviceAvailability interface {
	IsFree(id string) bool
}

// EvaluatorConfig tunes the rule evaluator.
type EvaluatorConfig struct {
	// MinConfidence: diagnoses below it produce no actions.
	MinConfidence float64

	// PumpWindowStart and PumpWindowEnd bound the local hours, inclusive,
	// during which the pump may run.
	PumpWindowStart int
	PumpWindowEnd   int

	// Location is the site timezone. Nil means time.Local.
	Location *time.Location

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Evaluator decides which actuators to run for a diagnosis.
type Evaluator struct {
	policies *PolicyTable
	devices  DeviceAvailability
	cfg      EvaluatorConfig
}

// NewEvaluator creates an evaluator. Zero config fields take the defaults.
func NewEvaluator(policies *PolicyTable, devices DeviceAvailability, cfg EvaluatorConfig) *Evaluator {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.PumpWindowStart == 0 && cfg.PumpWindowEnd == 0 {
		cfg.PumpWindowStart = DefaultPumpWindowStart
		cfg.PumpWindowEnd = DefaultPumpWindowEnd
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evaluator{policies: policies, devices: devices, cfg: cfg}
}

// Evaluate returns the intents for d given the readings in snap, fan first.
// It reads the registry but changes nothing.
func (e *Evaluator) Evaluate(d diagnosis.Diagnosis, snap telemetry.Snapshot) []ActionIntent {
	if d.Confidence < e.cfg.MinConfidence {
		return nil
	}
	policy, ok := e.policies.Lookup(d.Label)
	if !ok {
		return nil
	}

	var intents []ActionIntent

	if e.devices.IsFree(device.Fan1) && snap.Humidity > policy.HumidityThreshold {
		intents = append(intents, ActionIntent{
			DeviceID:        device.Fan1,
			DurationSeconds: policy.FanDuration,
			Priority:        policy.FanPriority,
		})
	}

	if e.inPumpWindow() &&
		e.devices.IsFree(device.Pump1) &&
		policy.SoilMoistureThreshold != nil &&
		snap.SoilMoisture < *policy.SoilMoistureThreshold {
		intents = append(intents, ActionIntent{
			DeviceID:        device.Pump1,
			DurationSeconds: policy.PumpDuration,
			Priority:        PriorityMedium,
		})
	}

	return intents
}

func (e *Evaluator) inPumpWindow() bool {
	hour := e.cfg.Now().In(e.cfg.Location).Hour()
	return hour >= e.cfg.PumpWindowStart && hour <= e.cfg.PumpWindowEnd
}
