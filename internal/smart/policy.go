package smart

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/smartgarden/garden-core/internal/diagnosis"
)

// Priority tags an action intent.
type Priority string

// Priorities.
const (
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DiseasePolicy holds the thresholds and run times for one disease label.
type DiseasePolicy struct {
	// HumidityThreshold: the fan runs when humidity is above it.
	HumidityThreshold float64 `yaml:"humidity_threshold" json:"humidity_threshold"`

	// SoilMoistureThreshold: the pump runs when soil moisture is below it.
	// Nil disables the pump rule for this disease.
	SoilMoistureThreshold *float64 `yaml:"soil_moisture_threshold,omitempty" json:"soil_moisture_threshold,omitempty"`

	FanDuration  int `yaml:"fan_duration" json:"fan_duration"`
	PumpDuration int `yaml:"pump_duration" json:"pump_duration"`

	// FanPriority defaults to high for Downy-Mildew and Bacterial-Spot and
	// medium otherwise.
	FanPriority Priority `yaml:"fan_priority,omitempty" json:"fan_priority"`
}

// PolicyTable maps disease labels to policies. It cannot be changed once
// built; Lookup hands out copies.
type PolicyTable struct {
	policies map[string]DiseasePolicy
}

func soil(v float64) *float64 { return &v }

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() *PolicyTable {
	t, err := NewPolicyTable(map[string]DiseasePolicy{
		diagnosis.LabelAnthracnose: {
			HumidityThreshold:     70,
			SoilMoistureThreshold: soil(65),
			FanDuration:           300,
			PumpDuration:          3,
		},
		diagnosis.LabelBacterialSpot: {
			HumidityThreshold:     65,
			SoilMoistureThreshold: soil(60),
			FanDuration:           600,
			PumpDuration:          2,
		},
		diagnosis.LabelDownyMildew: {
			HumidityThreshold:     60,
			SoilMoistureThreshold: soil(55),
			FanDuration:           900,
			PumpDuration:          2,
		},
		diagnosis.LabelPestDamage: {
			HumidityThreshold: 65,
			FanDuration:       300,
			PumpDuration:      3,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("smart: default policy table: %v", err))
	}
	return t
}

// defaultFanPriority is the fan priority used when a policy leaves it unset.
func defaultFanPriority(label string) Priority {
	switch label {
	case diagnosis.LabelDownyMildew, diagnosis.LabelBacterialSpot:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// NewPolicyTable validates policies and copies them into a table.
func NewPolicyTable(policies map[string]DiseasePolicy) (*PolicyTable, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: no policies", ErrInvalidPolicy)
	}

	var errs []error
	out := make(map[string]DiseasePolicy, len(policies))
	for label, p := range policies {
		if label == "" {
			errs = append(errs, fmt.Errorf("%w: empty label", ErrInvalidPolicy))
			continue
		}
		if p.FanDuration <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s: fan_duration must be positive", ErrInvalidPolicy, label))
		}
		if p.SoilMoistureThreshold != nil && p.PumpDuration <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s: pump_duration must be positive", ErrInvalidPolicy, label))
		}
		switch p.FanPriority {
		case "":
			p.FanPriority = defaultFanPriority(label)
		case PriorityMedium, PriorityHigh:
		default:
			errs = append(errs, fmt.Errorf("%w: %s: unknown fan_priority %q", ErrInvalidPolicy, label, p.FanPriority))
		}
		if p.SoilMoistureThreshold != nil {
			p.SoilMoistureThreshold = soil(*p.SoilMoistureThreshold)
		}
		out[label] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &PolicyTable{policies: out}, nil
}

// policyFile is the on-disk layout of a policy override.
type policyFile struct {
	Policies map[string]DiseasePolicy `yaml:"policies"`
}

// LoadPolicyFile reads a YAML policy table. The file replaces the built-in
// table entirely.
//
// Parameters:
//   - path: Location of the YAML file
//
// Returns:
//   - *PolicyTable: The validated table
//   - error: If the file cannot be read, parsed or validated
func LoadPolicyFile(path string) (*PolicyTable, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	return NewPolicyTable(f.Policies)
}

// Lookup returns the policy for label.
func (t *PolicyTable) Lookup(label string) (DiseasePolicy, bool) {
	p, ok := t.policies[label]
	if !ok {
		return DiseasePolicy{}, false
	}
	if p.SoilMoistureThreshold != nil {
		p.SoilMoistureThreshold = soil(*p.SoilMoistureThreshold)
	}
	return p, true
}

// Labels returns the labels with a policy, sorted.
func (t *PolicyTable) Labels() []string {
	out := make([]string, 0, len(t.policies))
	for label := range t.policies {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
