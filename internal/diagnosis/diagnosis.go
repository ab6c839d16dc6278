package diagnosis

import (
	"time"
)

// Classifier labels, as emitted by the leaf classifier.
const (
	LabelAnthracnose   = "Anthracnose"
	LabelDownyMildew   = "Downy-Mildew"
	LabelBacterialSpot = "Bacterial-Spot"
	LabelPestDamage    = "Pest-Damage"
	LabelHealthyLeaf   = "Healthy-Leaf"
)

// Sentinel labels for diagnoses that carry no disease verdict.
const (
	LabelNoLeafDetected    = "no-leaf-detected"
	LabelNoDiseaseDetected = "no-disease-detected"
)

// priority ranks labels by urgency. Lower wins.
var priority = map[string]int{
	LabelAnthracnose:   1,
	LabelDownyMildew:   2,
	LabelBacterialSpot: 3,
	LabelPestDamage:    4,
	LabelHealthyLeaf:   5,
}

// LeafObservation is one classified leaf.
type LeafObservation struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Diagnosis is the fused verdict for one image. It is a value; nothing
// mutates a Diagnosis after Aggregate returns it.
type Diagnosis struct {
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"`
	SupportingCount int       `json:"supporting_count"`
	TotalLeaves     int       `json:"total_leaves"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsSentinel reports whether d is one of the no-verdict outcomes.
func (d Diagnosis) IsSentinel() bool {
	return d.Label == LabelNoLeafDetected || d.Label == LabelNoDiseaseDetected
}

// Rank returns the priority rank of label. ok is false for labels outside
// the table.
func Rank(label string) (rank int, ok bool) {
	rank, ok = priority[label]
	return rank, ok
}

// Labels returns the ranked labels, most urgent first.
func Labels() []string {
	return []string{
		LabelAnthracnose,
		LabelDownyMildew,
		LabelBacterialSpot,
		LabelPestDamage,
		LabelHealthyLeaf,
	}
}
