package diagnosis

import "time"

type tally struct {
	count int
	sum   float64
}

// Aggregate folds per-leaf observations into one Diagnosis.
//
// The winner is the ranked label with the lowest priority number among the
// labels that occur at least once. Its confidence is the mean confidence of
// its own observations. Unranked labels count towards TotalLeaves only.
//
// An empty input yields the no-leaf-detected sentinel; input with no ranked
// label yields no-disease-detected.
func Aggregate(obs []LeafObservation) Diagnosis {
	now := time.Now().UTC()

	if len(obs) == 0 {
		return Diagnosis{Label: LabelNoLeafDetected, CreatedAt: now}
	}

	tallies := make(map[string]*tally, len(priority))
	for _, o := range obs {
		t, ok := tallies[o.Label]
		if !ok {
			t = &tally{}
			tallies[o.Label] = t
		}
		t.count++
		t.sum += o.Confidence
	}

	winner := ""
	best := 0
	for label, t := range tallies {
		rank, ok := priority[label]
		if !ok || t.count == 0 {
			continue
		}
		if winner == "" || rank < best {
			winner, best = label, rank
		}
	}

	if winner == "" {
		return Diagnosis{
			Label:       LabelNoDiseaseDetected,
			TotalLeaves: len(obs),
			CreatedAt:   now,
		}
	}

	t := tallies[winner]
	return Diagnosis{
		Label:           winner,
		Confidence:      t.sum / float64(t.count),
		SupportingCount: t.count,
		TotalLeaves:     len(obs),
		CreatedAt:       now,
	}
}
