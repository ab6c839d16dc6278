// Package diagnosis fuses per-leaf classifications into a single verdict.
//
// The vision pipeline reports one (label, confidence) pair per detected leaf.
// Aggregate groups them by label and picks the most urgent label present, as
// ranked by a fixed priority table, rather than the most frequent one: one
// Anthracnose leaf among fifty healthy leaves still yields Anthracnose.
//
//	d := diagnosis.Aggregate([]diagnosis.LeafObservation{
//	    {Label: diagnosis.LabelHealthyLeaf, Confidence: 0.9},
//	    {Label: diagnosis.LabelAnthracnose, Confidence: 0.7},
//	})
//	// d.Label == "Anthracnose", d.SupportingCount == 1, d.TotalLeaves == 2
package diagnosis
