// Package vision is the client for the external leaf vision pipeline.
//
// The pipeline takes one image as a multipart upload (field "file") and
// answers with either a list of per-leaf classifications or a single
// pre-aggregated verdict:
//
//	[{"leaf_index": 0, "predicted_class": "Anthracnose", "confidence": 0.81}, ...]
//	{"predicted_class": "Anthracnose", "confidence": 0.81, "details": [...]}
//
// Requests are not retried. Timeouts surface as ErrTimeout and connection
// failures as ErrUnavailable so callers can map them to gateway errors.
package vision
