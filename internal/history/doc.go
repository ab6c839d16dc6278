// Package history persists diagnoses and accepted sensor readings in SQLite.
//
// The Store satisfies smart.DiagnosisStore, so the most recent diagnosis
// survives a restart and TriggerSmartControl can run before the next photo.
// Readings are appended for trend queries; the live snapshot stays in
// package telemetry.
package history
