// Package smart turns a diagnosis and live telemetry into actuator commands.
//
// # Components
//
//   - PolicyTable: immutable per-disease thresholds and run durations
//   - Evaluator: pure decision function producing ActionIntents
//   - Executor: claims devices, publishes run commands and arms stops
//   - Controller: one evaluation cycle against the latest diagnosis
//   - Manual: direct commands that bypass the evaluator and the registry
//
// # Execution model
//
//	TriggerSmartControl ──▶ Evaluate ──▶ []ActionIntent
//	                                         │
//	                          Execute (returns at once, one goroutine each)
//	                                         │
//	                  Claim ──▶ publish run ──▶ time.AfterFunc(duration)
//	                                                    │
//	                                     publish stop ──▶ Release(lease)
//
// A new claim on a device cancels the stop still pending from an earlier
// claim and arms its own, so there is at most one pending stop per device.
// Executor.Close cancels every pending stop and, when configured, publishes
// the stops straight away.
package smart
