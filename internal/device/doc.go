// Package device provides the device state registry for the garden core.
//
// The registry is the single arbiter of who may command an actuator right
// now. It tracks, per device id, the last known state (IDLE or RUNNING), the
// controller that owns it (none, raspberry or smart) and when that changed.
// Records are created on first observation or first claim and never removed.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Device Registry                         │
//	│                                                                │
//	│   bus adapter ──SetStatus──▶ ┌──────────────┐ ◀──Claim── executor│
//	│                              │   records    │ ──Release──▶       │
//	│   control API ──List/Get───▶ │  (RWMutex)   │                    │
//	│                              └──────┬───────┘                    │
//	│                                     │ observers                  │
//	└─────────────────────────────────────┼──────────────────────────┘
//	                                      ▼
//	                  state history (SQLite), websocket hub
//
// # Ownership
//
// IsFree reports false only when a device is RUNNING and owned by the
// raspberry controller. A RUNNING device owned by smart still reads as free,
// which lets the rule engine re-arm its own actuators.
//
// Claim performs the freedom check and the transition to RUNNING under one
// lock and hands back a Lease. Release only returns the device to IDLE if
// that lease is still the current one, so a stale deferred stop cannot clear
// a newer claim. Observed status (SetState, SetStatus) always wins and
// invalidates any outstanding lease.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Observers are called after the
// lock is released, in the goroutine that made the change.
package device
