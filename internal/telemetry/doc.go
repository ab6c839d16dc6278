// Package telemetry holds the last-known environmental readings.
//
// The Store is written by the bus adapter as sensor messages arrive and read
// by the rule evaluator and the control API. Each field is independently
// last-write-wins; a Snapshot is a copy, so readers never observe a field
// changing underneath them, but two fields in one Snapshot may come from
// readings taken at different times.
package telemetry
