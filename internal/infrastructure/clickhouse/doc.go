// Package clickhouse archives raw garden sensor readings and actuation
// events in ClickHouse for long-range analysis.
//
// The archive is optional and write-only from the core's point of view:
// nothing in the control path reads it back.
package clickhouse
