package clickhouse

// schema is applied in order on every Connect; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		timestamp DateTime64(3),
		sensor_id LowCardinality(String),
		kind      LowCardinality(String),
		value     Float64
	) ENGINE = MergeTree()
	ORDER BY (kind, sensor_id, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 1 YEAR`,

	`CREATE TABLE IF NOT EXISTS actuation_events (
		timestamp        DateTime64(3),
		action_id        String,
		device_id        LowCardinality(String),
		event            LowCardinality(String),
		controller       LowCardinality(String),
		duration_seconds UInt32
	) ENGINE = MergeTree()
	ORDER BY (device_id, timestamp)`,
}
