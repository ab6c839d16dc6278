package clickhouse

import "errors"

var (
	// ErrDisabled indicates the archive is switched off in configuration.
	ErrDisabled = errors.New("clickhouse: disabled in configuration")

	// ErrConnectionFailed indicates the server could not be reached or the schema could not be created.
	ErrConnectionFailed = errors.New("clickhouse: connection failed")

	// ErrNotConnected is returned by writes on a closed or nil archive.
	ErrNotConnected = errors.New("clickhouse: not connected")
)
