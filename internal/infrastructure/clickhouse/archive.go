package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/smartgarden/garden-core/internal/infrastructure/config"
)

const defaultDialTimeout = 5 * time.Second

// Archive is a ClickHouse-backed store for readings and actuation events.
type Archive struct {
	conn driver.Conn

	mu     sync.RWMutex
	closed bool
}

// Connect opens the archive, pings the server and creates missing tables.
//
// Returns:
//   - *Archive: ready for inserts
//   - error: ErrDisabled if switched off, ErrConnectionFailed otherwise
func Connect(ctx context.Context, cfg config.ClickHouseConfig) (*Archive, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	conn, err := clickhouse.Open(options(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}

	for _, stmt := range schema {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close() //nolint:errcheck // best effort on error path
			return nil, fmt.Errorf("%w: creating schema: %w", ErrConnectionFailed, err)
		}
	}

	return &Archive{conn: conn}, nil
}

func options(cfg config.ClickHouseConfig) *clickhouse.Options {
	dial := time.Duration(cfg.DialTimeout) * time.Second
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	return &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: dial,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}
}

// InsertReading archives one sensor reading.
func (a *Archive) InsertReading(ctx context.Context, sensorID, kind string, value float64, at time.Time) error {
	if !a.open() {
		return ErrNotConnected
	}
	err := a.conn.Exec(ctx,
		`INSERT INTO sensor_readings (timestamp, sensor_id, kind, value) VALUES (?, ?, ?, ?)`,
		at, sensorID, kind, value,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// InsertActuation archives one executor event.
func (a *Archive) InsertActuation(ctx context.Context, actionID, deviceID, event, controller string, durationSeconds int, at time.Time) error {
	if !a.open() {
		return ErrNotConnected
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	err := a.conn.Exec(ctx,
		`INSERT INTO actuation_events (timestamp, action_id, device_id, event, controller, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		at, actionID, deviceID, event, controller, uint32(durationSeconds), // #nosec G115 -- clamped above
	)
	if err != nil {
		return fmt.Errorf("inserting actuation: %w", err)
	}
	return nil
}

// HealthCheck pings the server.
func (a *Archive) HealthCheck(ctx context.Context) error {
	if !a.open() {
		return ErrNotConnected
	}
	if err := a.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse health check failed: %w", err)
	}
	return nil
}

// Close closes the connection. Safe to call more than once.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		return nil
	}
	a.closed = true
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("closing clickhouse: %w", err)
	}
	return nil
}

func (a *Archive) open() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.closed && a.conn != nil
}
