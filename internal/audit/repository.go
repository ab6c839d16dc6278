// Package audit records the actuation trail: every start, stop, drop and
// failure reported by the smart executor and the manual command surface.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/smart"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timeFormat is fixed width so created_at sorts as text.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

	writeTimeout = 2 * time.Second
)

// Entry is one row of the action log.
type Entry struct {
	ID              int64                 `json:"id"`
	ActionID        string                `json:"action_id"`
	CycleID         string                `json:"cycle_id,omitempty"`
	DeviceID        string                `json:"device_id"`
	Event           smart.ActionEventType `json:"event"`
	Controller      device.Controller     `json:"controller"`
	DurationSeconds int                   `json:"duration_seconds"`
	Priority        smart.Priority        `json:"priority,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	Error           string                `json:"error,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	DeviceID string // optional: only this device
	CycleID  string // optional: only actions from one control cycle
	Event    string // optional: started, stopped, dropped, failed
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the action log operations.
type Repository interface {
	Record(ctx context.Context, ev smart.ActionEvent) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the action log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new action log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts one action event. A zero At is replaced by the current time.
func (r *SQLiteRepository) Record(ctx context.Context, ev smart.ActionEvent) error {
	if ev.DeviceID == "" {
		return device.ErrDeviceIDRequired
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO action_log (action_id, cycle_id, device_id, event, controller,
		                         duration_seconds, priority, reason, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ActionID, ev.CycleID, ev.DeviceID,
		string(ev.Event), string(ev.Controller),
		ev.DurationSeconds, string(ev.Priority),
		ev.Reason, ev.Error,
		at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting action log: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.CycleID != "" {
		conditions = append(conditions, "cycle_id = ?")
		args = append(args, filter.CycleID)
	}
	if filter.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, filter.Event)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM action_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting action log: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, action_id, cycle_id, device_id, event, controller,
		        duration_seconds, priority, reason, error, created_at
		 FROM action_log %s
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying action log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var event, controller, priority, createdAt string

		if err := rows.Scan(&e.ID, &e.ActionID, &e.CycleID, &e.DeviceID, &event, &controller,
			&e.DurationSeconds, &priority, &e.Reason, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning action log: %w", err)
		}
		e.Event = smart.ActionEventType(event)
		e.Controller = device.Controller(controller)
		e.Priority = smart.Priority(priority)

		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing action log timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Logger is the logging surface Observer needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Observer returns a smart.ActionObserver that writes every event to repo.
// Write failures are logged and otherwise ignored.
func Observer(repo Repository, logger Logger) smart.ActionObserver {
	return func(ev smart.ActionEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := repo.Record(ctx, ev); err != nil && logger != nil {
			logger.Warn("recording action failed",
				"action_id", ev.ActionID,
				"device_id", ev.DeviceID,
				"error", err,
			)
		}
	}
}
