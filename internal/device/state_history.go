package device

import (
	"context"
	"time"
)

// StateHistoryEntry is one recorded registry transition.
type StateHistoryEntry struct {
	ID         int64      `json:"id"`
	DeviceID   string     `json:"device_id"`
	State      State      `json:"state"`
	Controller Controller `json:"controller"`
	Detail     string     `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a registry transition.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - rec: The record as it stood after the transition
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, rec Record) error

	// GetHistory returns recent transitions for the device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)
}

// historyWriteTimeout bounds one best-effort history insert.
const historyWriteTimeout = 2 * time.Second

// HistoryObserver returns an Observer that persists every transition to
// repo. Failures are logged and otherwise ignored.
func HistoryObserver(repo StateHistoryRepository, logger Logger) Observer {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(rec Record) {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()

		if err := repo.RecordStateChange(ctx, rec); err != nil {
			logger.Warn("recording device state history failed",
				"device_id", rec.DeviceID,
				"error", err,
			)
		}
	}
}
