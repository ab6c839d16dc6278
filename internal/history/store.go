package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timeFormat is fixed width so timestamps sort as text.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// DiagnosisRecord is a stored diagnosis with the leaves it was fused from.
type DiagnosisRecord struct {
	ID        string                      `json:"id"`
	ImageName string                      `json:"image_name,omitempty"`
	Diagnosis diagnosis.Diagnosis         `json:"diagnosis"`
	Leaves    []diagnosis.LeafObservation `json:"leaves"`
}

// Sample is one stored sensor reading.
type Sample struct {
	ID         int64          `json:"id"`
	SensorID   string         `json:"sensor_id"`
	Kind       telemetry.Kind `json:"kind"`
	Value      float64        `json:"value"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Store reads and writes the diagnoses and telemetry_samples tables.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SaveDiagnosis stores d and returns its generated id. A zero CreatedAt is
// replaced by the current time.
func (s *Store) SaveDiagnosis(ctx context.Context, d diagnosis.Diagnosis, imageName string, leaves []diagnosis.LeafObservation) (string, error) {
	if leaves == nil {
		leaves = []diagnosis.LeafObservation{}
	}
	leavesJSON, err := json.Marshal(leaves)
	if err != nil {
		return "", fmt.Errorf("marshalling leaves: %w", err)
	}
	at := d.CreatedAt
	if at.IsZero() {
		at = s.now()
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diagnoses (id, label, confidence, supporting_count, total_leaves,
		                        image_name, leaves_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, d.Label, d.Confidence, d.SupportingCount, d.TotalLeaves,
		imageName, string(leavesJSON),
		at.UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("inserting diagnosis: %w", err)
	}
	return id, nil
}

// LatestDiagnosis returns the most recent diagnosis. ok is false when none
// has been stored yet.
func (s *Store) LatestDiagnosis(ctx context.Context) (diagnosis.Diagnosis, bool, error) {
	rec, err := s.scanDiagnosis(s.db.QueryRowContext(ctx,
		`SELECT `+diagnosisColumns+` FROM diagnoses ORDER BY created_at DESC LIMIT 1`))
	if errors.Is(err, ErrDiagnosisNotFound) {
		return diagnosis.Diagnosis{}, false, nil
	}
	if err != nil {
		return diagnosis.Diagnosis{}, false, err
	}
	return rec.Diagnosis, true, nil
}

// GetDiagnosis returns one stored diagnosis by id.
func (s *Store) GetDiagnosis(ctx context.Context, id string) (*DiagnosisRecord, error) {
	return s.scanDiagnosis(s.db.QueryRowContext(ctx,
		`SELECT `+diagnosisColumns+` FROM diagnoses WHERE id = ?`, id))
}

// ListDiagnoses returns recent diagnoses, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []DiagnosisRecord: Stored diagnoses ordered by created_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (s *Store) ListDiagnoses(ctx context.Context, limit int) ([]DiagnosisRecord, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+diagnosisColumns+` FROM diagnoses ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying diagnoses: %w", err)
	}
	defer rows.Close()

	out := make([]DiagnosisRecord, 0, limit)
	for rows.Next() {
		rec, err := s.scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnoses: %w", err)
	}
	return out, nil
}

const diagnosisColumns = `id, label, confidence, supporting_count, total_leaves, image_name, leaves_json, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanDiagnosis(row rowScanner) (*DiagnosisRecord, error) {
	var rec DiagnosisRecord
	var leavesJSON, createdAt string

	err := row.Scan(&rec.ID, &rec.Diagnosis.Label, &rec.Diagnosis.Confidence,
		&rec.Diagnosis.SupportingCount, &rec.Diagnosis.TotalLeaves,
		&rec.ImageName, &leavesJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDiagnosisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning diagnosis: %w", err)
	}

	if err := json.Unmarshal([]byte(leavesJSON), &rec.Leaves); err != nil {
		return nil, fmt.Errorf("decoding leaves for %s: %w", rec.ID, err)
	}
	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing diagnosis timestamp %q: %w", createdAt, err)
	}
	rec.Diagnosis.CreatedAt = t
	return &rec, nil
}

// RecordReading appends one accepted sensor reading.
func (s *Store) RecordReading(ctx context.Context, sensorID string, kind telemetry.Kind, value float64, at time.Time) error {
	if sensorID == "" {
		return ErrSensorIDRequired
	}
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_samples (sensor_id, kind, value, recorded_at) VALUES (?, ?, ?, ?)`,
		sensorID, string(kind), value, at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry sample: %w", err)
	}
	return nil
}

// ListReadings returns recent readings of one kind, newest first. An empty
// kind returns every kind.
func (s *Store) ListReadings(ctx context.Context, kind telemetry.Kind, limit int) ([]Sample, error) {
	limit = clampLimit(limit)

	query := `SELECT id, sensor_id, kind, value, recorded_at FROM telemetry_samples`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry samples: %w", err)
	}
	defer rows.Close()

	out := make([]Sample, 0, limit)
	for rows.Next() {
		var sm Sample
		var k, recordedAt string
		if err := rows.Scan(&sm.ID, &sm.SensorID, &k, &sm.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning telemetry sample: %w", err)
		}
		sm.Kind = telemetry.Kind(k)
		t, err := time.Parse(timeFormat, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing sample timestamp %q: %w", recordedAt, err)
		}
		sm.RecordedAt = t
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry samples: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
