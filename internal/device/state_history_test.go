package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartgarden/garden-core/internal/infrastructure/config"
	"github.com/smartgarden/garden-core/internal/infrastructure/database"
	"github.com/smartgarden/garden-core/migrations"
)

// setupStateHistoryTestDB opens a migrated in-memory database.
func setupStateHistoryTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestSQLiteStateHistory_RecordAndGet(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	records := []Record{
		{DeviceID: Fan1, State: StateRunning, Controller: ControllerSmart, UpdatedAt: base},
		{DeviceID: Fan1, State: StateIdle, Controller: ControllerNone, UpdatedAt: base.Add(5 * time.Minute)},
		{DeviceID: Pump1, State: StateRunning, Controller: ControllerRaspberry, Detail: "OPEN", UpdatedAt: base},
	}
	for _, rec := range records {
		if err := repo.RecordStateChange(ctx, rec); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}

	got, err := repo.GetHistory(ctx, Fan1, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetHistory() len = %d, want 2", len(got))
	}
	if got[0].State != StateIdle || got[1].State != StateRunning {
		t.Errorf("history not newest first: %+v", got)
	}
	if !got[0].CreatedAt.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}

	pump, err := repo.GetHistory(ctx, Pump1, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(pump) != 1 || pump[0].Detail != "OPEN" || pump[0].Controller != ControllerRaspberry {
		t.Errorf("pump history = %+v", pump)
	}
}

func TestSQLiteStateHistory_Limit(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := Record{DeviceID: Fan1, State: StateIdle, UpdatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.RecordStateChange(ctx, rec); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}

	got, err := repo.GetHistory(ctx, Fan1, 3)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("GetHistory(limit=3) len = %d, want 3", len(got))
	}
	if got[0].Controller != ControllerNone {
		t.Errorf("empty controller stored as %q, want none", got[0].Controller)
	}
}

func TestSQLiteStateHistory_RequiresDeviceID(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db.DB)
	ctx := context.Background()

	if err := repo.RecordStateChange(ctx, Record{}); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("RecordStateChange() error = %v, want ErrDeviceIDRequired", err)
	}
	if _, err := repo.GetHistory(ctx, "", 10); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("GetHistory() error = %v, want ErrDeviceIDRequired", err)
	}
}

func TestHistoryObserver_RecordsRegistryTransitions(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db.DB)

	r := NewRegistry()
	r.AddObserver(HistoryObserver(repo, nil))

	lease, _ := r.Claim(Pump1, ControllerSmart)
	r.Release(Pump1, lease)

	got, err := repo.GetHistory(context.Background(), Pump1, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history len = %d, want 2", len(got))
	}
}

type failingHistory struct{}

func (failingHistory) RecordStateChange(context.Context, Record) error {
	return errors.New("disk full")
}

func (failingHistory) GetHistory(context.Context, string, int) ([]StateHistoryEntry, error) {
	return nil, nil
}

func TestHistoryObserver_FailureDoesNotBlockRegistry(t *testing.T) {
	r := NewRegistry()
	r.AddObserver(HistoryObserver(failingHistory{}, nil))

	if _, ok := r.Claim(Fan1, ControllerSmart); !ok {
		t.Fatal("Claim() refused with failing history")
	}
	if rec, _ := r.GetState(Fan1); rec.State != StateRunning {
		t.Errorf("state = %s, want RUNNING", rec.State)
	}
}
