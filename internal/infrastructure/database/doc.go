// Package database provides SQLite connectivity for the garden core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// The database holds the garden's history: stored diagnoses, telemetry
// samples, the actuation log and device state transitions. None of it is
// needed to actuate; callers treat write failures as non-fatal.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
