// Package database provides SQLite connectivity for Warden.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from an fs.FS (embedded by package migrations)
//   - Connection lifecycle and health checks
//
// Warden persists automation rules, global settings, the action ledger and
// the audit trail here. Cooldown reservations are in-memory only.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.sql and only move
// forward. Each applied file's checksum is recorded; Migrate refuses to run
// if a recorded file changed or the database is ahead of the build. New
// columns must be nullable or carry a default.
package database
