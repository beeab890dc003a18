package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS holds the migration files. The migrations package registers
// its embedded files here at init; tests may substitute an fstest.MapFS.
// A nil filesystem means there is nothing to migrate.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "."

// Migration errors.
var (
	// ErrMigrationChanged means an applied migration file no longer matches
	// the checksum recorded when it ran.
	ErrMigrationChanged = errors.New("database: applied migration was modified")

	// ErrSchemaAhead means the database holds migrations this binary does
	// not know, typically after a downgrade.
	ErrSchemaAhead = errors.New("database: schema is newer than this build")
)

// migration is one forward-only schema step, named
// YYYYMMDD_HHMMSS_description.sql.
type migration struct {
	version  string
	name     string
	sql      string
	checksum string
}

// Migrate applies pending migrations in version order, each in its own
// transaction. Before applying anything it checks that every recorded
// migration still matches its file, and that the database is not ahead of
// this build, so a ledger written by a newer Warden is never touched.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	known, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	applied, err := db.appliedChecksums(ctx)
	if err != nil {
		return err
	}

	byVersion := make(map[string]migration, len(known))
	for _, m := range known {
		byVersion[m.version] = m
	}
	for version, sum := range applied {
		m, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("%w: unknown migration %s", ErrSchemaAhead, version)
		}
		if sum != "" && sum != m.checksum {
			return fmt.Errorf("%w: %s (%s)", ErrMigrationChanged, version, m.name)
		}
	}

	for _, m := range known {
		if _, done := applied[m.version]; done {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// SchemaVersion returns the most recently applied migration version, or ""
// when the database has not been migrated.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	if err := db.createMigrationsTable(ctx); err != nil {
		return "", fmt.Errorf("creating migrations table: %w", err)
	}
	var version string
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), '') FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedChecksums maps each recorded version to its checksum.
func (db *DB) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return applied, nil
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		m.version, m.name, m.checksum, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads every migration file, oldest first. Files whose
// names do not parse are ignored.
func loadMigrations() ([]migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		data, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(data)
		out = append(out, migration{
			version:  version,
			name:     name,
			sql:      string(data),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// parseMigrationFilename splits "20260301_120100_ledger_entries.sql" into
// version "20260301_120100" and name "ledger_entries".
func parseMigrationFilename(filename string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(filename, ".sql")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 || len(parts[0]) != 8 || len(parts[1]) != 6 || parts[2] == "" {
		return "", "", false
	}
	for _, r := range parts[0] + parts[1] {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return parts[0] + "_" + parts[1], parts[2], true
}
