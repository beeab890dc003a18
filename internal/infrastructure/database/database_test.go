package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/warden/internal/infrastructure/config"
)

// openTestDB creates a WAL-mode database file in a temp dir.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "warden.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func pragma(t *testing.T, db *DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

// ─── Open ───────────────────────────────────────────────────────────────────

func TestOpen_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "nested", "warden.db")

	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 7})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != filePermissions {
		t.Errorf("file mode = %o, want %o", perm, filePermissions)
	}

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "7000"},
	}
	for _, tt := range tests {
		if got := strings.ToLower(pragma(t, db, tt.pragma)); got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}

	if stats := db.Stats(); stats.MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1 (single writer)", stats.MaxOpenConnections)
	}
}

func TestOpen_WALDisabled(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "warden.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if got := strings.ToLower(pragma(t, db, "journal_mode")); got == "wal" {
		t.Error("journal_mode = wal, want the default when WALMode is off")
	}
}

// The CLI's offline commands and the API tests rely on one in-memory
// database surviving across statements.
func TestOpen_InMemoryKeepsState(t *testing.T) {
	db, err := Open(Config{Path: MemoryPath, WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE cooldown_seen (resource TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO cooldown_seen (resource) VALUES ('web')"); err != nil {
		t.Fatalf("INSERT error = %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cooldown_seen").Scan(&count); err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestOpen_UnwritableDirectory(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Path: filepath.Join(parent, "warden.db")}); err == nil {
		t.Fatal("Open() under a regular file should fail")
	}
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.DatabaseConfig{Path: "/var/lib/warden/warden.db", WALMode: true, BusyTimeout: 7})
	want := Config{Path: "/var/lib/warden/warden.db", WALMode: true, BusyTimeout: 7}
	if got != want {
		t.Errorf("ConfigFrom() = %+v, want %+v", got, want)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close = nil, want error")
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	if err == nil || !strings.HasPrefix(err.Error(), "executing query:") {
		t.Errorf("ExecContext() error = %v, want wrapped error", err)
	}
}
