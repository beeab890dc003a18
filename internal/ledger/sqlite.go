package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/warden/internal/action"
)

// entryColumns is the SELECT column list for ledger queries.
const entryColumns = `id, request_id, resource, action, status, rule_id, rule_name,
			detail, delay_seconds, feedback_target, silent, completed_at`

// SQLiteStore implements Store using the ledger_entries table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed ledger store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append inserts one entry.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO ledger_entries (
			id, request_id, resource, action, status, rule_id, rule_name,
			detail, delay_seconds, feedback_target, silent, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		e.Resource,
		string(e.Kind),
		string(e.Status),
		e.RuleID,
		nullableString(e.RuleName),
		nullableString(e.Detail),
		e.DelaySeconds,
		nullableString(e.FeedbackTarget),
		boolToInt(e.Silent),
		e.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// Trim keeps the newest keep rows for resource, compared case-insensitively.
func (s *SQLiteStore) Trim(ctx context.Context, resource string, keep int) error {
	key := action.ResourceKey(resource)
	query := `
		DELETE FROM ledger_entries
		WHERE lower(trim(resource)) = ? AND seq NOT IN (
			SELECT seq FROM ledger_entries WHERE lower(trim(resource)) = ? ORDER BY seq DESC LIMIT ?
		)`
	if _, err := s.db.ExecContext(ctx, query, key, key, keep); err != nil {
		return fmt.Errorf("trimming ledger entries: %w", err)
	}
	return nil
}

// LoadRecent returns the newest perResource rows of every resource, oldest first.
func (s *SQLiteStore) LoadRecent(ctx context.Context, perResource int) ([]Entry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY lower(trim(resource)) ORDER BY seq DESC) AS rn
			FROM ledger_entries
		) WHERE rn <= ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, perResource)
	if err != nil {
		return nil, fmt.Errorf("querying ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger entries: %w", err)
	}
	return entries, nil
}

// ListByResource reads rows straight from the database, newest first.
// Used by the CLI when no server is running.
func (s *SQLiteStore) ListByResource(ctx context.Context, resource string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	args := []any{}
	if resource != "" {
		query += ` WHERE lower(trim(resource)) = ?`
		args = append(args, action.ResourceKey(resource))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", scanErr)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var kind, status, completedAt string
	var ruleName, detail, feedback sql.NullString
	var silent int

	err := rows.Scan(
		&e.ID,
		&e.RequestID,
		&e.Resource,
		&kind,
		&status,
		&e.RuleID,
		&ruleName,
		&detail,
		&e.DelaySeconds,
		&feedback,
		&silent,
		&completedAt,
	)
	if err != nil {
		return e, err
	}

	e.Kind = action.Kind(kind)
	e.Status = action.Status(status)
	e.RuleName = ruleName.String
	e.Detail = detail.String
	e.FeedbackTarget = feedback.String
	e.Silent = silent != 0
	if t, parseErr := time.Parse(time.RFC3339Nano, completedAt); parseErr == nil {
		e.CompletedAt = t
	}
	return e, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
