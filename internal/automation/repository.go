package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for rule and settings persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Rule CRUD
	GetByID(ctx context.Context, id string) (*Rule, error)
	// List returns every decodable rule. When some rows cannot be decoded
	// the error wraps ErrMalformedRule and the slice holds the rest.
	List(ctx context.Context) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Upsert(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error

	// Global settings (single row)
	GetSettings(ctx context.Context) (*GlobalSettings, error)
	SaveSettings(ctx context.Context, s *GlobalSettings) error
}

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, name, enabled, priority, trigger_json, action_json, safety_json,
			created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rule, err := scanRuleRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var (
		rules     []Rule
		malformed []error
	)
	for rows.Next() {
		rule, scanErr := scanRuleRow(rows)
		if scanErr != nil {
			var me *malformedError
			if errors.As(scanErr, &me) {
				malformed = append(malformed, scanErr)
				continue
			}
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}

	if len(malformed) > 0 {
		return rules, errors.Join(malformed...)
	}
	return rules, nil
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (
			id, name, enabled, priority, trigger_json, action_json, safety_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		boolToInt(rule.Enabled),
		rule.Priority,
		cols.trigger,
		cols.action,
		cols.safety,
		rule.CreatedAt.Format(time.RFC3339Nano),
		rule.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule. created_at is never changed.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rules SET
			name = ?, enabled = ?, priority = ?,
			trigger_json = ?, action_json = ?, safety_json = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		boolToInt(rule.Enabled),
		rule.Priority,
		cols.trigger,
		cols.action,
		cols.safety,
		rule.UpdatedAt.Format(time.RFC3339Nano),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Upsert inserts the rule or replaces the stored definition with the same ID.
// An existing row keeps its created_at.
func (r *SQLiteRepository) Upsert(ctx context.Context, rule *Rule) error {
	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (
			id, name, enabled, priority, trigger_json, action_json, safety_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			priority = excluded.priority,
			trigger_json = excluded.trigger_json,
			action_json = excluded.action_json,
			safety_json = excluded.safety_json,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		boolToInt(rule.Enabled),
		rule.Priority,
		cols.trigger,
		cols.action,
		cols.safety,
		rule.CreatedAt.Format(time.RFC3339Nano),
		rule.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting rule: %w", err)
	}
	return nil
}

// Delete removes a rule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// GetSettings returns the stored global settings or ErrSettingsNotFound.
func (r *SQLiteRepository) GetSettings(ctx context.Context) (*GlobalSettings, error) {
	query := `
		SELECT enabled, global_cooldown_seconds, protected, audit_channel, updated_at
		FROM automation_settings
		WHERE id = 1`

	var s GlobalSettings
	var enabled int
	var protectedJSON string
	var auditChannel sql.NullString
	var updatedAt string

	err := r.db.QueryRowContext(ctx, query).Scan(
		&enabled,
		&s.GlobalCooldownSeconds,
		&protectedJSON,
		&auditChannel,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("querying settings: %w", err)
	}

	s.Enabled = enabled != 0
	if auditChannel.Valid {
		s.AuditChannel = auditChannel.String
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		s.UpdatedAt = t
	}
	if protectedJSON != "" {
		if jsonErr := json.Unmarshal([]byte(protectedJSON), &s.Protected); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling protected list: %w", jsonErr)
		}
	}
	if s.Protected == nil {
		s.Protected = []string{}
	}
	return &s, nil
}

// SaveSettings replaces the stored global settings.
func (r *SQLiteRepository) SaveSettings(ctx context.Context, s *GlobalSettings) error {
	protected := s.Protected
	if protected == nil {
		protected = []string{}
	}
	protectedJSON, err := json.Marshal(protected)
	if err != nil {
		return fmt.Errorf("marshalling protected list: %w", err)
	}

	s.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO automation_settings (
			id, enabled, global_cooldown_seconds, protected, audit_channel, updated_at
		) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			global_cooldown_seconds = excluded.global_cooldown_seconds,
			protected = excluded.protected,
			audit_channel = excluded.audit_channel,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		boolToInt(s.Enabled),
		s.GlobalCooldownSeconds,
		string(protectedJSON),
		nullableString(s.AuditChannel),
		s.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// ─── Row Encoding ───────────────────────────────────────────────────────────

type ruleJSON struct {
	trigger string
	action  string
	safety  string
}

func encodeRule(rule *Rule) (ruleJSON, error) {
	var out ruleJSON

	b, err := json.Marshal(rule.Trigger)
	if err != nil {
		return out, fmt.Errorf("marshalling trigger: %w", err)
	}
	out.trigger = string(b)

	if b, err = json.Marshal(rule.Action); err != nil {
		return out, fmt.Errorf("marshalling action: %w", err)
	}
	out.action = string(b)

	if b, err = json.Marshal(rule.Safety); err != nil {
		return out, fmt.Errorf("marshalling safety: %w", err)
	}
	out.safety = string(b)
	return out, nil
}

// malformedError marks a row that was read but could not be decoded.
type malformedError struct {
	id  string
	err error
}

func (e *malformedError) Error() string {
	return fmt.Sprintf("%s: rule %s: %v", ErrMalformedRule, e.id, e.err)
}

func (e *malformedError) Unwrap() []error {
	return []error{ErrMalformedRule, e.err}
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleRow(scanner rowScanner) (*Rule, error) {
	var rule Rule
	var enabled int
	var triggerJSON, actionJSON, safetyJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.Name,
		&enabled,
		&rule.Priority,
		&triggerJSON,
		&actionJSON,
		&safetyJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled != 0

	// Timestamps are stored as RFC3339Nano so creation order survives ties.
	if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		rule.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		rule.UpdatedAt = t
	}

	if jsonErr := json.Unmarshal([]byte(triggerJSON), &rule.Trigger); jsonErr != nil {
		return nil, &malformedError{id: rule.ID, err: fmt.Errorf("trigger: %w", jsonErr)}
	}
	if jsonErr := json.Unmarshal([]byte(actionJSON), &rule.Action); jsonErr != nil {
		return nil, &malformedError{id: rule.ID, err: fmt.Errorf("action: %w", jsonErr)}
	}
	if jsonErr := json.Unmarshal([]byte(safetyJSON), &rule.Safety); jsonErr != nil {
		return nil, &malformedError{id: rule.ID, err: fmt.Errorf("safety: %w", jsonErr)}
	}
	return &rule, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

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

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
