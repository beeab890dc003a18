package audit

import (
	"context"
	"time"
)

// Logger is the subset of the application logger the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes audit entries on a best-effort basis. A failed audit
// write is logged and never fails the change being audited.
type Recorder struct {
	repo    Repository
	logger  Logger
	timeout time.Duration
}

// NewRecorder creates a recorder over repo. A nil repo yields a recorder
// that drops every entry.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}, timeout: 5 * time.Second}
}

// SetLogger sets the logger for audit write failures.
func (r *Recorder) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Record stores one audit entry. The caller's context is only used for
// values; the write has its own deadline so a cancelled request still
// leaves a trail.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID, source string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	entry := &AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      ActorFrom(ctx),
		Source:     source,
		Details:    details,
	}
	if err := r.repo.Create(writeCtx, entry); err != nil {
		r.logger.Warn("audit write failed",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}

type actorKey struct{}

// WithActor attaches the identity responsible for a change to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string) //nolint:errcheck // zero value on miss
	return actor
}
