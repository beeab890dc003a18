// Package action holds the value types shared by the rule engine, the
// safety store, the dispatch queue and the execution ledger.
//
// A Request describes one lifecycle operation against a managed resource;
// an Outcome records what happened to it. Both are plain values and are
// never mutated once handed to another component.
package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is a container lifecycle operation.
type Kind string

const (
	KindStart   Kind = "start"
	KindStop    Kind = "stop"
	KindRestart Kind = "restart"
	KindNotify  Kind = "notify"

	// KindRecreate is accepted on input and executed exactly like KindRestart.
	KindRecreate Kind = "recreate"
)

// AllKinds returns every accepted action kind.
func AllKinds() []Kind {
	return []Kind{KindStart, KindStop, KindRestart, KindNotify, KindRecreate}
}

// ParseKind normalises user input ("RESTART", " restart ") into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the accepted kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStart, KindStop, KindRestart, KindNotify, KindRecreate:
		return true
	}
	return false
}

// Effective returns the kind actually sent to an actuator.
// RECREATE is an alias of RESTART.
func (k Kind) Effective() Kind {
	if k == KindRecreate {
		return KindRestart
	}
	return k
}

// Touches reports whether the kind changes the resource's lifecycle state.
// NOTIFY only produces a notification.
func (k Kind) Touches() bool {
	return k.Effective() != KindNotify
}

// Status is the final state of a dispatch attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Origins used in Request.RuleID for requests that did not come from a rule.
const (
	OriginManual    = "manual"
	OriginScheduled = "scheduled"
)

// Skip reasons. These are the exact detail strings stored on SKIPPED outcomes.
const (
	ReasonProtected        = "protected"
	ReasonDisabled         = "disabled"
	ReasonGlobalCooldown   = "global-cooldown"
	ReasonResourceCooldown = "resource-cooldown"
	ReasonNotRunning       = "not running"
	ReasonCancelled        = "cancelled"
)

// Request is a unit of work submitted to the dispatch queue.
type Request struct {
	ID             string        `json:"id"`
	Resource       string        `json:"resource"`
	Kind           Kind          `json:"action"`
	RuleID         string        `json:"rule_id"`
	RuleName       string        `json:"rule_name,omitempty"`
	RequestedAt    time.Time     `json:"requested_at"`
	Delay          time.Duration `json:"delay"`
	FeedbackTarget string        `json:"feedback_target,omitempty"`
	Silent         bool          `json:"silent"`
	OnlyIfRunning  bool          `json:"only_if_running"`

	// Reservation is the safety store token taken for this request, if
	// any. The dispatch queue releases or commits it.
	Reservation string `json:"-"`
}

// ResourceKey is the case-insensitive form of a resource name used to key
// cooldowns, protection and ledger history.
func ResourceKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewRequest builds a request with a fresh ID and RequestedAt set to now.
func NewRequest(resource string, kind Kind, origin string) Request {
	return Request{
		ID:          uuid.New().String(),
		Resource:    resource,
		Kind:        kind,
		RuleID:      origin,
		RequestedAt: time.Now().UTC(),
	}
}

// Outcome is the result of one dispatch attempt.
type Outcome struct {
	RequestID      string    `json:"request_id"`
	Status         Status    `json:"status"`
	Resource       string    `json:"resource"`
	Kind           Kind      `json:"action"`
	RuleID         string    `json:"rule_id"`
	RuleName       string    `json:"rule_name,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	DelaySeconds   int       `json:"delay_seconds"`
	FeedbackTarget string    `json:"feedback_target,omitempty"`
	Silent         bool      `json:"silent"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewOutcome starts an outcome for req; the caller fills Status and Detail.
func NewOutcome(req Request, status Status, detail string) Outcome {
	return Outcome{
		RequestID:      req.ID,
		Status:         status,
		Resource:       req.Resource,
		Kind:           req.Kind,
		RuleID:         req.RuleID,
		RuleName:       req.RuleName,
		Detail:         detail,
		DelaySeconds:   int(req.Delay / time.Second),
		FeedbackTarget: req.FeedbackTarget,
		Silent:         req.Silent,
		CompletedAt:    time.Now().UTC(),
	}
}

// Summary is the short user-facing sentence for an outcome,
// e.g. "restart icarus-server: skipped (cooldown active)".
func (o Outcome) Summary() string {
	switch o.Status {
	case StatusSuccess:
		return fmt.Sprintf("%s %s: done", o.Kind, o.Resource)
	default:
		return fmt.Sprintf("%s %s: %s (%s)", o.Kind, o.Resource, o.Status, Explain(o.Detail))
	}
}

// Explain maps a stored detail string to short wording for chat feedback.
func Explain(detail string) string {
	switch detail {
	case ReasonProtected:
		return "protected container"
	case ReasonDisabled:
		return "automation disabled"
	case ReasonGlobalCooldown, ReasonResourceCooldown:
		return "cooldown active"
	case ReasonNotRunning:
		return "container not running"
	case ReasonCancelled:
		return "cancelled"
	case "":
		return "no detail"
	}
	if strings.Contains(strings.ToLower(detail), "not found") {
		return "container not found"
	}
	return detail
}
