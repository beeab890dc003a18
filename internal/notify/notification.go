package notify

import (
	"fmt"
	"time"

	"github.com/nerrad567/warden/internal/action"
)

// Notification is the outbound view of one resolved dispatch request.
type Notification struct {
	RequestID      string        `json:"request_id"`
	Resource       string        `json:"resource"`
	Action         action.Kind   `json:"action"`
	RuleID         string        `json:"rule_id"`
	RuleName       string        `json:"rule_name,omitempty"`
	Outcome        action.Status `json:"outcome"`
	Detail         string        `json:"detail,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	DelaySeconds   int           `json:"delay_seconds"`
	FeedbackTarget string        `json:"feedback_target,omitempty"`
	Silent         bool          `json:"silent"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// FromOutcome builds a Notification. Reason is the short user-facing
// explanation and is empty for successes.
func FromOutcome(o action.Outcome) Notification {
	n := Notification{
		RequestID:      o.RequestID,
		Resource:       o.Resource,
		Action:         o.Kind,
		RuleID:         o.RuleID,
		RuleName:       o.RuleName,
		Outcome:        o.Status,
		Detail:         o.Detail,
		DelaySeconds:   o.DelaySeconds,
		FeedbackTarget: o.FeedbackTarget,
		Silent:         o.Silent,
		CompletedAt:    o.CompletedAt,
	}
	if o.Status != action.StatusSuccess {
		n.Reason = action.Explain(o.Detail)
	}
	return n
}

// FeedbackText is the one-line message sent back to the feedback destination.
func (n Notification) FeedbackText() string {
	var line string
	switch n.Outcome {
	case action.StatusSuccess:
		line = fmt.Sprintf("%s %s: done", n.Action, n.Resource)
		if n.DelaySeconds > 0 {
			line += fmt.Sprintf(" after %ds delay", n.DelaySeconds)
		}
	default:
		line = fmt.Sprintf("%s %s: %s (%s)", n.Action, n.Resource, n.Outcome, n.Reason)
	}
	if n.RuleName != "" {
		line += fmt.Sprintf(" [rule: %s]", n.RuleName)
	}
	return line
}

// AuditText is the line written to the audit destination. It names the
// origin and request so entries can be matched with the ledger.
func (n Notification) AuditText() string {
	detail := n.Detail
	if detail == "" {
		detail = "-"
	}
	return fmt.Sprintf("[audit] %s %s -> %s (%s) origin=%s request=%s",
		n.Action, n.Resource, n.Outcome, detail, n.RuleID, n.RequestID)
}
