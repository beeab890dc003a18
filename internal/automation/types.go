package automation

import (
	"time"

	"github.com/nerrad567/warden/internal/action"
)

// Rule binds a trigger condition on inbound messages to a lifecycle action
// against one or more resources. Rules are read-only to the matching and
// dispatch path; only the Registry writes them.
type Rule struct {
	// Identity
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// Configuration
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Priority int  `json:"priority" yaml:"priority"` // 1-100; higher runs first (default 50)

	Trigger Trigger    `json:"trigger" yaml:"trigger"`
	Action  RuleAction `json:"action" yaml:"action"`
	Safety  RuleSafety `json:"safety" yaml:"safety"`

	// Timestamps
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Trigger describes which messages activate a rule.
type Trigger struct {
	// Channels the rule listens on. A message from any other channel never matches.
	Channels []string `json:"channels" yaml:"channels"`

	// RequiredKeywords must all be present.
	RequiredKeywords []string `json:"required_keywords,omitempty" yaml:"required_keywords,omitempty"`

	// TriggerKeywords are combined according to MatchMode.
	TriggerKeywords []string  `json:"trigger_keywords,omitempty" yaml:"trigger_keywords,omitempty"`
	MatchMode       MatchMode `json:"match_mode" yaml:"match_mode"`

	// IgnoreKeywords veto the rule when any one is present.
	IgnoreKeywords []string `json:"ignore_keywords,omitempty" yaml:"ignore_keywords,omitempty"`

	// RegexPattern is matched case-insensitively against the message text.
	RegexPattern string `json:"regex_pattern,omitempty" yaml:"regex_pattern,omitempty"`

	// Sources restricts the rule to these user or webhook IDs when non-empty.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// WebhookOnly ignores messages sent by humans.
	WebhookOnly bool `json:"webhook_only" yaml:"webhook_only"`
}

// HasDefinition reports whether the trigger can ever activate.
func (t Trigger) HasDefinition() bool {
	return len(nonEmpty(t.RequiredKeywords)) > 0 ||
		len(nonEmpty(t.TriggerKeywords)) > 0 ||
		t.RegexPattern != ""
}

// MatchMode controls how trigger keywords combine.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// RuleAction is what a matching rule dispatches.
type RuleAction struct {
	Kind            action.Kind `json:"kind" yaml:"kind"`
	Targets         []string    `json:"targets" yaml:"targets"`
	DelaySeconds    int         `json:"delay_seconds" yaml:"delay_seconds"`
	FeedbackChannel string      `json:"feedback_channel,omitempty" yaml:"feedback_channel,omitempty"` // empty: reply in the source channel
	Silent          bool        `json:"silent" yaml:"silent"`
}

// RuleSafety holds per-rule safety limits.
type RuleSafety struct {
	CooldownMinutes int  `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	OnlyIfRunning   bool `json:"only_if_running" yaml:"only_if_running"`
}

// Cooldown returns the per-resource cooldown as a duration.
func (s RuleSafety) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

// GlobalSettings is the process-wide automation configuration.
type GlobalSettings struct {
	Enabled               bool      `json:"enabled"`
	GlobalCooldownSeconds int       `json:"global_cooldown_seconds"`
	Protected             []string  `json:"protected"`
	AuditChannel          string    `json:"audit_channel,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// GlobalCooldown returns the global cooldown as a duration.
func (s GlobalSettings) GlobalCooldown() time.Duration {
	return time.Duration(s.GlobalCooldownSeconds) * time.Second
}

// TriggerContext is an immutable snapshot of one inbound message, built by
// a listener. Text already contains any flattened embed content.
type TriggerContext struct {
	ChannelID  string    `json:"channel_id"`
	SourceID   string    `json:"source_id"`
	IsWebhook  bool      `json:"is_webhook"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// MatchOutcome discriminates MatchResult.
type MatchOutcome string

const (
	MatchMatched    MatchOutcome = "matched"
	MatchNotMatched MatchOutcome = "not_matched"
	MatchTimedOut   MatchOutcome = "timed_out"
)

// Pipeline stage names reported in MatchResult.Stage.
const (
	StagePrefilter = "prefilter"
	StageRegex     = "regex"
	StageIgnore    = "ignore"
	StageRequired  = "required"
	StageTrigger   = "trigger"
)

// MatchResult is the result of evaluating one rule against one message.
type MatchResult struct {
	Outcome  MatchOutcome `json:"outcome"`
	Stage    string       `json:"stage,omitempty"` // stage that decided a non-match
	Reason   string       `json:"reason"`
	Keywords []string     `json:"keywords,omitempty"` // trigger keywords that were found
}

// Matched reports whether the rule matched.
func (m MatchResult) Matched() bool {
	return m.Outcome == MatchMatched
}

// DeepCopy creates an independent copy of the Rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r
	cpy.Trigger.Channels = cloneStrings(r.Trigger.Channels)
	cpy.Trigger.RequiredKeywords = cloneStrings(r.Trigger.RequiredKeywords)
	cpy.Trigger.TriggerKeywords = cloneStrings(r.Trigger.TriggerKeywords)
	cpy.Trigger.IgnoreKeywords = cloneStrings(r.Trigger.IgnoreKeywords)
	cpy.Trigger.Sources = cloneStrings(r.Trigger.Sources)
	cpy.Action.Targets = cloneStrings(r.Action.Targets)
	return &cpy
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
