package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/dispatch"
	"github.com/nerrad567/warden/internal/safety"
)

// DefaultEventBuffer is the number of inbound events the orchestrator can
// hold before HandleEvent starts rejecting.
const DefaultEventBuffer = 64

// SafetyStore is the subset of *safety.Store the orchestrator needs.
type SafetyStore interface {
	TryReserve(resource string, cooldown time.Duration) safety.Decision
	Release(token string)
	IsProtected(resource string) bool
	Update(settings safety.Settings)
}

// Dispatcher is the subset of *dispatch.Queue the orchestrator needs.
type Dispatcher interface {
	Submit(req action.Request) (*dispatch.Future, error)
	Skip(req action.Request, reason string) action.Outcome
}

// Dispatch describes what happened to one rule target (or one manual
// request). Exactly one of Future and Denied is set.
type Dispatch struct {
	RuleID   string           `json:"rule_id"`
	RuleName string           `json:"rule_name,omitempty"`
	Request  action.Request   `json:"request"`
	Future   *dispatch.Future `json:"-"`
	Denied   *action.Outcome  `json:"denied,omitempty"`
}

// Orchestrator receives trigger contexts, evaluates every enabled rule in
// priority order, reserves each target in the safety store and submits the
// survivors to the dispatch queue.
type Orchestrator struct {
	registry *Registry
	matcher  *Matcher
	safety   SafetyStore
	queue    Dispatcher
	logger   Logger

	events  chan TriggerContext
	mu      sync.RWMutex
	stopped bool
}

// NewOrchestrator wires the orchestrator. eventBuffer <= 0 uses
// DefaultEventBuffer.
func NewOrchestrator(registry *Registry, matcher *Matcher, store SafetyStore, queue Dispatcher, eventBuffer int) *Orchestrator {
	if eventBuffer <= 0 {
		eventBuffer = DefaultEventBuffer
	}
	return &Orchestrator{
		registry: registry,
		matcher:  matcher,
		safety:   store,
		queue:    queue,
		logger:   noopLogger{},
		events:   make(chan TriggerContext, eventBuffer),
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// SyncSettings pushes the registry's global settings into the safety store.
func (o *Orchestrator) SyncSettings() {
	s := o.registry.Settings()
	o.safety.Update(safety.Settings{
		Enabled:        s.Enabled,
		GlobalCooldown: s.GlobalCooldown(),
		Protected:      s.Protected,
	})
}

// UpdateSettings persists new global settings and applies them to the
// safety store immediately.
func (o *Orchestrator) UpdateSettings(ctx context.Context, s *GlobalSettings) error {
	if err := o.registry.UpdateSettings(ctx, s); err != nil {
		return err
	}
	o.SyncSettings()
	return nil
}

// HandleEvent queues tc for the event loop without blocking.
func (o *Orchestrator) HandleEvent(tc TriggerContext) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.stopped {
		return ErrOrchestratorStopped
	}
	if tc.ReceivedAt.IsZero() {
		tc.ReceivedAt = time.Now().UTC()
	}

	select {
	case o.events <- tc:
		return nil
	default:
		o.logger.Warn("event buffer full, dropping event", "channel_id", tc.ChannelID, "source_id", tc.SourceID)
		return ErrEventBufferFull
	}
}

// Run is the event loop. Events are processed one at a time in arrival
// order. Blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("automation orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.stopped = true
			dropped := len(o.events)
			o.mu.Unlock()

			o.logger.Info("automation orchestrator stopped", "dropped_events", dropped)
			return nil
		case tc := <-o.events:
			o.Process(ctx, tc)
		}
	}
}

// Process evaluates tc against every enabled rule and dispatches matches.
// A failure while handling one rule never prevents the others from being
// evaluated. With automation switched off, matches still reach the safety
// store and are recorded as SKIPPED("disabled").
func (o *Orchestrator) Process(ctx context.Context, tc TriggerContext) []Dispatch {
	var out []Dispatch
	for _, rule := range o.registry.Enabled() {
		if ctx.Err() != nil {
			break
		}
		out = append(out, o.processRule(rule, tc)...)
	}
	return out
}

func (o *Orchestrator) processRule(rule Rule, tc TriggerContext) (out []Dispatch) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while processing rule", "rule_id", rule.ID, "panic", fmt.Sprint(r))
		}
	}()

	res := o.matcher.Evaluate(&rule, tc)
	switch res.Outcome {
	case MatchTimedOut:
		o.logger.Warn("rule regex timed out", "rule_id", rule.ID, "rule", rule.Name)
		return nil
	case MatchNotMatched:
		o.logger.Debug("rule not matched", "rule_id", rule.ID, "stage", res.Stage, "reason", res.Reason)
		return nil
	}

	o.logger.Info("rule matched",
		"rule_id", rule.ID,
		"rule", rule.Name,
		"channel_id", tc.ChannelID,
		"keywords", strings.Join(res.Keywords, ","),
	)

	feedback := rule.Action.FeedbackChannel
	if feedback == "" {
		feedback = tc.ChannelID
	}

	for _, target := range rule.Action.Targets {
		req := action.NewRequest(strings.TrimSpace(target), rule.Action.Kind, rule.ID)
		req.RuleName = rule.Name
		req.Delay = time.Duration(rule.Action.DelaySeconds) * time.Second
		req.FeedbackTarget = feedback
		req.Silent = rule.Action.Silent
		req.OnlyIfRunning = rule.Safety.OnlyIfRunning

		out = append(out, o.reserveAndSubmit(rule, req))
	}
	return out
}

func (o *Orchestrator) reserveAndSubmit(rule Rule, req action.Request) Dispatch {
	d := Dispatch{RuleID: rule.ID, RuleName: rule.Name, Request: req}

	decision := o.safety.TryReserve(req.Resource, rule.Safety.Cooldown())
	if !decision.Reserved {
		denied := o.queue.Skip(req, decision.Reason)
		d.Denied = &denied
		return d
	}
	req.Reservation = decision.Token
	d.Request = req

	fut, err := o.queue.Submit(req)
	if err != nil {
		o.safety.Release(decision.Token)
		o.logger.Error("submitting dispatch request", "rule_id", rule.ID, "resource", req.Resource, "error", err)
		failed := action.NewOutcome(req, action.StatusFailed, err.Error())
		d.Denied = &failed
		return d
	}
	d.Future = fut
	return d
}

// DispatchManual submits a manual or scheduled request. Only the protected
// check applies; cooldowns and the enabled flag govern rule-driven
// dispatch only.
func (o *Orchestrator) DispatchManual(req action.Request) (Dispatch, error) {
	req.Resource = strings.TrimSpace(req.Resource)
	if req.Resource == "" {
		return Dispatch{}, fmt.Errorf("%w: resource is required", ErrInvalidAction)
	}
	if strings.HasPrefix(req.Resource, "-") {
		return Dispatch{}, fmt.Errorf("%w: resource must not start with '-'", ErrInvalidAction)
	}
	if !req.Kind.Valid() {
		return Dispatch{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, req.Kind)
	}
	if req.RuleID == "" {
		req.RuleID = action.OriginManual
	}
	if req.ID == "" {
		fresh := action.NewRequest(req.Resource, req.Kind, req.RuleID)
		req.ID, req.RequestedAt = fresh.ID, fresh.RequestedAt
	}

	d := Dispatch{RuleID: req.RuleID, Request: req}
	if o.safety.IsProtected(req.Resource) {
		denied := o.queue.Skip(req, action.ReasonProtected)
		d.Denied = &denied
		return d, nil
	}

	fut, err := o.queue.Submit(req)
	if err != nil {
		return Dispatch{}, err
	}
	d.Future = fut

	o.logger.Info("manual dispatch submitted",
		"request_id", req.ID, "resource", req.Resource, "action", req.Kind, "origin", req.RuleID)
	return d, nil
}

// TestMatch validates rule and evaluates it against tc without touching
// the safety store or the queue.
func (o *Orchestrator) TestMatch(rule *Rule, tc TriggerContext) (MatchResult, error) {
	return TestMatch(o.matcher, rule, tc)
}

// TestStoredRule runs TestMatch against a stored rule.
func (o *Orchestrator) TestStoredRule(ctx context.Context, id string, tc TriggerContext) (MatchResult, error) {
	rule, err := o.registry.GetRule(ctx, id)
	if err != nil {
		return MatchResult{}, err
	}
	return o.TestMatch(rule, tc)
}

// TestMatch is the dry-run used by the configuration interface and CLI.
// The rule is validated first so a rule that could never be saved is
// reported as an error rather than a non-match.
func TestMatch(m *Matcher, rule *Rule, tc TriggerContext) (MatchResult, error) {
	if rule == nil {
		return MatchResult{}, ErrInvalidRule
	}
	r := rule.DeepCopy()
	ApplyDefaults(r)
	if err := ValidateRule(r); err != nil {
		return MatchResult{}, err
	}
	return m.Evaluate(r, tc), nil
}
