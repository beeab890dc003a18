package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the Registry and Orchestrator.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides rule and settings management with caching and thread
// safety. It wraps a Repository and adds an in-memory cache so the event
// path never touches the database.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	cache    map[string]*Rule // Cached rules by ID
	settings GlobalSettings
	cacheMu  sync.RWMutex // Protects cache and settings
	logger   Logger
}

// NewRegistry creates a new rule registry. defaults is used until settings
// have been saved through UpdateSettings.
func NewRegistry(repo Repository, defaults GlobalSettings) *Registry {
	defaults.Protected = normaliseProtected(defaults.Protected)
	return &Registry{
		repo:     repo,
		cache:    make(map[string]*Rule),
		settings: defaults,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules and the global settings from the
// repository. Rows that cannot be decoded are skipped and stored rules that
// no longer validate are kept but disabled; both are logged.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		if !errors.Is(err, ErrMalformedRule) {
			return fmt.Errorf("loading rules: %w", err)
		}
		r.logger.Warn("skipping malformed rules", "error", err)
	}

	settings, err := r.repo.GetSettings(ctx)
	switch {
	case errors.Is(err, ErrSettingsNotFound):
		settings = nil
	case err != nil:
		return fmt.Errorf("loading settings: %w", err)
	}

	cache := make(map[string]*Rule, len(rules))
	for i := range rules {
		rule := rules[i].DeepCopy()
		if vErr := ValidateRule(rule); vErr != nil && rule.Enabled {
			r.logger.Warn("disabling invalid rule", "id", rule.ID, "name", rule.Name, "error", vErr)
			rule.Enabled = false
		}
		cache[rule.ID] = rule
	}

	r.cacheMu.Lock()
	r.cache = cache
	if settings != nil {
		settings.Protected = normaliseProtected(settings.Protected)
		r.settings = *settings
	}
	r.cacheMu.Unlock()

	r.logger.Info("rule cache refreshed", "count", len(cache))
	return nil
}

// GetRule retrieves a rule by ID.
// The returned rule is a deep copy; callers can safely modify it.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// ListRules returns deep copies of every rule in evaluation order.
func (r *Registry) ListRules(_ context.Context) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		rules = append(rules, *rule.DeepCopy())
	}
	sortRules(rules)
	return rules, nil
}

// Enabled returns deep copies of the enabled rules in evaluation order:
// priority descending, then creation order.
func (r *Registry) Enabled() []Rule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		if rule.Enabled {
			rules = append(rules, *rule.DeepCopy())
		}
	}
	sortRules(rules)
	return rules
}

// sortRules orders by priority descending with ties broken by creation
// time, then ID, so evaluation order is stable across restarts.
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// CreateRule validates, persists, and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	ApplyDefaults(rule)

	if err := ValidateRule(rule); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule validates, persists, and updates the cached rule.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	ApplyDefaults(rule)
	if err := ValidateRule(rule); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if prev, ok := r.cache[rule.ID]; ok && rule.CreatedAt.IsZero() {
		rule.CreatedAt = prev.CreatedAt
	}
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "name", rule.Name)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// Import upserts rules by ID. Invalid rules are skipped; the returned error
// joins one validation error per skipped rule and imported counts the rest.
func (r *Registry) Import(ctx context.Context, rules []Rule) (imported int, err error) {
	var problems []error
	for i := range rules {
		rule := rules[i].DeepCopy()
		if rule.ID == "" {
			problems = append(problems, fmt.Errorf("%w: rule %q has no id", ErrInvalidRule, rule.Name))
			continue
		}
		ApplyDefaults(rule)
		if vErr := ValidateRule(rule); vErr != nil {
			problems = append(problems, fmt.Errorf("rule %s: %w", rule.ID, vErr))
			continue
		}

		r.cacheMu.RLock()
		if prev, ok := r.cache[rule.ID]; ok {
			rule.CreatedAt = prev.CreatedAt
		}
		r.cacheMu.RUnlock()

		if upErr := r.repo.Upsert(ctx, rule); upErr != nil {
			return imported, fmt.Errorf("importing rule %s: %w", rule.ID, upErr)
		}

		r.cacheMu.Lock()
		r.cache[rule.ID] = rule.DeepCopy()
		r.cacheMu.Unlock()
		imported++
	}

	r.logger.Info("rules imported", "imported", imported, "skipped", len(problems))
	return imported, errors.Join(problems...)
}

// RuleCount returns the number of cached rules.
func (r *Registry) RuleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Settings returns a copy of the current global settings.
func (r *Registry) Settings() GlobalSettings {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	s := r.settings
	s.Protected = cloneStrings(r.settings.Protected)
	return s
}

// UpdateSettings validates, persists, and caches new global settings.
func (r *Registry) UpdateSettings(ctx context.Context, s *GlobalSettings) error {
	if err := ValidateSettings(s); err != nil {
		return err
	}
	s.Protected = normaliseProtected(s.Protected)

	if err := r.repo.SaveSettings(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.settings = *s
	r.settings.Protected = cloneStrings(s.Protected)
	r.cacheMu.Unlock()

	r.logger.Info("automation settings updated",
		"enabled", s.Enabled,
		"global_cooldown_seconds", s.GlobalCooldownSeconds,
		"protected", len(s.Protected),
	)
	return nil
}

// normaliseProtected lower-cases, trims and de-duplicates protected names.
func normaliseProtected(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
