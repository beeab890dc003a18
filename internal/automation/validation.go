package automation

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/warden/internal/action"
)

// Validation constants.
const (
	maxNameLength      = 100
	minPriority        = 1
	maxPriority        = 100
	defaultPriority    = 50
	maxKeywords        = 50
	maxKeywordLength   = 100
	maxRegexLength     = 500
	maxChannels        = 50
	maxSources         = 100
	maxTargets         = 20
	maxTargetLength    = 253
	maxDelaySeconds    = 3600
	minCooldownMinutes = 1
	maxCooldownMinutes = 10080 // one week

	maxGlobalCooldownSeconds = 86400
	maxProtected             = 500

	// maxBoundedRepeat is the largest {n,m} bound treated as bounded when
	// looking for nested quantifiers.
	maxBoundedRepeat = 100
)

// ApplyDefaults fills zero-valued optional fields.
func ApplyDefaults(r *Rule) {
	if r.Priority == 0 {
		r.Priority = defaultPriority
	}
	if r.Trigger.MatchMode == "" {
		r.Trigger.MatchMode = MatchAny
	}
	if r.Safety.CooldownMinutes == 0 {
		r.Safety.CooldownMinutes = minCooldownMinutes
	}
	r.Action.Kind = action.Kind(strings.ToLower(string(r.Action.Kind)))
}

// ValidateRule performs structural validation of a rule.
// Returns an error describing the first failure found.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}

	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return fmt.Errorf("%w: priority must be %d-%d", ErrInvalidRule, minPriority, maxPriority)
	}

	if err := validateTrigger(r.Trigger); err != nil {
		return err
	}
	if err := validateAction(r.Action); err != nil {
		return err
	}

	if r.Safety.CooldownMinutes < minCooldownMinutes || r.Safety.CooldownMinutes > maxCooldownMinutes {
		return fmt.Errorf("%w: cooldown_minutes must be %d-%d", ErrInvalidSafety, minCooldownMinutes, maxCooldownMinutes)
	}
	return nil
}

// ValidateName checks if a rule name is valid.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

func validateTrigger(t Trigger) error {
	if !t.HasDefinition() {
		return fmt.Errorf("%w: set required keywords, trigger keywords or a regex", ErrEmptyTrigger)
	}

	if len(nonEmpty(t.Channels)) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidRule)
	}
	if len(t.Channels) > maxChannels {
		return fmt.Errorf("%w: exceeds %d channels", ErrInvalidRule, maxChannels)
	}
	if len(t.Sources) > maxSources {
		return fmt.Errorf("%w: exceeds %d allowed sources", ErrInvalidRule, maxSources)
	}

	switch t.MatchMode {
	case MatchAny, MatchAll:
	default:
		return fmt.Errorf("%w: match_mode must be %q or %q", ErrInvalidRule, MatchAny, MatchAll)
	}

	if err := validateKeywords("required_keywords", t.RequiredKeywords); err != nil {
		return err
	}
	if err := validateKeywords("trigger_keywords", t.TriggerKeywords); err != nil {
		return err
	}
	if err := validateKeywords("ignore_keywords", t.IgnoreKeywords); err != nil {
		return err
	}

	if t.RegexPattern != "" {
		if err := ValidateRegex(t.RegexPattern); err != nil {
			return err
		}
	}
	return nil
}

func validateKeywords(field string, keywords []string) error {
	if len(keywords) > maxKeywords {
		return fmt.Errorf("%w: %s exceeds %d entries", ErrInvalidKeywords, field, maxKeywords)
	}
	for i, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("%w: %s[%d] is blank", ErrInvalidKeywords, field, i)
		}
		if len(kw) > maxKeywordLength {
			return fmt.Errorf("%w: %s[%d] exceeds %d characters", ErrInvalidKeywords, field, i, maxKeywordLength)
		}
	}
	return nil
}

func validateAction(a RuleAction) error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, a.Kind)
	}
	if len(a.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrInvalidAction)
	}
	if len(a.Targets) > maxTargets {
		return fmt.Errorf("%w: exceeds %d targets", ErrInvalidAction, maxTargets)
	}
	for i, target := range a.Targets {
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("%w: targets[%d] is blank", ErrInvalidAction, i)
		}
		if strings.HasPrefix(strings.TrimSpace(target), "-") {
			return fmt.Errorf("%w: targets[%d] must not start with '-'", ErrInvalidAction, i)
		}
		if len(target) > maxTargetLength {
			return fmt.Errorf("%w: targets[%d] exceeds %d characters", ErrInvalidAction, i, maxTargetLength)
		}
	}
	if a.DelaySeconds < 0 || a.DelaySeconds > maxDelaySeconds {
		return fmt.Errorf("%w: delay_seconds must be 0-%d", ErrInvalidAction, maxDelaySeconds)
	}
	return nil
}

// ValidateRegex checks length, syntax and backtracking-prone shapes.
func ValidateRegex(pattern string) error {
	if len(pattern) > maxRegexLength {
		return fmt.Errorf("%w: pattern exceeds %d characters", ErrInvalidRegex, maxRegexLength)
	}

	tree, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	if hasNestedQuantifier(tree, false) {
		return fmt.Errorf("%w: nested unbounded quantifiers are not allowed", ErrInvalidRegex)
	}
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return nil
}

// hasNestedQuantifier reports whether an unbounded repeat appears inside
// another unbounded repeat, e.g. (a+)+ or (.*)*.
func hasNestedQuantifier(re *syntax.Regexp, inside bool) bool {
	unbounded := false
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		unbounded = true
	case syntax.OpRepeat:
		unbounded = re.Max == -1 || re.Max > maxBoundedRepeat
	}

	if unbounded && inside {
		return true
	}
	for _, sub := range re.Sub {
		if hasNestedQuantifier(sub, inside || unbounded) {
			return true
		}
	}
	return false
}

// ValidateSettings checks global settings ranges.
func ValidateSettings(s *GlobalSettings) error {
	if s == nil {
		return ErrInvalidSettings
	}
	if s.GlobalCooldownSeconds < 0 || s.GlobalCooldownSeconds > maxGlobalCooldownSeconds {
		return fmt.Errorf("%w: global_cooldown_seconds must be 0-%d", ErrInvalidSettings, maxGlobalCooldownSeconds)
	}
	if len(s.Protected) > maxProtected {
		return fmt.Errorf("%w: protected exceeds %d names", ErrInvalidSettings, maxProtected)
	}
	for i, name := range s.Protected {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: protected[%d] is blank", ErrInvalidSettings, i)
		}
	}
	return nil
}

// GenerateID creates a new UUID for a rule.
func GenerateID() string {
	return uuid.New().String()
}

func nonEmpty(list []string) []string {
	var out []string
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
