package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrSettingsNotFound is returned when no global settings have been saved yet.
	ErrSettingsNotFound = errors.New("settings: not found")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("rule: invalid name")

	// ErrEmptyTrigger is returned for rules with no required keywords,
	// trigger keywords or regex. Such a rule could never activate.
	ErrEmptyTrigger = errors.New("rule: empty trigger")

	// ErrInvalidKeywords is returned for oversized or blank keyword lists.
	ErrInvalidKeywords = errors.New("rule: invalid keywords")

	// ErrInvalidRegex is returned for patterns that are too long, do not
	// compile, or contain nested unbounded quantifiers.
	ErrInvalidRegex = errors.New("rule: invalid regex")

	// ErrInvalidAction is returned when the rule's action block is invalid.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrInvalidSafety is returned when cooldown settings are out of range.
	ErrInvalidSafety = errors.New("rule: invalid safety settings")

	// ErrInvalidSettings is returned when global settings fail validation.
	ErrInvalidSettings = errors.New("settings: invalid")

	// ErrMalformedRule is returned alongside the loadable rules when one or
	// more persisted rules could not be decoded.
	ErrMalformedRule = errors.New("rule: malformed persisted rule")

	// ErrMatchTimeout is returned when regex evaluation exceeds its budget.
	ErrMatchTimeout = errors.New("rule: regex match timeout")

	// ErrEventBufferFull is returned when the orchestrator cannot accept more events.
	ErrEventBufferFull = errors.New("automation: event buffer full")

	// ErrOrchestratorStopped is returned when an event arrives after shutdown.
	ErrOrchestratorStopped = errors.New("automation: orchestrator stopped")
)

// IsValidationError reports whether err came from rule or settings validation.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidRule,
		ErrInvalidName,
		ErrEmptyTrigger,
		ErrInvalidKeywords,
		ErrInvalidRegex,
		ErrInvalidAction,
		ErrInvalidSafety,
		ErrInvalidSettings,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
