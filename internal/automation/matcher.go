package automation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// Matching constants.
const (
	// DefaultRegexTimeout is the wall-clock budget for one regex evaluation.
	DefaultRegexTimeout = 500 * time.Millisecond

	// fuzzyMinRunes is the shortest keyword eligible for fuzzy matching.
	// Shorter keywords require an exact substring.
	fuzzyMinRunes = 5

	// fuzzyThreshold is the minimum Jaro-Winkler similarity.
	fuzzyThreshold = 0.85
)

// compiledPattern caches the outcome of validating and compiling a pattern.
type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// Matcher evaluates rules against messages. Evaluation has no side effects
// beyond a compiled-pattern cache, so a Matcher is safe for concurrent use.
type Matcher struct {
	regexTimeout time.Duration
	patterns     sync.Map // pattern string -> *compiledPattern
}

// NewMatcher creates a matcher. A zero timeout uses DefaultRegexTimeout.
func NewMatcher(regexTimeout time.Duration) *Matcher {
	if regexTimeout <= 0 {
		regexTimeout = DefaultRegexTimeout
	}
	return &Matcher{regexTimeout: regexTimeout}
}

// Evaluate runs the matching pipeline for one rule, short-circuiting in
// this order: prefilter, regex, ignore keywords, required keywords,
// trigger keywords.
func (m *Matcher) Evaluate(r *Rule, tc TriggerContext) MatchResult {
	t := r.Trigger

	if !t.HasDefinition() {
		return notMatched(StagePrefilter, "rule has no trigger definition")
	}

	// Prefilter
	if !containsFold(t.Channels, tc.ChannelID) {
		return notMatched(StagePrefilter, "channel not monitored")
	}
	if len(t.Sources) > 0 && !containsFold(t.Sources, tc.SourceID) {
		return notMatched(StagePrefilter, "source not allowed")
	}
	if t.WebhookOnly && !tc.IsWebhook {
		return notMatched(StagePrefilter, "webhook only")
	}

	// Regex
	if t.RegexPattern != "" {
		ok, err := m.matchRegex(t.RegexPattern, tc.Text)
		switch {
		case err == ErrMatchTimeout:
			return MatchResult{Outcome: MatchTimedOut, Stage: StageRegex, Reason: "regex timed out"}
		case err != nil:
			return notMatched(StageRegex, err.Error())
		case !ok:
			return notMatched(StageRegex, "regex did not match")
		}
	}

	text := normaliseText(tc.Text)

	// Ignore keywords veto
	for _, kw := range nonEmpty(t.IgnoreKeywords) {
		if strings.Contains(text, strings.ToLower(strings.TrimSpace(kw))) {
			return notMatched(StageIgnore, fmt.Sprintf("ignore keyword %q present", kw))
		}
	}

	// Required keywords (AND)
	for _, kw := range nonEmpty(t.RequiredKeywords) {
		if !keywordFound(text, kw) {
			return notMatched(StageRequired, fmt.Sprintf("required keyword %q missing", kw))
		}
	}

	// Trigger keywords per match mode
	var found []string
	if triggers := nonEmpty(t.TriggerKeywords); len(triggers) > 0 {
		for _, kw := range triggers {
			if keywordFound(text, kw) {
				found = append(found, kw)
			} else if t.MatchMode == MatchAll {
				return notMatched(StageTrigger, fmt.Sprintf("trigger keyword %q missing", kw))
			}
		}
		if len(found) == 0 {
			return notMatched(StageTrigger, "no trigger keyword found")
		}
	}

	reason := "matched"
	if len(found) > 0 {
		reason = fmt.Sprintf("matched trigger keywords %s", strings.Join(found, ", "))
	}
	return MatchResult{Outcome: MatchMatched, Reason: reason, Keywords: found}
}

// matchRegex evaluates pattern against text on a separate goroutine and
// gives up after the regex budget. A timed-out evaluation goroutine is
// left to finish on its own; RE2 matching is linear so it always does.
func (m *Matcher) matchRegex(pattern, text string) (bool, error) {
	cp := m.compile(pattern)
	if cp.err != nil {
		return false, cp.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.regexTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- cp.re.MatchString(text)
	}()

	select {
	case ok := <-done:
		return ok, nil
	case <-ctx.Done():
		return false, ErrMatchTimeout
	}
}

func (m *Matcher) compile(pattern string) *compiledPattern {
	if v, ok := m.patterns.Load(pattern); ok {
		return v.(*compiledPattern)
	}

	cp := &compiledPattern{}
	if err := ValidateRegex(pattern); err != nil {
		cp.err = err
	} else {
		cp.re, cp.err = regexp.Compile("(?i)" + pattern)
	}
	actual, _ := m.patterns.LoadOrStore(pattern, cp)
	return actual.(*compiledPattern)
}

// keywordFound reports whether kw occurs in text (already lower-cased).
// Keywords of fuzzyMinRunes or more also match any word window that is
// similar enough, see fuzzyEqual.
func keywordFound(text, kw string) bool {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return false
	}
	if strings.Contains(text, kw) {
		return true
	}
	if utf8.RuneCountInString(kw) < fuzzyMinRunes {
		return false
	}
	return fuzzyContains(text, kw)
}

// fuzzyContains slides a window of as many words as kw has over text.
func fuzzyContains(text, kw string) bool {
	kwWords := splitWords(kw)
	if len(kwWords) == 0 {
		return false
	}
	target := strings.Join(kwWords, " ")

	words := splitWords(text)
	for i := 0; i+len(kwWords) <= len(words); i++ {
		window := strings.Join(words[i:i+len(kwWords)], " ")
		if fuzzyEqual(window, target) {
			return true
		}
	}
	return false
}

// fuzzyEqual requires a Jaro-Winkler similarity of at least fuzzyThreshold
// and an optimal string alignment distance within the keyword's edit
// budget. The budget stops same-prefix words such as "restart" and
// "restore" from matching each other.
func fuzzyEqual(window, kw string) bool {
	if float64(edlib.JaroWinklerSimilarity(window, kw)) < fuzzyThreshold {
		return false
	}
	return edlib.OSADamerauLevenshteinDistance(window, kw) <= editBudget(kw)
}

// editBudget allows one edit up to eight runes and one more per nine after.
func editBudget(kw string) int {
	return 1 + utf8.RuneCountInString(kw)/9
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normaliseText(s string) string {
	return strings.ToLower(s)
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

func notMatched(stage, reason string) MatchResult {
	return MatchResult{Outcome: MatchNotMatched, Stage: stage, Reason: reason}
}
