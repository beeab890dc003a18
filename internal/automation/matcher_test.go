package automation

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func tcText(text string) TriggerContext {
	return TriggerContext{ChannelID: "updates", SourceID: "bot-1", IsWebhook: true, Text: text}
}

// ─── Pipeline Stages ────────────────────────────────────────────────────────

func TestEvaluate_Stages(t *testing.T) {
	m := NewMatcher(0)

	tests := []struct {
		name      string
		mutate    func(r *Rule)
		tc        TriggerContext
		want      MatchOutcome
		wantStage string
	}{
		{
			name: "matches required and trigger",
			tc:   tcText("Icarus update released"),
			want: MatchMatched,
		},
		{
			name:      "wrong channel",
			tc:        TriggerContext{ChannelID: "general", Text: "Icarus update released"},
			want:      MatchNotMatched,
			wantStage: StagePrefilter,
		},
		{
			name:   "channel match is case-insensitive",
			mutate: func(r *Rule) { r.Trigger.Channels = []string{"Updates"} },
			tc:     tcText("icarus update"),
			want:   MatchMatched,
		},
		{
			name:      "source not in allow-list",
			mutate:    func(r *Rule) { r.Trigger.Sources = []string{"bot-2"} },
			tc:        tcText("Icarus update released"),
			want:      MatchNotMatched,
			wantStage: StagePrefilter,
		},
		{
			name:   "source in allow-list",
			mutate: func(r *Rule) { r.Trigger.Sources = []string{"bot-2", "bot-1"} },
			tc:     tcText("Icarus update released"),
			want:   MatchMatched,
		},
		{
			name:      "webhook only rejects humans",
			mutate:    func(r *Rule) { r.Trigger.WebhookOnly = true },
			tc:        TriggerContext{ChannelID: "updates", SourceID: "alice", Text: "Icarus update released"},
			want:      MatchNotMatched,
			wantStage: StagePrefilter,
		},
		{
			name:      "ignore keyword vetoes",
			mutate:    func(r *Rule) { r.Trigger.IgnoreKeywords = []string{"rollback"} },
			tc:        tcText("Icarus update released, ROLLBACK pending"),
			want:      MatchNotMatched,
			wantStage: StageIgnore,
		},
		{
			name:      "required keyword missing",
			tc:        tcText("Valheim update released"),
			want:      MatchNotMatched,
			wantStage: StageRequired,
		},
		{
			name:      "no trigger keyword",
			tc:        tcText("Icarus server maintenance"),
			want:      MatchNotMatched,
			wantStage: StageTrigger,
		},
		{
			name:      "match all needs every trigger",
			mutate:    func(r *Rule) { r.Trigger.MatchMode = MatchAll },
			tc:        tcText("Icarus update available"),
			want:      MatchNotMatched,
			wantStage: StageTrigger,
		},
		{
			name:   "match all satisfied",
			mutate: func(r *Rule) { r.Trigger.MatchMode = MatchAll },
			tc:     tcText("Icarus update released"),
			want:   MatchMatched,
		},
		{
			name: "required keywords alone",
			mutate: func(r *Rule) {
				r.Trigger.TriggerKeywords = nil
			},
			tc:   tcText("icarus is down"),
			want: MatchMatched,
		},
		{
			name: "regex gate passes",
			mutate: func(r *Rule) {
				r.Trigger.RegexPattern = `build\s+\d+`
			},
			tc:   tcText("ICARUS update: BUILD 1042 released"),
			want: MatchMatched,
		},
		{
			name: "regex gate fails",
			mutate: func(r *Rule) {
				r.Trigger.RegexPattern = `build\s+\d+`
			},
			tc:        tcText("Icarus update released"),
			want:      MatchNotMatched,
			wantStage: StageRegex,
		},
		{
			name: "empty trigger never matches",
			mutate: func(r *Rule) {
				r.Trigger.RequiredKeywords = nil
				r.Trigger.TriggerKeywords = nil
			},
			tc:        tcText("anything at all"),
			want:      MatchNotMatched,
			wantStage: StagePrefilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRule("r1", "Icarus updates")
			if tt.mutate != nil {
				tt.mutate(r)
			}

			got := m.Evaluate(r, tt.tc)
			if got.Outcome != tt.want {
				t.Fatalf("Outcome = %q (%s), want %q", got.Outcome, got.Reason, tt.want)
			}
			if tt.wantStage != "" && got.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", got.Stage, tt.wantStage)
			}
		})
	}
}

func TestEvaluate_ReportsKeywords(t *testing.T) {
	m := NewMatcher(0)
	got := m.Evaluate(testRule("r1", "Icarus"), tcText("Icarus update released"))

	if !got.Matched() {
		t.Fatalf("expected match, got %+v", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "update" || got.Keywords[1] != "released" {
		t.Errorf("Keywords = %v, want [update released]", got.Keywords)
	}
}

// ─── Fuzzy Keywords ─────────────────────────────────────────────────────────

func TestKeywordFound(t *testing.T) {
	tests := []struct {
		name string
		text string
		kw   string
		want bool
	}{
		{"exact substring", "the icarus server", "icarus", true},
		{"substring inside word", "preupdated", "update", true},
		{"short keyword needs exact", "the server is dowm", "down", false},
		{"short keyword exact", "the server is down", "down", true},
		{"substitution on five letters", "kernel panik on node", "panic", true},
		{"deletion on five letters", "alrt: disk", "alert", true},
		{"transposition", "update relaesed today", "released", true},
		{"two edits rejected", "restore complete", "restart", false},
		{"unrelated word", "the weather is nice", "released", false},
		{"multi-word keyword", "disk ful on node 3", "disk full", true},
		{"punctuation splits words", "status:relesed!", "released", true},
		{"blank keyword", "anything", "  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keywordFound(normaliseText(tt.text), tt.kw); got != tt.want {
				t.Errorf("keywordFound(%q, %q) = %v, want %v", tt.text, tt.kw, got, tt.want)
			}
		})
	}
}

func TestEvaluate_FuzzyTriggerKeyword(t *testing.T) {
	m := NewMatcher(0)
	got := m.Evaluate(testRule("r1", "Icarus"), tcText("Icarus patch relaesed"))
	if !got.Matched() {
		t.Fatalf("expected fuzzy match, got %+v", got)
	}
}

func TestEvaluate_IgnoreKeywordIsExact(t *testing.T) {
	m := NewMatcher(0)
	r := testRule("r1", "Icarus")
	r.Trigger.IgnoreKeywords = []string{"rollback"}

	got := m.Evaluate(r, tcText("Icarus update released, rollbak scheduled"))
	if !got.Matched() {
		t.Fatalf("ignore keywords should not fuzzy match, got %+v", got)
	}
}

// ─── Regex Budget ───────────────────────────────────────────────────────────

func TestEvaluate_RegexTimeout(t *testing.T) {
	m := NewMatcher(time.Nanosecond)
	r := testRule("r1", "slow")
	r.Trigger.RegexPattern = `x[a-z]*y[0-9]*z`

	text := strings.Repeat("xa", 2_500_000)
	got := m.Evaluate(r, tcText(text))

	if got.Outcome != MatchTimedOut {
		t.Fatalf("Outcome = %q, want timed_out", got.Outcome)
	}
	if got.Matched() {
		t.Error("timed-out result must not count as a match")
	}
}

func TestEvaluate_AdversarialPatternReturnsQuickly(t *testing.T) {
	m := NewMatcher(0)
	r := testRule("r1", "redos")
	r.Trigger.RegexPattern = `(a+)+$`

	start := time.Now()
	got := m.Evaluate(r, tcText("icarus update "+strings.Repeat("a", 5000)+"!"))
	elapsed := time.Since(start)

	if got.Matched() {
		t.Fatal("adversarial pattern must not match")
	}
	if got.Stage != StageRegex {
		t.Errorf("Stage = %q, want regex", got.Stage)
	}
	if elapsed > DefaultRegexTimeout+100*time.Millisecond {
		t.Errorf("evaluation took %v", elapsed)
	}
}

func TestMatcher_CompileCache(t *testing.T) {
	m := NewMatcher(0)
	a := m.compile(`icarus\s+\d+`)
	b := m.compile(`icarus\s+\d+`)
	if a != b {
		t.Error("expected cached compiled pattern to be reused")
	}
	if a.err != nil || a.re == nil {
		t.Fatalf("compile failed: %v", a.err)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	m := NewMatcher(0)
	r := testRule("r1", "Icarus")
	r.Trigger.RegexPattern = `icarus`

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := m.Evaluate(r, tcText("Icarus update released")); !got.Matched() {
				t.Errorf("concurrent Evaluate = %+v", got)
			}
		}()
	}
	wg.Wait()
}
