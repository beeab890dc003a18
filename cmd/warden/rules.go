package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/warden/internal/automation"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with YAML rule files offline",
	}
	cmd.AddCommand(newRulesValidateCmd(), newRulesTestCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check every rule in a rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateRuleFile(cmd.OutOrStdout(), args[0])
		},
	}
}

// validateRuleFile reports every invalid or duplicated rule in path and
// fails if there was at least one.
func validateRuleFile(out io.Writer, path string) error {
	rules, err := automation.LoadRuleFile(path)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(rules))
	var problems []error
	for i := range rules {
		r := &rules[i]
		label := ruleLabel(i, r)
		if vErr := automation.ValidateRule(r); vErr != nil {
			problems = append(problems, fmt.Errorf("%s: %w", label, vErr))
			continue
		}
		if r.ID != "" {
			if seen[r.ID] {
				problems = append(problems, fmt.Errorf("%s: duplicate id", label))
				continue
			}
			seen[r.ID] = true
		}
		fmt.Fprintf(out, "ok   %s\n", label)
	}

	for _, p := range problems {
		fmt.Fprintf(out, "FAIL %v\n", p)
	}
	fmt.Fprintf(out, "%d rules, %d invalid\n", len(rules), len(problems))

	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", path, errors.Join(problems...))
	}
	return nil
}

type ruleTestOptions struct {
	ruleID    string
	text      string
	channel   string
	source    string
	webhook   bool
	regexWait time.Duration
}

func newRulesTestCmd() *cobra.Command {
	var opts ruleTestOptions

	cmd := &cobra.Command{
		Use:   "test FILE",
		Short: "Dry-run the rules in a file against a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return testRuleFile(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.ruleID, "rule", "", "only test the rule with this id")
	cmd.Flags().StringVar(&opts.text, "text", "", "message text to match (required)")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "channel id (default: each rule's first channel)")
	cmd.Flags().StringVar(&opts.source, "source", "cli", "source id")
	cmd.Flags().BoolVar(&opts.webhook, "webhook", false, "treat the message as sent by a webhook or bot")
	cmd.Flags().DurationVar(&opts.regexWait, "regex-timeout", automation.DefaultRegexTimeout, "regex evaluation budget")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// testRuleFile evaluates rules from path against one message and prints
// one line per rule. Nothing is dispatched.
func testRuleFile(out io.Writer, path string, opts ruleTestOptions) error {
	rules, err := automation.LoadRuleFile(path)
	if err != nil {
		return err
	}

	matcher := automation.NewMatcher(opts.regexWait)
	tested := 0
	for i := range rules {
		r := &rules[i]
		if opts.ruleID != "" && r.ID != opts.ruleID {
			continue
		}
		tested++

		tc := automation.TriggerContext{
			ChannelID:  opts.channel,
			SourceID:   opts.source,
			IsWebhook:  opts.webhook,
			Text:       opts.text,
			ReceivedAt: time.Now().UTC(),
		}
		if tc.ChannelID == "" && len(r.Trigger.Channels) > 0 {
			tc.ChannelID = r.Trigger.Channels[0]
		}

		res, mErr := automation.TestMatch(matcher, r, tc)
		if mErr != nil {
			fmt.Fprintf(out, "%-12s %s: %v\n", "invalid", ruleLabel(i, r), mErr)
			continue
		}
		line := fmt.Sprintf("%-12s %s", res.Outcome, ruleLabel(i, r))
		if res.Matched() {
			line += fmt.Sprintf(" -> %s %s", r.Action.Kind, strings.Join(r.Action.Targets, ","))
			if len(res.Keywords) > 0 {
				line += " [" + strings.Join(res.Keywords, ", ") + "]"
			}
		} else {
			line += fmt.Sprintf(" (%s: %s)", res.Stage, res.Reason)
		}
		fmt.Fprintln(out, line)
	}

	if opts.ruleID != "" && tested == 0 {
		return fmt.Errorf("rule %q not found in %s", opts.ruleID, path)
	}
	return nil
}

func ruleLabel(i int, r *automation.Rule) string {
	switch {
	case r.ID != "" && r.Name != "":
		return fmt.Sprintf("%s (%s)", r.ID, r.Name)
	case r.ID != "":
		return r.ID
	case r.Name != "":
		return fmt.Sprintf("#%d (%s)", i+1, r.Name)
	default:
		return fmt.Sprintf("#%d", i+1)
	}
}
