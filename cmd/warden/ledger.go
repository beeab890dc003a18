package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/ledger"
)

type ledgerOptions struct {
	resource string
	limit    int
	asJSON   bool
}

func newLedgerCmd(configPath *string) *cobra.Command {
	var opts ledgerOptions

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Print recent dispatch outcomes from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printLedger(cmd.Context(), cmd.OutOrStdout(), getConfigPath(*configPath), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.resource, "resource", "r", "", "only show this resource")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print entries as JSON")
	return cmd
}

// printLedger reads the ledger table directly, so it works while the
// service is stopped.
func printLedger(ctx context.Context, out io.Writer, configPath string, opts ledgerOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Only errors are worth printing from a one-shot command.
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, version)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := ledger.NewSQLiteStore(db.DB).ListByResource(ctx, opts.resource, opts.limit)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "no ledger entries")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tRESOURCE\tACTION\tSTATUS\tRULE\tDETAIL")
	for _, e := range entries {
		rule := e.RuleName
		if rule == "" {
			rule = e.RuleID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CompletedAt.Local().Format(time.DateTime),
			e.Resource, e.Kind, e.Status, rule, e.Detail)
	}
	return tw.Flush()
}
