// Warden - chat-driven automation for container and deployment restarts.
//
// Warden listens to chat channels (Telegram, MQTT-bridged webhooks, the
// REST API), matches messages against operator-defined rules and
// dispatches restart/stop/start actions to Docker or Kubernetes under
// cooldown and protection guards.
//
// Subcommands:
//
//	warden serve               run the service (default)
//	warden rules validate FILE check a YAML rule file
//	warden rules test FILE     dry-run rules from a file against a message
//	warden ledger              print recent dispatch history from the database
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/warden.yaml"

	// configEnvVar overrides the default path when --config is not given.
	configEnvVar = "WARDEN_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the service.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Chat-driven restart automation for containers and deployments",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or %s)", configEnvVar, defaultConfigPath))

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the Warden service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), getConfigPath(configPath))
			},
		},
		newRulesCmd(),
		newLedgerCmd(&configPath),
	)
	return root
}

// getConfigPath returns the configuration file path: the flag value if
// given, then WARDEN_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
