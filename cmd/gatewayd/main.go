// Command gatewayd runs the taskgate multi-tenant LLM task-execution
// gateway: an HTTP server over the core C1-C11 components, backed by
// either SQLite or PostgreSQL (internal/config.StoreConfig.Driver).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "0.0.0-dev"

func main() {
	_ = godotenv.Load() // missing .env is not an error; real env vars still apply

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the gatewayd root Cobra command, grounded on the
// teacher pack's cortex CLI (bartekus-stagecraft/ai.agent/cmd/cortex):
// a silent-usage root with serve/migrate/version subcommands.
func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "gatewayd",
		Short:         "taskgate - multi-tenant LLM task-execution gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to taskgate.toml (default: ./taskgate.toml)")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the gatewayd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "gatewayd version %s\n", version)
			return err
		},
	})
	return cmd
}
