package cli

import (
	goerrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/internal/errors"
)

// Global flags
var (
	configFlag     string
	autoYesFlag    bool
	confirmAllFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "opsrun",
	Short: "Run commands on remote hosts through pooled SSH tunnels",
	Long: `opsrun executes commands on remote hosts over SSH, with multi-hop
jump chains, connection reuse, and risk-based confirmation gating.

Targets come from .opsrun.yaml (searched upward from the current
directory), falling back to ~/.ssh/config. The reserved target "local"
runs the command directly on this machine.

Examples:
  opsrun run web01 "uptime"
  opsrun run db01 --timeout 5m "pg_dump mydb > /backup/mydb.sql"
  opsrun batch deploy.yaml --stop-on-failure
  opsrun hosts`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file (default: search for .opsrun.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&autoYesFlag, "yes", "y", false, "answer yes to every confirmation prompt")
	rootCmd.PersistentFlags().BoolVar(&confirmAllFlag, "confirm-all", false, "confirm every command, not just CRITICAL ones")
}

// Execute runs the root command and maps errors to exit codes. Remote exit
// codes pass through; structured errors print their formatted message.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *errors.ExitError
		if goerrors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}

		var oerr *errors.Error
		if goerrors.As(err, &oerr) {
			fmt.Fprintln(os.Stderr, oerr.Error())
		} else {
			fmt.Fprintf(os.Stderr, "✗ %s\n", err.Error())
		}
		os.Exit(1)
	}
}
