package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/inventory"
	"github.com/opsrun/opsrun/internal/runner"
	"github.com/opsrun/opsrun/internal/ui"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

var (
	runUserFlag    string
	runPortFlag    int
	runKeyFlag     string
	runJumpFlag    string
	runTimeoutFlag string
	runReasonFlag  string
	runRiskFlag    string
)

var runCmd = &cobra.Command{
	Use:   "run <target> <command...>",
	Short: "Run a command on a target",
	Long: `Execute a command on a configured target over SSH.

The target resolves through the inventory (including its jump chain),
falling back to ~/.ssh/config. Use the reserved target "local" to run the
command directly on this machine. CRITICAL commands ask for confirmation
before anything is dialed.

Examples:
  opsrun run web01 "uptime"
  opsrun run db01 --jump bastion "df -h /var/lib/postgresql"
  opsrun run web01 --risk critical --reason "incident-4821" "systemctl restart nginx"
  opsrun run local "ls -la"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	runCmd.Flags().StringVar(&runUserFlag, "user", "", "login user (overrides inventory)")
	runCmd.Flags().IntVar(&runPortFlag, "port", 0, "SSH port (overrides inventory)")
	runCmd.Flags().StringVar(&runKeyFlag, "key", "", "identity file (overrides inventory)")
	runCmd.Flags().StringVar(&runJumpFlag, "jump", "", "jump host (overrides inventory)")
	runCmd.Flags().StringVar(&runTimeoutFlag, "timeout", "", "command timeout (e.g., 30s, 5m)")
	runCmd.Flags().StringVar(&runReasonFlag, "reason", "", "reason recorded in the audit log")
	runCmd.Flags().StringVar(&runRiskFlag, "risk", "", "override risk classification (low, moderate, critical)")

	rootCmd.AddCommand(runCmd)
}

func runCommand(target, command string) error {
	timeout, err := parseTimeout(runTimeoutFlag)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// Call-site overrides beat inventory defaults. Verify the target up
	// front so flag typos fail before any spinner starts.
	a.dispatcher.Overrides = inventory.Overrides{
		User:     runUserFlag,
		Port:     runPortFlag,
		Key:      runKeyFlag,
		JumpHost: runJumpFlag,
	}
	if _, err := a.dispatcher.Resolver.Resolve(target, a.dispatcher.Overrides); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	spinner := ui.NewSpinner(fmt.Sprintf("Running on %s", target))
	a.bindSpinner(spinner)
	spinner.Start()

	result := a.dispatcher.ExecuteCommand(ctx, runner.ActionRequest{
		Target:       target,
		Command:      command,
		Reason:       runReasonFlag,
		RiskOverride: runRiskFlag,
		Timeout:      timeout,
	})

	switch {
	case result.Err != nil && errors.IsCode(result.Err, errors.ErrBlocked):
		spinner.Block()
	case result.Failed():
		spinner.Fail()
	default:
		spinner.Success()
	}

	if result.Stdout != "" {
		fmt.Fprint(os.Stdout, result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}

	if result.Err != nil {
		return result.Err
	}
	if result.ExitCode != 0 {
		exit := result.ExitCode
		if exit == sshutil.ExitCodeUnknown {
			exit = 1
		}
		return errors.NewExitError(exit)
	}
	return nil
}

func parseTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid timeout", flag),
			"Try something like 30s, 5m, or 1h.")
	}
	return d, nil
}

// signalContext cancels on SIGINT/SIGTERM so in-flight commands stop
// cleanly and leases are released.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
