package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/internal/risk"
	"github.com/opsrun/opsrun/internal/ui"
)

var riskCmd = &cobra.Command{
	Use:   "risk <command...>",
	Short: "Show the risk tier a command would be classified as",
	Long: `Classify a command without running it.

Destructive, service-control, and reboot commands are CRITICAL and require
confirmation before dispatch. Configuration and permission changes are
MODERATE. Recognized read-only commands are LOW. Anything unrecognized
defaults to MODERATE.

Examples:
  opsrun risk "rm -rf /var/log/old"
  opsrun risk "systemctl status nginx"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		command := strings.Join(args, " ")
		tier, reason := risk.ClassifyWithReason(command)

		style := lipgloss.NewStyle().Foreground(ui.TierColor(tier.String())).Bold(true)
		fmt.Printf("%s  %s\n", style.Render(tier.String()), reason)
	},
}

func init() {
	rootCmd.AddCommand(riskCmd)
}
