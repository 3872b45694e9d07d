package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/ui"
	"github.com/opsrun/opsrun/internal/util"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List configured targets",
	Long: `List every host from the inventory with its address, user, jump
chain, and tags.

Examples:
  opsrun hosts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostsCommand()
	},
}

func init() {
	rootCmd.AddCommand(hostsCmd)
}

func hostsCommand() error {
	cfg, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return err
	}

	if len(cfg.Hosts) == 0 {
		fmt.Println("No hosts configured. Add entries under 'hosts:' in .opsrun.yaml.")
		return nil
	}

	names := make([]string, 0, len(cfg.Hosts))
	width := 0
	for name := range cfg.Hosts {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	nameStyle := lipgloss.NewStyle().Foreground(ui.ColorInfo)
	muted := lipgloss.NewStyle().Foreground(ui.ColorMuted)

	for _, name := range names {
		host := cfg.Hosts[name]
		line := fmt.Sprintf("%s  %s", nameStyle.Render(fmt.Sprintf("%-*s", width, name)), endpoint(host))
		if host.JumpHost != "" {
			line += muted.Render(fmt.Sprintf("  via %s", strings.Join(jumpPath(cfg, host), " -> ")))
		}
		if len(host.Tags) > 0 {
			line += muted.Render(fmt.Sprintf("  [%s]", util.JoinOrNone(host.Tags)))
		}
		fmt.Println(line)
	}
	return nil
}

func endpoint(h config.Host) string {
	addr := h.Address
	if h.Port != 0 && h.Port != 22 {
		addr = fmt.Sprintf("%s:%d", addr, h.Port)
	}
	if h.User != "" {
		return h.User + "@" + addr
	}
	return addr
}

// jumpPath follows jump references for display. A cycle would be caught at
// resolve time; here the walk just stops rather than looping.
func jumpPath(cfg *config.Config, h config.Host) []string {
	var path []string
	seen := make(map[string]bool)
	for name := h.JumpHost; name != "" && !seen[name]; {
		seen[name] = true
		path = append(path, name)
		next, ok := cfg.Hosts[name]
		if !ok {
			break
		}
		name = next.JumpHost
	}
	// Display order: outermost bastion first.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
