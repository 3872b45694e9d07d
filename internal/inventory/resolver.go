// Package inventory resolves target names into connection descriptors.
// Resolution is read-only: a fresh descriptor is built per call from the
// inventory plus any call-site overrides, and nothing is mutated.
package inventory

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/logger"
	"github.com/opsrun/opsrun/internal/util"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// Overrides carries call-site values that beat inventory defaults.
// Zero values mean "use the inventory's setting".
type Overrides struct {
	User     string
	Port     int
	Key      string
	JumpHost string // names an inventory host; replaces the target's configured jump
}

// Resolver turns target names into host descriptors. Unknown names fall
// back to ~/.ssh/config before being reported as not found.
type Resolver struct {
	cfg *config.Config
	log logger.Logger

	// sshConfigPath is overridable for tests; empty means ~/.ssh/config.
	sshConfigPath string
}

// NewResolver creates a resolver over the given configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg, log: logger.NewEnvLogger("[resolve]")}
}

// Resolve builds the connection descriptor for a target. The reserved name
// "local" yields a sentinel descriptor routed to direct process execution.
// Every hop of the jump chain is resolved here, before any network I/O;
// cycles and dangling jump references are configuration errors.
func (r *Resolver) Resolve(target string, ov Overrides) (*sshutil.HostDescriptor, error) {
	if target == config.LocalTarget {
		return sshutil.LocalDescriptor(config.DefaultCommandTimeout), nil
	}

	if host, ok := r.cfg.Hosts[target]; ok {
		return r.resolveInventory(target, host, ov)
	}

	if desc, ok := r.resolveSSHConfig(target, ov); ok {
		return desc, nil
	}

	return nil, r.notFound(target)
}

// JumpHostOf returns the configured jump host for a target, if any.
func (r *Resolver) JumpHostOf(target string) (string, bool) {
	host, ok := r.cfg.Hosts[target]
	if !ok || host.JumpHost == "" {
		return "", false
	}
	return host.JumpHost, true
}

// Names returns all inventory host names, sorted.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.cfg.Hosts))
	for name := range r.cfg.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Host returns the raw inventory entry for a name.
func (r *Resolver) Host(name string) (config.Host, bool) {
	host, ok := r.cfg.Hosts[name]
	return host, ok
}

func (r *Resolver) resolveInventory(name string, host config.Host, ov Overrides) (*sshutil.HostDescriptor, error) {
	jumpName := host.JumpHost
	if ov.JumpHost != "" {
		jumpName = ov.JumpHost
	}

	chain, err := r.jumpChain(name, jumpName)
	if err != nil {
		return nil, err
	}

	connect, command := host.Timeouts()
	return &sshutil.HostDescriptor{
		Hop:            r.hopFor(name, host, ov),
		JumpChain:      chain,
		ConnectTimeout: connect,
		CommandTimeout: command,
	}, nil
}

// jumpChain expands the transitive jump references for a target into an
// ordered list, outermost bastion first. This is a pure walk over the
// inventory; a revisited name is a cycle and fails before any dial.
func (r *Resolver) jumpChain(target, first string) ([]sshutil.Hop, error) {
	if first == "" {
		return nil, nil
	}

	visited := map[string]bool{target: true}
	var path []string
	var chain []sshutil.Hop

	for name := first; name != ""; {
		if visited[name] {
			cycle := append([]string{target}, append(path, name)...)
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Jump chain cycle detected: %s", strings.Join(cycle, " -> ")),
				"Break the cycle by removing one of the jump_host references in your config")
		}
		visited[name] = true
		path = append(path, name)

		host, ok := r.cfg.Hosts[name]
		if !ok {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Jump host '%s' (needed to reach '%s') is not in the inventory", name, target),
				fmt.Sprintf("Add a host entry for '%s' or fix the jump_host reference", name))
		}

		// Prepend: the last name discovered is the first hop dialed.
		chain = append([]sshutil.Hop{r.hopFor(name, host, Overrides{})}, chain...)
		name = host.JumpHost
	}

	return chain, nil
}

func (r *Resolver) hopFor(name string, host config.Host, ov Overrides) sshutil.Hop {
	hop := sshutil.Hop{
		Name:    name,
		Address: host.Address,
		Port:    host.Port,
		User:    host.User,
		KeyPath: config.ExpandHome(host.Key),
	}
	if hop.Port == 0 {
		hop.Port = 22
	}
	if ov.User != "" {
		hop.User = ov.User
	}
	if ov.Port != 0 {
		hop.Port = ov.Port
	}
	if ov.Key != "" {
		hop.KeyPath = config.ExpandHome(ov.Key)
	}
	if hop.User == "" {
		hop.User = currentUser()
	}
	return hop
}

// resolveSSHConfig consults ~/.ssh/config for targets missing from the
// inventory, honoring HostName, User, Port, IdentityFile, and ProxyJump.
func (r *Resolver) resolveSSHConfig(target string, ov Overrides) (*sshutil.HostDescriptor, bool) {
	cfg := r.loadSSHConfig()
	if cfg == nil {
		return nil, false
	}

	hostname, _ := cfg.Get(target, "HostName")
	if hostname == "" {
		// No entry for this alias.
		if !hasAlias(cfg, target) {
			return nil, false
		}
		hostname = target
	}

	hop := sshutil.Hop{Name: target, Address: hostname, Port: 22}
	if u, _ := cfg.Get(target, "User"); u != "" {
		hop.User = u
	}
	if p, _ := cfg.Get(target, "Port"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			hop.Port = n
		}
	}
	if id, _ := cfg.Get(target, "IdentityFile"); id != "" {
		hop.KeyPath = config.ExpandHome(id)
	}

	var chain []sshutil.Hop
	if ov.JumpHost != "" {
		if desc, err := r.Resolve(ov.JumpHost, Overrides{}); err == nil {
			chain = append(desc.JumpChain, desc.Hop)
		}
	} else if pj, _ := cfg.Get(target, "ProxyJump"); pj != "" && pj != "none" {
		chain = parseProxyJump(pj)
	}

	if ov.User != "" {
		hop.User = ov.User
	}
	if ov.Port != 0 {
		hop.Port = ov.Port
	}
	if ov.Key != "" {
		hop.KeyPath = config.ExpandHome(ov.Key)
	}
	if hop.User == "" {
		hop.User = currentUser()
	}

	r.log.Debug("resolved %s via ssh config: %s", target, hop.Addr())
	return &sshutil.HostDescriptor{
		Hop:            hop,
		JumpChain:      chain,
		ConnectTimeout: config.DefaultConnectTimeout,
		CommandTimeout: config.DefaultCommandTimeout,
	}, true
}

func (r *Resolver) loadSSHConfig() *ssh_config.Config {
	path := r.sshConfigPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".ssh", "config")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		r.log.Debug("ssh config parse failed: %v", err)
		return nil
	}
	return cfg
}

func hasAlias(cfg *ssh_config.Config, alias string) bool {
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			p := pattern.String()
			if p == alias {
				return true
			}
		}
	}
	return false
}

// parseProxyJump parses an OpenSSH ProxyJump value: comma-separated
// [user@]host[:port] entries, first entry dialed first.
func parseProxyJump(value string) []sshutil.Hop {
	var chain []sshutil.Hop
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hop := sshutil.Hop{Name: part, Port: 22}
		if at := strings.LastIndex(part, "@"); at >= 0 {
			hop.User = part[:at]
			part = part[at+1:]
		}
		if colon := strings.LastIndex(part, ":"); colon >= 0 {
			if n, err := strconv.Atoi(part[colon+1:]); err == nil {
				hop.Port = n
				part = part[:colon]
			}
		}
		hop.Address = part
		if hop.User == "" {
			hop.User = currentUser()
		}
		chain = append(chain, hop)
	}
	return chain
}

// notFound builds the RESOLVE error with "did you mean" suggestions drawn
// from inventory names within a small edit distance.
func (r *Resolver) notFound(target string) error {
	suggestions := r.Suggestions(target)

	suggestion := "Run 'opsrun hosts' to list configured targets"
	if len(suggestions) > 0 {
		suggestion = fmt.Sprintf("Did you mean %s?", util.JoinOrNone(suggestions))
	}

	return errors.New(errors.ErrResolve,
		fmt.Sprintf("Unknown target '%s'", target),
		suggestion)
}

// Suggestions returns inventory names close to the given target, sorted by
// edit distance then name.
func (r *Resolver) Suggestions(target string) []string {
	type scored struct {
		name string
		dist int
	}
	var close []scored
	for name := range r.cfg.Hosts {
		d := util.Levenshtein(strings.ToLower(target), strings.ToLower(name))
		if d <= 2 || strings.HasPrefix(name, target) {
			close = append(close, scored{name: name, dist: d})
		}
	}
	sort.Slice(close, func(i, j int) bool {
		if close[i].dist != close[j].dist {
			return close[i].dist < close[j].dist
		}
		return close[i].name < close[j].name
	})

	names := make([]string, 0, len(close))
	for _, s := range close {
		names = append(names, s.name)
	}
	if len(names) > 3 {
		names = names[:3]
	}
	return names
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "root"
}
