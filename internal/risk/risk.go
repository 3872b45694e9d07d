// Package risk classifies command strings into risk tiers. Classification
// is pure: no I/O, no state, deterministic for identical input.
package risk

import (
	"regexp"
	"strings"
)

// Tier is the coarse risk classification of a command.
type Tier int

const (
	// Low commands are recognized read-only operations.
	Low Tier = iota
	// Moderate commands mutate configuration or permissions. Moderate is
	// also the default for anything the rule set does not recognize.
	Moderate
	// Critical commands are destructive or disruptive and require explicit
	// confirmation before dispatch.
	Critical
)

func (t Tier) String() string {
	switch t {
	case Low:
		return "LOW"
	case Moderate:
		return "MODERATE"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseTier converts a string (any case) to a Tier.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low, true
	case "MODERATE":
		return Moderate, true
	case "CRITICAL":
		return Critical, true
	}
	return Moderate, false
}

// rule maps a command pattern to a tier. Rules are evaluated in order and
// the first match wins.
type rule struct {
	pattern *regexp.Regexp
	tier    Tier
	label   string
}

// The rule table is ordered most-severe first so that a command like
// "systemctl stop nginx && cat log" lands on the severe side.
var rules = []rule{
	// Destructive file operations.
	{regexp.MustCompile(`(^|[;&|]\s*|\bsudo\s+)rm\b`), Critical, "file removal"},
	{regexp.MustCompile(`\b(mkfs|dd|shred|wipefs)\b`), Critical, "disk destruction"},
	{regexp.MustCompile(`\btruncate\b.*\s-s\s*0`), Critical, "file truncation"},

	// Service control and host lifecycle.
	{regexp.MustCompile(`\bsystemctl\s+(stop|restart|disable|mask|kill)\b`), Critical, "service control"},
	{regexp.MustCompile(`\bservice\s+\S+\s+(stop|restart)\b`), Critical, "service control"},
	{regexp.MustCompile(`\b(reboot|shutdown|halt|poweroff|init\s+[06])\b`), Critical, "host lifecycle"},
	{regexp.MustCompile(`\bkill(all)?\b`), Critical, "process kill"},

	// Storage and database teardown.
	{regexp.MustCompile(`\b(drop\s+(table|database)|truncate\s+table)\b`), Critical, "database teardown"},
	{regexp.MustCompile(`\b(umount|swapoff)\b`), Critical, "storage detach"},

	// Package and user removal.
	{regexp.MustCompile(`\b(apt(-get)?|yum|dnf)\s+(remove|purge|autoremove)\b`), Critical, "package removal"},
	{regexp.MustCompile(`\buserdel\b`), Critical, "account removal"},

	// Configuration and permission mutation.
	{regexp.MustCompile(`\b(chmod|chown|chgrp|setfacl)\b`), Moderate, "permission change"},
	{regexp.MustCompile(`\bsystemctl\s+(start|enable|reload|unmask|daemon-reload)\b`), Moderate, "service start"},
	{regexp.MustCompile(`\b(apt(-get)?|yum|dnf)\s+(install|upgrade|update)\b`), Moderate, "package install"},
	{regexp.MustCompile(`\b(useradd|usermod|groupadd|passwd)\b`), Moderate, "account change"},
	{regexp.MustCompile(`\b(sed\s+-i|tee\b|>\s*/etc/)`), Moderate, "config edit"},
	{regexp.MustCompile(`\b(sysctl\s+-w|iptables|nft|ufw)\b`), Moderate, "network config"},
	{regexp.MustCompile(`\b(mv|cp|ln|mkdir|touch|rsync|tar\s+-?x)\b`), Moderate, "filesystem write"},
	{regexp.MustCompile(`\b(git\s+(pull|checkout|reset)|docker\s+(run|rm|stop|restart))\b`), Moderate, "deployment change"},

	// Recognized read-only verbs. Matched only when they start the
	// command, so "cat x > /etc/y" is caught by the config-edit rule
	// above, not whitelisted here.
	{regexp.MustCompile(`^\s*(ls|cat|head|tail|less|grep|find|stat|file|wc|du|df)\b`), Low, "file inspection"},
	{regexp.MustCompile(`^\s*(ps|top|htop|free|uptime|w|who|id|whoami|hostname|uname|date)\b`), Low, "system inspection"},
	{regexp.MustCompile(`^\s*(ss|netstat|ip\s+(a|addr|route|link)\b|ping|dig|nslookup|curl\s+-[sI])`), Low, "network inspection"},
	{regexp.MustCompile(`^\s*(systemctl\s+(status|is-active|is-enabled|list-units)|journalctl|dmesg)\b`), Low, "service inspection"},
	{regexp.MustCompile(`^\s*(git\s+(status|log|diff|show)|docker\s+(ps|logs|inspect|images))\b`), Low, "tool inspection"},
	{regexp.MustCompile(`^\s*(echo|printf|env|printenv|which|type)\b`), Low, "shell inspection"},
}

// Classify returns the risk tier for a command. Unmatched commands default
// to Moderate, never silently Low.
func Classify(command string) Tier {
	tier, _ := ClassifyWithReason(command)
	return tier
}

// ClassifyWithReason returns the tier plus the label of the matching rule,
// or "unclassified" when no rule matched.
func ClassifyWithReason(command string) (Tier, string) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Moderate, "empty command"
	}
	for _, r := range rules {
		if r.pattern.MatchString(trimmed) {
			return r.tier, r.label
		}
	}
	return Moderate, "unclassified"
}
