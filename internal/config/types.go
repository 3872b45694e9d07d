package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// LocalTarget is the reserved target name that routes to direct local
// execution, bypassing SSH entirely. It cannot be used as a host name.
const LocalTarget = "local"

// Config represents the complete .opsrun.yaml configuration file.
type Config struct {
	Version int             `yaml:"version" mapstructure:"version"`
	Hosts   map[string]Host `yaml:"hosts" mapstructure:"hosts"`

	// Concurrency caps how many targets a batch runs against at once.
	// The effective worker count is min(Concurrency, distinct connection
	// keys in the batch).
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`

	Pool  PoolConfig  `yaml:"pool" mapstructure:"pool"`
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`
}

// Host defines a remote machine in the inventory.
type Host struct {
	// Address is the hostname or IP to connect to.
	Address string `yaml:"address" mapstructure:"address"`

	// Port is the SSH port (default 22).
	Port int `yaml:"port" mapstructure:"port"`

	// User is the login user (defaults to the invoking user).
	User string `yaml:"user" mapstructure:"user"`

	// Key is an optional identity file path (supports ~/ expansion).
	Key string `yaml:"key" mapstructure:"key"`

	// JumpHost names another inventory host to tunnel through.
	// Chains are followed transitively: a -> b -> c.
	JumpHost string `yaml:"jump_host" mapstructure:"jump_host"`

	// Tags for filtering and display.
	Tags []string `yaml:"tags" mapstructure:"tags"`

	// ConnectTimeout bounds tunnel construction including every hop's
	// authentication (default 10s).
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// CommandTimeout bounds a single command execution (default 60s).
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
}

// PoolConfig controls the connection pool.
type PoolConfig struct {
	// MaxSize caps the number of live connections (default 50).
	MaxSize int `yaml:"max_size" mapstructure:"max_size"`

	// IdleTimeout is how long a connection may sit idle before the
	// background sweep closes it (default 5m).
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`

	// ConnectRetries is how many times a failed tunnel build is retried
	// before the connect error surfaces (default 2).
	ConnectRetries int `yaml:"connect_retries" mapstructure:"connect_retries"`

	// RetryBackoff is the base delay between connect retries (default 500ms).
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	// Enabled toggles audit logging on/off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the audit log file (default ~/.local/state/opsrun/audit.log).
	Path string `yaml:"path" mapstructure:"path"`
}

// DefaultConnectTimeout bounds tunnel construction when a host doesn't set one.
const DefaultConnectTimeout = 10 * time.Second

// DefaultCommandTimeout bounds command execution when a host doesn't set one.
const DefaultCommandTimeout = 60 * time.Second

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:     CurrentConfigVersion,
		Hosts:       make(map[string]Host),
		Concurrency: 4,
		Pool: PoolConfig{
			MaxSize:        50,
			IdleTimeout:    5 * time.Minute,
			ConnectRetries: 2,
			RetryBackoff:   500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled: false,
		},
	}
}

// Timeouts returns the host's connect and command timeouts with defaults applied.
func (h Host) Timeouts() (connect, command time.Duration) {
	connect = h.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	command = h.CommandTimeout
	if command <= 0 {
		command = DefaultCommandTimeout
	}
	return connect, command
}
