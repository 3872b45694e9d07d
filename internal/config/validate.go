package config

import (
	"fmt"
	"strings"

	"github.com/opsrun/opsrun/internal/errors"
)

// Validate checks the config for errors and returns structured error messages.
// Jump chain cycles are not checked here: the resolver performs that pre-check
// per target so that call-site overrides are included.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but opsrun only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Update opsrun to the latest release")
	}

	if cfg.Concurrency < 0 {
		return errors.New(errors.ErrConfig,
			"'concurrency' can't be negative",
			"Use a positive number, or omit it for the default of 4.")
	}

	if cfg.Pool.MaxSize <= 0 {
		return errors.New(errors.ErrConfig,
			"'pool.max_size' must be at least 1",
			"Remove the setting to use the default of 50.")
	}

	for name, host := range cfg.Hosts {
		if err := validateHost(name, host, cfg.Hosts); err != nil {
			return err
		}
	}

	return nil
}

// validateHost checks a single inventory entry.
func validateHost(name string, host Host, all map[string]Host) error {
	if name == LocalTarget {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' is reserved for local execution and can't be a host name", LocalTarget),
			"Rename the host in your inventory.")
	}

	if strings.ContainsAny(name, " @/") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host name '%s' contains invalid characters", name),
			"Use a simple name like 'db01'. Put user and address under the host entry.")
	}

	if host.Address == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' has no address", name),
			"Add 'address: <hostname or IP>' under the host entry.")
	}

	if host.Port < 0 || host.Port > 65535 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' has an invalid port %d", name, host.Port),
			"Ports must be between 1 and 65535. Omit the port for the default of 22.")
	}

	if host.JumpHost != "" {
		if host.JumpHost == name {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host '%s' lists itself as its jump host", name),
				"A host can't be its own bastion. Remove the 'jump_host' entry or point it elsewhere.")
		}
		if _, ok := all[host.JumpHost]; !ok {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host '%s' references unknown jump host '%s'", name, host.JumpHost),
				"Add the jump host to the inventory, or fix the 'jump_host' entry.")
		}
	}

	if host.ConnectTimeout < 0 || host.CommandTimeout < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' has a negative timeout", name),
			"Timeouts must be positive durations like 10s or 2m.")
	}

	return nil
}
