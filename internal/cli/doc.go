// Package cli implements the opsrun command-line interface.
//
// The package is organized around Cobra commands, with each command
// delegating to the dispatcher for the actual work. The general structure
// follows a clean separation between:
//
//   - Command definitions (cobra.Command instances)
//   - Wiring (the app type builds resolver, pool, and dispatcher)
//   - Implementation details (in other internal packages)
//
// # Command Structure
//
// The root command is "opsrun" with subcommands for different operations:
//
//	opsrun run <target> <command>  - Run one command on a target
//	opsrun batch <file>            - Run an ordered batch from a YAML file
//	opsrun hosts                   - List configured targets
//	opsrun risk <command>          - Show a command's risk tier
//	opsrun version                 - Print version information
//
// The reserved target "local" executes directly on this machine without
// SSH. Everything else resolves through the inventory, falling back to
// ~/.ssh/config.
//
// # Flag Handling
//
// Global flags (--config, --yes, --confirm-all) are defined on the root
// command and available to all subcommands. Command-specific flags like
// --user, --jump, and --timeout are defined on individual commands.
package cli
