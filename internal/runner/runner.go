// Package runner executes single actions: remote over a leased tunnel, or
// local as a child process. Both paths produce the same result shape.
package runner

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/risk"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// ActionRequest describes one command to run against one target.
type ActionRequest struct {
	Target  string
	Command string

	// Reason is free-form context carried through to the audit log only.
	Reason string

	// RiskOverride forces a tier instead of classifying the command.
	// Empty means classify.
	RiskOverride string

	// Timeout bounds this command; zero uses the target's default.
	Timeout time.Duration
}

// ActionResult is the immutable outcome of one action.
type ActionResult struct {
	Target   string
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	RiskTier risk.Tier
	Duration time.Duration
	Err      error
}

// OK reports whether the action ran and exited zero.
func (r ActionResult) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Failed reports whether the action errored or exited non-zero.
func (r ActionResult) Failed() bool {
	return !r.OK()
}

// BatchJob is an ordered list of actions plus the failure policy.
type BatchJob struct {
	Actions       []ActionRequest
	StopOnFailure bool
}

// Runner executes one command within a timeout. Implementations exist for
// remote (leased tunnel) and local (child process) targets.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
}

// RemoteRunner runs commands over a leased pooled connection. One command
// channel per run; the lease guarantees nothing else shares the transport.
type RemoteRunner struct {
	Lease interface {
		MarkBroken()
	}
	Transport sshutil.Transport
}

// Run executes the command, streaming output until completion or timeout.
// On timeout the channel is force-closed mid-protocol, so the connection is
// marked broken and any partial output is returned with the error.
func (r *RemoteRunner) Run(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := r.Transport.ExecContext(ctx, command, &stdout, &stderr)

	if err != nil {
		if goerrors.Is(err, sshutil.ErrCommandTimeout) {
			if r.Lease != nil {
				r.Lease.MarkBroken()
			}
			return stdout.String(), stderr.String(), sshutil.ExitCodeUnknown,
				errors.WrapWithCode(err, errors.ErrTimeout,
					fmt.Sprintf("Command timed out after %s", timeout),
					"Increase the timeout with --timeout or the host's command_timeout")
		}
		return stdout.String(), stderr.String(), sshutil.ExitCodeUnknown,
			errors.WrapWithCode(err, errors.ErrExec, "Remote execution failed", "")
	}

	return stdout.String(), stderr.String(), exitCode, nil
}
