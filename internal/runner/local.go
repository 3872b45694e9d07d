package runner

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// LocalRunner executes commands as local child processes through sh -c,
// giving the "local" target the same result shape as a remote one.
type LocalRunner struct {
	// Shell defaults to /bin/sh.
	Shell string
}

func (r *LocalRunner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	return "/bin/sh"
}

// Run executes the command locally. On timeout the process is killed and a
// TIMEOUT error is returned with whatever output was captured.
func (r *LocalRunner) Run(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.shell(), "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), sshutil.ExitCodeUnknown,
			errors.WrapWithCode(sshutil.ErrCommandTimeout, errors.ErrTimeout,
				fmt.Sprintf("Command timed out after %s", timeout),
				"Increase the timeout with --timeout")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if goerrors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), sshutil.ExitCodeUnknown,
			errors.WrapWithCode(err, errors.ErrExec, "Local execution failed", "")
	}

	return stdout.String(), stderr.String(), 0, nil
}
