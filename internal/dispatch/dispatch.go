// Package dispatch fans commands out to targets: resolve, classify, gate,
// acquire, run, release. Per-action errors become results, never panics;
// the caller always gets back what happened to every action it asked about.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsrun/opsrun/internal/audit"
	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/inventory"
	"github.com/opsrun/opsrun/internal/logger"
	"github.com/opsrun/opsrun/internal/pool"
	"github.com/opsrun/opsrun/internal/risk"
	"github.com/opsrun/opsrun/internal/runner"
	"github.com/opsrun/opsrun/internal/ui"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// Dispatcher wires the resolver, classifier, pool, runners, confirmation
// gate, progress reporter, and audit log together.
type Dispatcher struct {
	Resolver  *inventory.Resolver
	Pool      *pool.Pool
	Confirmer ui.Confirmer
	Reporter  ui.Reporter
	Audit     *audit.Writer
	Local     runner.Runner
	Log       logger.Logger

	// Overrides carries call-site connection overrides (user, port, key,
	// jump host) applied to every resolve in this invocation; explicit
	// values beat inventory defaults.
	Overrides inventory.Overrides

	// ConfirmAll gates every action, not just CRITICAL ones.
	ConfirmAll bool

	// Concurrency caps batch workers; the effective count is
	// min(Concurrency, distinct connection keys in the batch).
	Concurrency int

	// confirmMu serializes prompts so concurrent workers never interleave
	// two questions on one terminal.
	confirmMu sync.Mutex
}

func (d *Dispatcher) log() logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.Default()
}

func (d *Dispatcher) local() runner.Runner {
	if d.Local != nil {
		return d.Local
	}
	return &runner.LocalRunner{}
}

func (d *Dispatcher) reporter() ui.Reporter {
	if d.Reporter != nil {
		return d.Reporter
	}
	return ui.NopReporter{}
}

// ExecuteCommand runs one action end to end and records it in the audit
// log. The reason is carried through for audit only.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, req runner.ActionRequest) runner.ActionResult {
	result := d.execute(ctx, req)
	d.record(req, result)
	return result
}

// ExecuteBatch runs an ordered list of actions. With stopOnFailure the
// actions run sequentially and dispatch halts after the first failing
// result, so the returned list may be shorter but always ends with the
// failure. A blocked action is a policy outcome, not a failure, and never
// halts the batch. Otherwise actions run under bounded concurrency and
// every action gets a result, in the original order.
//
// Cancelling the context stops new actions from being issued; in-flight
// ones finish and their connections are released.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, job runner.BatchJob) []runner.ActionResult {
	if len(job.Actions) == 0 {
		return nil
	}

	rep := d.reporter()
	rep.Start(len(job.Actions))
	defer rep.Finish()

	if job.StopOnFailure {
		return d.executeSequential(ctx, job.Actions, rep)
	}
	return d.executeConcurrent(ctx, job.Actions, rep)
}

func (d *Dispatcher) executeSequential(ctx context.Context, actions []runner.ActionRequest, rep ui.Reporter) []runner.ActionResult {
	results := make([]runner.ActionResult, 0, len(actions))
	for _, req := range actions {
		result := d.ExecuteCommand(ctx, req)
		results = append(results, result)
		rep.Done(req.Target, result.OK())
		if result.Failed() && !errors.IsCode(result.Err, errors.ErrBlocked) {
			d.log().Debug("halting batch after failure on %s", req.Target)
			break
		}
	}
	return results
}

func (d *Dispatcher) executeConcurrent(ctx context.Context, actions []runner.ActionRequest, rep ui.Reporter) []runner.ActionResult {
	results := make([]runner.ActionResult, len(actions))

	limit := d.Concurrency
	if limit < 1 {
		limit = 1
	}
	if keys := d.distinctKeys(actions); keys < limit {
		limit = keys
	}

	g := new(errgroup.Group)
	g.SetLimit(limit)

	for i, req := range actions {
		// Stop issuing once cancelled; in-flight actions complete.
		if err := ctx.Err(); err != nil {
			for j := i; j < len(actions); j++ {
				results[j] = cancelledResult(actions[j], err)
				rep.Done(actions[j].Target, false)
			}
			break
		}

		i, req := i, req
		g.Go(func() error {
			results[i] = d.ExecuteCommand(ctx, req)
			rep.Done(req.Target, results[i].OK())
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// distinctKeys counts the distinct connection paths in a batch. More
// workers than paths is pointless: the pool serializes per key anyway.
func (d *Dispatcher) distinctKeys(actions []runner.ActionRequest) int {
	keys := make(map[sshutil.ConnectionKey]struct{}, len(actions))
	for _, req := range actions {
		desc, err := d.Resolver.Resolve(req.Target, d.Overrides)
		if err != nil {
			// Unresolvable targets still consume a result slot.
			keys[sshutil.ConnectionKey("!"+req.Target)] = struct{}{}
			continue
		}
		keys[desc.Key()] = struct{}{}
	}
	if len(keys) == 0 {
		return 1
	}
	return len(keys)
}

// execute runs the full per-action pipeline. The confirmation gate sits
// before any pool or network activity: a blocked action performs zero I/O.
func (d *Dispatcher) execute(ctx context.Context, req runner.ActionRequest) runner.ActionResult {
	start := time.Now()
	result := runner.ActionResult{
		Target:   req.Target,
		Command:  req.Command,
		ExitCode: sshutil.ExitCodeUnknown,
	}

	result.RiskTier = d.classify(req)

	desc, err := d.Resolver.Resolve(req.Target, d.Overrides)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	if ok, err := d.gate(req, result.RiskTier); err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	} else if !ok {
		result.Err = errors.New(errors.ErrBlocked,
			fmt.Sprintf("Blocked %s command on %s", result.RiskTier, req.Target),
			"Re-run with --confirm (or answer yes) to execute it")
		result.Duration = time.Since(start)
		return result
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = desc.CommandTimeout
	}

	var stdout, stderr string
	var exitCode int
	if desc.Local {
		stdout, stderr, exitCode, err = d.local().Run(ctx, req.Command, timeout)
	} else {
		stdout, stderr, exitCode, err = d.runRemote(ctx, desc, req.Command, timeout)
	}

	result.Stdout = stdout
	result.Stderr = stderr
	result.ExitCode = exitCode
	result.Err = err
	result.Duration = time.Since(start)
	return result
}

// runRemote leases a connection and runs the command over it. The release
// is deferred, so it happens on success, error, and panic alike.
func (d *Dispatcher) runRemote(ctx context.Context, desc *sshutil.HostDescriptor, command string, timeout time.Duration) (string, string, int, error) {
	lease, err := d.Pool.Acquire(ctx, desc)
	if err != nil {
		return "", "", sshutil.ExitCodeUnknown, err
	}
	defer lease.Release()

	r := &runner.RemoteRunner{Transport: lease.Transport, Lease: lease}
	return r.Run(ctx, command, timeout)
}

func (d *Dispatcher) classify(req runner.ActionRequest) risk.Tier {
	if req.RiskOverride != "" {
		if tier, ok := risk.ParseTier(req.RiskOverride); ok {
			return tier
		}
		d.log().Error("ignoring unknown risk override %q", req.RiskOverride)
	}
	return risk.Classify(req.Command)
}

// gate decides whether the action may proceed. CRITICAL always asks;
// lower tiers ask only under ConfirmAll.
func (d *Dispatcher) gate(req runner.ActionRequest, tier risk.Tier) (bool, error) {
	if tier != risk.Critical && !d.ConfirmAll {
		return true, nil
	}
	if d.Confirmer == nil {
		return false, nil
	}

	d.confirmMu.Lock()
	defer d.confirmMu.Unlock()
	return d.Confirmer.Confirm(fmt.Sprintf("%s command on %s: %s", tier, req.Target, req.Command))
}

func (d *Dispatcher) record(req runner.ActionRequest, result runner.ActionResult) {
	d.Audit.Record(audit.Entry{
		Target:   req.Target,
		Command:  req.Command,
		RiskTier: result.RiskTier.String(),
		ExitCode: result.ExitCode,
		Duration: result.Duration,
		Reason:   req.Reason,
	})
}

func cancelledResult(req runner.ActionRequest, cause error) runner.ActionResult {
	return runner.ActionResult{
		Target:   req.Target,
		Command:  req.Command,
		RiskTier: risk.Classify(req.Command),
		ExitCode: sshutil.ExitCodeUnknown,
		Err: errors.WrapWithCode(cause, errors.ErrExec,
			fmt.Sprintf("Batch cancelled before %s was dispatched", req.Target), ""),
	}
}
