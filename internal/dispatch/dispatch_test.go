package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/inventory"
	"github.com/opsrun/opsrun/internal/pool"
	"github.com/opsrun/opsrun/internal/risk"
	"github.com/opsrun/opsrun/internal/runner"
	"github.com/opsrun/opsrun/internal/ui"
	"github.com/opsrun/opsrun/pkg/sshutil"
	sshtesting "github.com/opsrun/opsrun/pkg/sshutil/testing"
)

// fixture wires a dispatcher over mock transports.
type fixture struct {
	dispatcher *Dispatcher
	confirmer  *ui.StaticConfirmer

	mu         sync.Mutex
	buildCalls int
	transports map[sshutil.ConnectionKey]*sshtesting.MockTransport
	responses  map[string]sshtesting.CommandResponse
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Hosts = map[string]config.Host{
		"web01": {Address: "10.0.1.10", User: "deploy"},
		"web02": {Address: "10.0.1.11", User: "deploy"},
		"db01":  {Address: "10.0.2.20", User: "postgres", JumpHost: "bastion"},
		"bastion": {
			Address: "bastion.example.com",
			User:    "ops",
		},
	}

	f := &fixture{
		confirmer:  &ui.StaticConfirmer{},
		transports: make(map[sshutil.ConnectionKey]*sshtesting.MockTransport),
		responses:  make(map[string]sshtesting.CommandResponse),
	}

	p := pool.New(cfg.Pool, f.build)
	t.Cleanup(p.Close)

	f.dispatcher = &Dispatcher{
		Resolver:    inventory.NewResolver(cfg),
		Pool:        p,
		Confirmer:   f.confirmer,
		Concurrency: cfg.Concurrency,
	}
	return f
}

func (f *fixture) build(ctx context.Context, desc *sshutil.HostDescriptor) (sshutil.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buildCalls++
	mock := sshtesting.NewMockTransport(desc.HopCount())
	for pattern, resp := range f.responses {
		mock.OnCommand(pattern, resp)
	}
	f.transports[desc.Key()] = mock
	return mock, nil
}

func (f *fixture) respond(pattern string, resp sshtesting.CommandResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[pattern] = resp
}

func (f *fixture) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buildCalls
}

func TestExecuteCommand_Success(t *testing.T) {
	f := newFixture(t)
	f.respond("uptime", sshtesting.CommandResponse{Stdout: "up 3 days\n"})

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "uptime",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "up 3 days\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, risk.Low, res.RiskTier)
	assert.True(t, res.OK())
}

func TestExecuteCommand_UnknownTarget(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web0",
		Command: "uptime",
	})

	require.Error(t, res.Err)
	assert.True(t, errors.IsCode(res.Err, errors.ErrResolve))
	assert.Equal(t, 0, f.builds(), "resolution failure must not dial")
}

func TestExecuteCommand_CriticalBlockedWithoutConfirmation(t *testing.T) {
	f := newFixture(t)
	f.confirmer.Answer = false

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "rm -rf /var/www",
	})

	require.Error(t, res.Err)
	assert.True(t, errors.IsCode(res.Err, errors.ErrBlocked))
	assert.Equal(t, risk.Critical, res.RiskTier)
	assert.Equal(t, sshutil.ExitCodeUnknown, res.ExitCode)
	assert.Equal(t, 0, f.builds(), "blocked action must perform zero network I/O")
}

func TestExecuteCommand_CriticalRunsWhenConfirmed(t *testing.T) {
	f := newFixture(t)
	f.confirmer.Answer = true
	f.respond("systemctl restart nginx", sshtesting.CommandResponse{})

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "systemctl restart nginx",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, risk.Critical, res.RiskTier)
	require.Len(t, f.confirmer.Asked, 1)
	assert.Contains(t, f.confirmer.Asked[0], "web01")
	assert.Contains(t, f.confirmer.Asked[0], "systemctl restart nginx")
}

func TestExecuteCommand_ConfirmAllGatesLowTier(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.ConfirmAll = true
	f.confirmer.Answer = false

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "uptime",
	})

	assert.True(t, errors.IsCode(res.Err, errors.ErrBlocked))
}

func TestExecuteCommand_RiskOverride(t *testing.T) {
	f := newFixture(t)
	f.confirmer.Answer = false

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:       "web01",
		Command:      "uptime",
		RiskOverride: "critical",
	})

	assert.Equal(t, risk.Critical, res.RiskTier)
	assert.True(t, errors.IsCode(res.Err, errors.ErrBlocked))
}

func TestExecuteCommand_LocalTarget(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "local",
		Command: "echo hello",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 0, f.builds(), "local execution must not touch the pool")
}

func TestExecuteCommand_TimeoutMarksConnectionBroken(t *testing.T) {
	f := newFixture(t)
	f.respond("slow", sshtesting.CommandResponse{Delay: time.Second})

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "slow",
		Timeout: 30 * time.Millisecond,
	})

	require.Error(t, res.Err)
	assert.True(t, errors.IsCode(res.Err, errors.ErrTimeout))
	assert.Equal(t, 0, f.dispatcher.Pool.Len(), "timed-out connection must leave the pool")

	// Next command on the same target gets a fresh tunnel.
	f.respond("uptime", sshtesting.CommandResponse{})
	res = f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "uptime",
	})
	require.NoError(t, res.Err)
	assert.Equal(t, 2, f.builds())
}

func TestExecuteBatch_StopOnFailureHalts(t *testing.T) {
	f := newFixture(t)
	f.respond("step2", sshtesting.CommandResponse{ExitCode: 1})

	actions := []runner.ActionRequest{
		{Target: "web01", Command: "step1"},
		{Target: "web01", Command: "step2"},
		{Target: "web01", Command: "step3"},
		{Target: "web02", Command: "step4"},
		{Target: "web02", Command: "step5"},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), runner.BatchJob{
		Actions:       actions,
		StopOnFailure: true,
	})

	require.Len(t, results, 2, "dispatch must halt after the failing action")
	assert.True(t, results[0].OK())
	assert.Equal(t, "step2", results[1].Command)
	assert.Equal(t, 1, results[1].ExitCode)
}

func TestExecuteBatch_StopOnFailureContinuesPastBlocked(t *testing.T) {
	f := newFixture(t)
	f.confirmer.Answer = false

	actions := []runner.ActionRequest{
		{Target: "web01", Command: "systemctl restart nginx"},
		{Target: "web01", Command: "uptime"},
		{Target: "web02", Command: "uptime"},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), runner.BatchJob{
		Actions:       actions,
		StopOnFailure: true,
	})

	require.Len(t, results, 3, "a blocked action is a policy outcome, not a failure")
	assert.True(t, errors.IsCode(results[0].Err, errors.ErrBlocked))
	assert.True(t, results[1].OK())
	assert.True(t, results[2].OK())
	require.Len(t, f.confirmer.Asked, 1, "only the critical action prompts")
	assert.Contains(t, f.confirmer.Asked[0], "systemctl restart nginx")
}

func TestExecuteBatch_ContinueOnFailureReturnsAll(t *testing.T) {
	f := newFixture(t)
	f.respond("fail-cmd", sshtesting.CommandResponse{ExitCode: 7})

	actions := []runner.ActionRequest{
		{Target: "web01", Command: "ok1"},
		{Target: "web02", Command: "fail-cmd"},
		{Target: "web01", Command: "ok2"},
		{Target: "db01", Command: "ok3"},
		{Target: "web02", Command: "ok4"},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), runner.BatchJob{Actions: actions})

	require.Len(t, results, 5, "every action gets a result")
	for i, req := range actions {
		assert.Equal(t, req.Command, results[i].Command, "results must stay in request order")
	}
	assert.Equal(t, 7, results[1].ExitCode)
	assert.True(t, results[1].Failed())
	assert.True(t, results[0].OK())
	assert.True(t, results[4].OK())
}

func TestExecuteBatch_ReusesConnectionsPerKey(t *testing.T) {
	f := newFixture(t)

	actions := []runner.ActionRequest{
		{Target: "web01", Command: "a"},
		{Target: "web01", Command: "b"},
		{Target: "web01", Command: "c"},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), runner.BatchJob{Actions: actions})

	require.Len(t, results, 3)
	assert.Equal(t, 1, f.builds(), "same key should share one tunnel")
}

func TestExecuteBatch_CancelledStopsIssuing(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	actions := []runner.ActionRequest{
		{Target: "web01", Command: "a"},
		{Target: "web02", Command: "b"},
	}

	results := f.dispatcher.ExecuteBatch(ctx, runner.BatchJob{Actions: actions})

	require.Len(t, results, 2, "cancellation must not silently drop results")
	for _, res := range results {
		assert.Error(t, res.Err)
	}
	assert.Equal(t, 0, f.builds())
}

func TestExecuteBatch_ProgressReported(t *testing.T) {
	f := newFixture(t)
	rep := &countingReporter{}
	f.dispatcher.Reporter = rep

	actions := []runner.ActionRequest{
		{Target: "web01", Command: "a"},
		{Target: "web02", Command: "b"},
	}
	f.dispatcher.ExecuteBatch(context.Background(), runner.BatchJob{Actions: actions})

	assert.Equal(t, 2, rep.total)
	assert.Equal(t, 2, rep.done)
	assert.True(t, rep.finished)
}

func TestExecuteCommand_OverridesShapeConnectionKey(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Overrides = inventory.Overrides{User: "root", Port: 2222}

	res := f.dispatcher.ExecuteCommand(context.Background(), runner.ActionRequest{
		Target:  "web01",
		Command: "uptime",
	})
	require.NoError(t, res.Err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.transports, 1)
	for key := range f.transports {
		assert.Contains(t, string(key), "root@10.0.1.10:2222")
	}
}

type countingReporter struct {
	mu       sync.Mutex
	total    int
	done     int
	finished bool
}

func (r *countingReporter) Start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
}

func (r *countingReporter) Done(string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
}

func (r *countingReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}
