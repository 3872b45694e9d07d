package cli

import (
	"context"
	"os"

	"github.com/opsrun/opsrun/internal/audit"
	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/dispatch"
	"github.com/opsrun/opsrun/internal/inventory"
	"github.com/opsrun/opsrun/internal/pool"
	"github.com/opsrun/opsrun/internal/secrets"
	"github.com/opsrun/opsrun/internal/ui"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// app wires the full execution stack for one command invocation.
type app struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	pool       *pool.Pool
	audit      *audit.Writer
	prompter   *secrets.TerminalPrompter
	confirmer  *ui.TerminalConfirmer
}

// newApp loads configuration and builds the resolver, authenticator,
// tunnel builder, pool, audit writer, and dispatcher.
func newApp() (*app, error) {
	cfg, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return nil, err
	}

	prompter := secrets.NewTerminalPrompter()
	authenticator := &sshutil.Authenticator{
		Credentials: prompter,
		AgentSocket: os.Getenv("SSH_AUTH_SOCK"),
	}
	builder := sshutil.NewBuilder(authenticator)

	p := pool.New(cfg.Pool, func(ctx context.Context, desc *sshutil.HostDescriptor) (sshutil.Transport, error) {
		return builder.Build(ctx, desc)
	})

	auditWriter, err := audit.NewWriter(cfg.Audit)
	if err != nil {
		p.Close()
		return nil, err
	}

	confirmer := &ui.TerminalConfirmer{AutoYes: autoYesFlag}

	a := &app{
		cfg:       cfg,
		pool:      p,
		audit:     auditWriter,
		prompter:  prompter,
		confirmer: confirmer,
	}
	a.dispatcher = &dispatch.Dispatcher{
		Resolver:    inventory.NewResolver(cfg),
		Pool:        p,
		Confirmer:   confirmer,
		Audit:       auditWriter,
		ConfirmAll:  confirmAllFlag,
		Concurrency: cfg.Concurrency,
	}
	return a, nil
}

// bindSpinner pauses the spinner while prompts need the terminal.
func (a *app) bindSpinner(s *ui.Spinner) {
	a.prompter.Pause = s.Pause
	a.prompter.Resume = s.Resume
	a.confirmer.Pause = s.Pause
	a.confirmer.Resume = s.Resume
}

func (a *app) Close() {
	a.pool.Close()
	_ = a.audit.Close()
}
