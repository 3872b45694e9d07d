package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/runner"
	"github.com/opsrun/opsrun/internal/ui"
	"github.com/opsrun/opsrun/internal/util"
)

var (
	batchStopFlag       bool
	batchNoProgressFlag bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run an ordered batch of commands from a YAML file",
	Long: `Execute a list of (target, command) actions from a YAML job file.

Actions run concurrently up to the configured limit, except with
--stop-on-failure, which runs them in order and halts after the first
failure. Every dispatched action produces a result; nothing is silently
dropped.

Job file format:

  stop_on_failure: false
  actions:
    - target: web01
      command: "systemctl reload nginx"
      reason: "rolling reload"
    - target: web02
      command: "systemctl reload nginx"
      timeout: 30s

Examples:
  opsrun batch deploy.yaml
  opsrun batch checks.yaml --stop-on-failure`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return batchCommand(args[0])
	},
}

func init() {
	batchCmd.Flags().BoolVar(&batchStopFlag, "stop-on-failure", false, "halt after the first failing action")
	batchCmd.Flags().BoolVar(&batchNoProgressFlag, "no-progress", false, "disable the progress bar")

	rootCmd.AddCommand(batchCmd)
}

// batchFile is the YAML shape of a job file. Timeouts are duration strings
// so job files read like the CLI flags.
type batchFile struct {
	StopOnFailure bool          `yaml:"stop_on_failure"`
	Actions       []batchAction `yaml:"actions"`
}

type batchAction struct {
	Target  string `yaml:"target"`
	Command string `yaml:"command"`
	Reason  string `yaml:"reason"`
	Risk    string `yaml:"risk"`
	Timeout string `yaml:"timeout"`
}

func batchCommand(path string) error {
	job, err := loadBatchFile(path)
	if err != nil {
		return err
	}
	if batchStopFlag {
		job.StopOnFailure = true
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !batchNoProgressFlag {
		a.dispatcher.Reporter = &ui.BarReporter{Out: os.Stderr}
	}

	ctx, cancel := signalContext()
	defer cancel()

	results := a.dispatcher.ExecuteBatch(ctx, *job)

	lines := make([]ui.ResultLine, 0, len(results))
	failed := false
	for _, res := range results {
		if res.Failed() {
			failed = true
		}
		lines = append(lines, ui.ResultLine{
			Target:   res.Target,
			Tier:     res.RiskTier.String(),
			ExitCode: res.ExitCode,
			Duration: res.Duration,
			Err:      res.Err,
			Blocked:  errors.IsCode(res.Err, errors.ErrBlocked),
		})
	}
	fmt.Print(ui.RenderSummary(lines))

	if len(results) < len(job.Actions) {
		skipped := len(job.Actions) - len(results)
		fmt.Printf("%d remaining %s skipped after failure\n",
			skipped, util.Pluralize(skipped, "action", "actions"))
	}

	if failed {
		return errors.NewExitError(1)
	}
	return nil
}

func loadBatchFile(path string) (*runner.BatchJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Cannot read batch file %s", path),
			"Check the path and permissions")
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Batch file %s is not valid YAML", path),
			"See 'opsrun batch --help' for the expected format")
	}
	if len(file.Actions) == 0 {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Batch file %s has no actions", path),
			"Add at least one entry under 'actions:'")
	}

	job := &runner.BatchJob{StopOnFailure: file.StopOnFailure}
	for i, action := range file.Actions {
		if action.Target == "" || action.Command == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Action %d in %s is missing a target or command", i+1, path),
				"Every action needs both 'target:' and 'command:'")
		}

		var timeout time.Duration
		if action.Timeout != "" {
			timeout, err = time.ParseDuration(action.Timeout)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					fmt.Sprintf("Action %d in %s has an invalid timeout '%s'", i+1, path, action.Timeout),
					"Use a duration like 30s, 5m, or 1h")
			}
		}

		job.Actions = append(job.Actions, runner.ActionRequest{
			Target:       action.Target,
			Command:      action.Command,
			Reason:       action.Reason,
			RiskOverride: action.Risk,
			Timeout:      timeout,
		})
	}
	return job, nil
}
