package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"matrixctl/internal/matrix"
	"matrixctl/internal/reporting"
	"matrixctl/internal/runner"
	"matrixctl/internal/tui"
	"matrixctl/pkg/logging"
)

var (
	runSelector     selectorFlags
	runWorkflow     string
	runEvent        string
	runBackend      string
	runSource       string
	runParallel     int
	runFailFast     bool
	runTimeout      time.Duration
	runEntryTimeout time.Duration
	runVerbose      bool
	runDebug        bool
	runQuiet        bool
	runJSON         bool
	runTUI          bool
	runReportDir    string
	runCopySummary  bool
	runNoHistory    bool
	runWorkingTree  bool
)

// runBindings maps setting keys to the run flags overriding them.
var runBindings = map[string]string{
	"workflow":             "workflow",
	"source":               "source",
	"backend":              "backend",
	"runner.max_parallel":  "parallel",
	"runner.entry_timeout": "entry-timeout",
	"report.dir":           "report",
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the test matrix",
	Long: `Runs every selected matrix entry through the fixed recipe:

  1. checkout       clone the source into a clean workspace
  2. setup-python   select the entry's interpreter
  3. install-tool   python -m pip install --upgrade pip tox
  4. run-tool       python -m tox -e <profile>

Entries run in parallel (bounded by --parallel or the workflow's
max-parallel) and never share state. Fail-fast is off unless the workflow
or --fail-fast enables it. The command exits non-zero when any entry fails.

Backends:
  local        run steps as host processes; entries for another OS fail
  kubernetes   one pod per Linux entry, using python:<version>-slim images

Example usage:
  matrixctl run                              # Run the built-in 14-entry matrix
  matrixctl run --os linux --profile 'py310*' # Linux entries for Python 3.10
  matrixctl run --name PyPy --verbose        # One entry with step output
  matrixctl run -f .github/workflows/tests.yaml --event pull_request
  matrixctl run --backend kubernetes --source https://github.com/org/project.git
  matrixctl run --tui                        # Live view
  matrixctl run --json > result.json         # Machine-readable result`,
	Args: cobra.NoArgs,
	RunE: runMatrix,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Workflow and selection
	runCmd.Flags().StringVarP(&runWorkflow, "workflow", "f", "", "Workflow file to read the matrix from (default: built-in matrix)")
	runCmd.Flags().StringVar(&runEvent, "event", string(matrix.EventPush), "Trigger event the run simulates (push, pull_request)")
	addSelectorFlags(runCmd, &runSelector)

	// Execution control
	runCmd.Flags().StringVar(&runBackend, "backend", "", "Execution backend: local or kubernetes (default from config)")
	runCmd.Flags().StringVar(&runSource, "source", "", "Repository each entry checks out (default: current directory)")
	runCmd.Flags().BoolVar(&runWorkingTree, "working-tree", false, "Include uncommitted changes of a local source in the checkout")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "Maximum entries running at once (default: workflow max-parallel, 0 = all)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Cancel in-flight entries after the first failure")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run timeout (0 = none)")
	runCmd.Flags().DurationVar(&runEntryTimeout, "entry-timeout", 0, "Fail an entry that runs longer than this (0 = none)")

	// Output and reporting
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Show entry starts and every step")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging and full output of failed steps")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Only print failures and the final summary line")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full result as JSON")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live terminal view while the matrix runs")
	runCmd.Flags().StringVar(&runReportDir, "report", "", "Directory to save a detailed JSON report in")
	runCmd.Flags().BoolVar(&runCopySummary, "copy-summary", false, "Copy the summary table to the clipboard")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Do not record this run in the history database")

	_ = runCmd.RegisterFlagCompletionFunc("backend", completeBackendFlag)
	_ = runCmd.RegisterFlagCompletionFunc("event", completeEventFlag)

	runCmd.MarkFlagsMutuallyExclusive("verbose", "quiet", "json", "tui")
}

func runMatrix(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle interrupts gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logging.Info(subsystem, "Received interrupt signal, cancelling in-flight entries...")
			cancel()
		case <-ctx.Done():
		}
	}()

	settings, err := loadSettings(cmd, runBindings)
	if err != nil {
		return err
	}

	var logs <-chan logging.LogEntry
	if runTUI {
		logs = logging.InitForTUI(resolveLevel(settings, runDebug))
		defer logging.CloseTUIChannel()
	} else {
		initCLILogging(settings, runDebug, cmd.ErrOrStderr())
	}

	sess, err := newSession(ctx, settings, sessionOptions{history: !runNoHistory, workingTree: runWorkingTree})
	if err != nil {
		return err
	}
	defer sess.close()

	cfg := sess.base
	cfg.Event = matrix.Event(runEvent)
	if cmd.Flags().Changed("fail-fast") {
		cfg.FailFast = runFailFast
	}

	if runTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, runTimeout)
		defer timeoutCancel()
	}

	out := cmd.OutOrStdout()
	sel := runSelector.selector()

	var result *runner.RunResult
	if runTUI {
		result, err = runWithTUI(ctx, sess, sel, cfg, logs)
		logging.CloseTUIChannel()
		if err == nil {
			fmt.Fprint(out, reporting.Summary(*result))
		}
	} else {
		reporter, savesReport := selectReporter(out, settings.Report.Dir)
		result, err = sess.newRunner(reporter).RunDefinition(ctx, sess.def, sel, cfg)
		if err == nil && !savesReport {
			saveReport(settings.Report.Dir, result)
		}
	}
	if err != nil {
		return err
	}

	if runTUI {
		saveReport(settings.Report.Dir, result)
	}
	sess.record(result)

	if runCopySummary {
		if err := reporting.CopySummary(*result); err != nil {
			logging.Warn(subsystem, "%v", err)
		} else {
			logging.Info(subsystem, "Summary copied to clipboard")
		}
	}

	return resultError(result)
}

// selectReporter picks the output format. It reports whether the reporter
// saves the JSON report itself.
func selectReporter(out io.Writer, reportDir string) (runner.Reporter, bool) {
	switch {
	case runJSON:
		return reporting.NewJSONReporter(out), false
	case runQuiet:
		return reporting.NewQuietReporter(out), false
	default:
		return reporting.NewConsoleReporter(out, runVerbose, runDebug, reportDir), true
	}
}

// runWithTUI validates the selection up front so errors print before the
// live view takes over the terminal.
func runWithTUI(ctx context.Context, sess *session, sel matrix.Selector, cfg runner.Config, logs <-chan logging.LogEntry) (*runner.RunResult, error) {
	if cfg.Event != "" && !sess.def.Triggered(cfg.Event) {
		return nil, fmt.Errorf("%w: %s does not run on %s", runner.ErrNotTriggered, sess.def.Name, cfg.Event)
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	run := func(ctx context.Context, reporter runner.Reporter) (*runner.RunResult, error) {
		return sess.newRunner(reporter).RunDefinition(ctx, sess.def, sel, cfg)
	}
	return tui.Run(ctx, sess.def.Select(sel), run, tui.Options{Logs: logs, Debug: runDebug})
}

func saveReport(dir string, result *runner.RunResult) {
	if dir == "" {
		return
	}
	path, err := reporting.SaveReport(dir, *result)
	if err != nil {
		logging.Warn(subsystem, "Failed to save detailed report: %v", err)
		return
	}
	logging.Info(subsystem, "Detailed report saved to %s", path)
}
