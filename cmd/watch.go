package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"matrixctl/internal/matrix"
	"matrixctl/internal/reporting"
	"matrixctl/internal/runner"
	"matrixctl/internal/trigger"
	"matrixctl/pkg/logging"
)

var (
	watchSelector     selectorFlags
	watchWorkflow     string
	watchBackend      string
	watchSource       string
	watchDir          string
	watchParallel     int
	watchDebounce     time.Duration
	watchRunNow       bool
	watchVerbose      bool
	watchQuiet        bool
	watchDebug        bool
	watchNoHistory    bool
	watchReportDir    string
	watchEntryTimeout time.Duration
	watchWorkingTree  bool
)

var watchBindings = map[string]string{
	"workflow":             "workflow",
	"source":               "source",
	"backend":              "backend",
	"runner.max_parallel":  "parallel",
	"runner.entry_timeout": "entry-timeout",
	"report.dir":           "report",
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the matrix whenever the source tree changes",
	Long: `Watches a directory tree and treats every debounced batch of changes as
a push event. Each push starts a new matrix run; a run still in flight is
cancelled first, so its unfinished entries report as cancelled.

Hidden directories (.git, .tox, ...) and build output are not watched.
With a local source each run checks out the working tree as it is on disk,
uncommitted edits included; pass --working-tree=false to test HEAD only.

Example usage:
  matrixctl watch --os linux --profile 'py310*'
  matrixctl watch --run-now --quiet
  matrixctl watch --dir src --debounce 2s`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchWorkflow, "workflow", "f", "", "Workflow file to read the matrix from (default: built-in matrix)")
	addSelectorFlags(watchCmd, &watchSelector)

	watchCmd.Flags().StringVar(&watchDir, "dir", ".", "Directory tree to watch")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", trigger.DefaultDebounce, "Quiet period before a batch of changes triggers a run")
	watchCmd.Flags().BoolVar(&watchRunNow, "run-now", false, "Run the matrix once at startup")

	watchCmd.Flags().BoolVar(&watchWorkingTree, "working-tree", true, "Test uncommitted changes of a local source, not only HEAD")
	watchCmd.Flags().StringVar(&watchBackend, "backend", "", "Execution backend: local or kubernetes (default from config)")
	watchCmd.Flags().StringVar(&watchSource, "source", "", "Repository each entry checks out (default: current directory)")
	watchCmd.Flags().IntVar(&watchParallel, "parallel", 0, "Maximum entries running at once (0 = all)")
	watchCmd.Flags().DurationVar(&watchEntryTimeout, "entry-timeout", 0, "Fail an entry that runs longer than this (0 = none)")

	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Show entry starts and every step")
	watchCmd.Flags().BoolVar(&watchQuiet, "quiet", false, "Only print failures and the summary line of each run")
	watchCmd.Flags().BoolVar(&watchDebug, "debug", false, "Enable debug logging")
	watchCmd.Flags().StringVar(&watchReportDir, "report", "", "Directory to save a JSON report of each run in")
	watchCmd.Flags().BoolVar(&watchNoHistory, "no-history", false, "Do not record runs in the history database")

	_ = watchCmd.RegisterFlagCompletionFunc("backend", completeBackendFlag)
	watchCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logging.Info(subsystem, "Received interrupt signal, stopping watch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	settings, err := loadSettings(cmd, watchBindings)
	if err != nil {
		return err
	}
	initCLILogging(settings, watchDebug, cmd.ErrOrStderr())

	sess, err := newSession(ctx, settings, sessionOptions{history: !watchNoHistory, workingTree: watchWorkingTree})
	if err != nil {
		return err
	}
	defer sess.close()

	sel := watchSelector.selector()
	if err := sel.Validate(); err != nil {
		return err
	}

	watcher, err := trigger.NewWatcher(watchDir, watchDebounce)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", watchDir, err)
	}

	out := cmd.OutOrStdout()
	dispatcher := trigger.NewDispatcher(func(ctx context.Context, change trigger.Change) {
		cfg := sess.base
		cfg.Event = change.Event

		var reporter runner.Reporter
		if watchQuiet {
			reporter = reporting.NewQuietReporter(out)
		} else {
			reporter = reporting.NewConsoleReporter(out, watchVerbose, watchDebug, settings.Report.Dir)
		}

		result, err := sess.newRunner(reporter).RunDefinition(ctx, sess.def, sel, cfg)
		if err != nil {
			logging.Error(subsystem, err, "Matrix run could not start")
			return
		}
		if watchQuiet {
			saveReport(settings.Report.Dir, result)
		}
		sess.record(result)
	})
	defer dispatcher.Stop()

	fmt.Fprintf(out, "👀 Watching %s for changes (Ctrl+C to stop)\n", watcher.Root())
	if watchRunNow {
		dispatcher.Trigger(ctx, trigger.Change{Event: matrix.EventPush, At: time.Now()})
	}

	return watcher.Run(ctx, func(change trigger.Change) {
		dispatcher.Trigger(ctx, change)
	})
}
