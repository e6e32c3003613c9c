package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"matrixctl/internal/history"
	"matrixctl/internal/reporting"
	"matrixctl/internal/runner"
)

var (
	historyLimit int
	historyJSON  bool
)

// historyCmd represents the history command group
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect earlier matrix runs",
	Long: `Every 'matrixctl run' is recorded in a local SQLite database
(~/.local/share/matrixctl/history.db unless history.path is set).
Use the subcommands to list recorded runs or show one in detail.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent matrix runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id | report.json>",
	Short: "Show the per-entry results of one run",
	Long: `Shows the summary table of a recorded run. The argument is a run id, a
unique prefix of one, or the path of a JSON report saved with --report.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list")
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "Print runs as JSON")
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the run as JSON")
}

func openHistoryForCmd(cmd *cobra.Command) (*history.Store, error) {
	settings, err := loadSettings(cmd, nil)
	if err != nil {
		return nil, err
	}
	initCLILogging(settings, false, cmd.ErrOrStderr())

	if !settings.History.Enabled {
		return nil, fmt.Errorf("run history is disabled (history.enabled is false)")
	}
	return openHistory(settings)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}

	store, err := openHistoryForCmd(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		return writeJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet. Start one with 'matrixctl run'.")
		return nil
	}
	printRuns(out, runs)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	result, err := loadRun(cmd, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "Run %s started %s\n\n", result.ID, result.StartTime.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprint(out, reporting.Summary(*result))
	return nil
}

// loadRun resolves arg as a saved report file first, then as a run id.
func loadRun(cmd *cobra.Command, arg string) (*runner.RunResult, error) {
	if strings.HasSuffix(arg, ".json") {
		if _, err := os.Stat(arg); err == nil {
			return reporting.LoadReport(arg)
		}
	}

	store, err := openHistoryForCmd(cmd)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.GetRun(cmd.Context(), arg)
}

func printRuns(out io.Writer, runs []history.RunSummary) {
	headers := []string{"ID", "STARTED", "WORKFLOW", "EVENT", "BACKEND", "RESULT", "PASSED", "FAILED", "CANCELLED", "DURATION"}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows[i] = []string{
			id,
			r.StartTime.Local().Format("2006-01-02 15:04"),
			r.Workflow,
			string(r.Event),
			r.Backend,
			string(r.Aggregate),
			fmt.Sprint(r.Passed),
			fmt.Sprint(r.Failed),
			fmt.Sprint(r.Cancelled),
			r.Duration.Round(100 * time.Millisecond).String(),
		}
	}

	writeTable(out, "", headers, rows)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
