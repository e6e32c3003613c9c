package reporting

import (
	"fmt"
	"io"
	"strings"

	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
)

const failedOutputLines = 20

// ConsoleReporter prints run progress for a terminal. Compact mode prints
// one line per finished entry; verbose mode adds entry starts and steps;
// debug mode prints the full output of failed steps instead of a tail.
type ConsoleReporter struct {
	out        io.Writer
	verbose    bool
	debug      bool
	reportDir  string
	finished   int
	total      int
	savedPath  string
	saveFailed error
}

// NewConsoleReporter creates a console reporter writing to out. When
// reportDir is set the final result is also saved there as JSON.
func NewConsoleReporter(out io.Writer, verbose, debug bool, reportDir string) *ConsoleReporter {
	return &ConsoleReporter{out: out, verbose: verbose, debug: debug, reportDir: reportDir}
}

// ReportStart implements runner.Reporter.
func (r *ConsoleReporter) ReportStart(info runner.RunInfo) {
	r.total = info.Total
	r.finished = 0

	name := info.Workflow
	if name == "" {
		name = "matrix"
	}
	fmt.Fprintf(r.out, "🧪 Running %s: %d entries on %s\n", name, info.Total, info.Backend)

	if r.verbose {
		fmt.Fprintf(r.out, "⚙️  Configuration:\n")
		fmt.Fprintf(r.out, "   • Run ID: %s\n", info.ID)
		if info.Event != "" {
			fmt.Fprintf(r.out, "   • Event: %s\n", info.Event)
		}
		fmt.Fprintf(r.out, "   • Max parallel: %s\n", parallelism(info.MaxParallel))
		fmt.Fprintf(r.out, "   • Fail fast: %t\n", info.FailFast)
		fmt.Fprintln(r.out)
	}
}

// ReportEntryStart implements runner.Reporter.
func (r *ConsoleReporter) ReportEntryStart(entry matrix.Entry) {
	if !r.verbose {
		return
	}
	fmt.Fprintf(r.out, "🎯 Starting %s (%s, %s, %s)\n", entry.DisplayName(), entry.RunsOn, entry.Python, entry.Profile)
}

// ReportStep implements runner.Reporter.
func (r *ConsoleReporter) ReportStep(entry matrix.Entry, step runner.StepResult) {
	status := stepStatus(step)
	if !r.verbose && status == runner.StatusPassed {
		return
	}

	if r.verbose {
		fmt.Fprintf(r.out, "   %s %s › %s (%s)\n", statusSymbol(status), entry.DisplayName(), step.Name, formatDuration(step.Duration))
		if r.debug {
			fmt.Fprintf(r.out, "     %s\n", dimColor.Sprint("$ "+strings.Join(step.Command, " ")))
		}
	}
	if status == runner.StatusPassed {
		return
	}

	if step.Error != "" {
		fmt.Fprintf(r.out, "     ❌ %s › %s: %s\n", entry.DisplayName(), step.Name, step.Error)
	} else {
		fmt.Fprintf(r.out, "     ❌ %s › %s exited with code %d\n", entry.DisplayName(), step.Name, step.ExitCode)
	}

	output := step.Output
	if !r.debug {
		output = tail(output, failedOutputLines)
	}
	if strings.TrimSpace(output) != "" {
		for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
			fmt.Fprintf(r.out, "     │ %s\n", line)
		}
	}
}

// ReportEntryResult implements runner.Reporter.
func (r *ConsoleReporter) ReportEntryResult(result runner.EntryResult) {
	r.finished++
	label := statusColor(result.Status).Sprint(result.Status)
	progress := dimColor.Sprintf("[%d/%d]", r.finished, r.total)

	fmt.Fprintf(r.out, "%s %s %s %s (%s)", progress, statusSymbol(result.Status), result.Entry.DisplayName(), label, formatDuration(result.Duration))
	if detail := entryDetail(result); detail != "" && result.Status != runner.StatusCancelled {
		fmt.Fprintf(r.out, " - %s", detail)
	}
	fmt.Fprintln(r.out)
}

// ReportSummary implements runner.Reporter.
func (r *ConsoleReporter) ReportSummary(result runner.RunResult) {
	fmt.Fprintf(r.out, "\n🏁 Matrix run complete\n")
	fmt.Fprintf(r.out, "⏱️  Duration: %s\n\n", formatDuration(result.Duration))
	fmt.Fprint(r.out, Summary(result))

	switch result.Aggregate {
	case runner.StatusPassed:
		fmt.Fprintf(r.out, "\n🎉 %s\n", passedColor.Sprint("All entries passed!"))
	case runner.StatusFailed:
		fmt.Fprintf(r.out, "\n💔 %s\n", failedColor.Sprintf("%d of %d entries failed", result.Failed, result.Total))
	default:
		fmt.Fprintf(r.out, "\n🛑 %s\n", cancelledColor.Sprint("Matrix run cancelled"))
	}

	if r.reportDir == "" {
		return
	}
	path, err := SaveReport(r.reportDir, result)
	if err != nil {
		r.saveFailed = err
		fmt.Fprintf(r.out, "⚠️  Failed to save detailed report: %v\n", err)
		return
	}
	r.savedPath = path
	fmt.Fprintf(r.out, "📄 Detailed report saved to: %s\n", path)
}

// ReportPath returns where the last report was saved, if anywhere.
func (r *ConsoleReporter) ReportPath() (string, error) {
	return r.savedPath, r.saveFailed
}

func parallelism(n int) string {
	if n <= 0 {
		return "unbounded"
	}
	return fmt.Sprint(n)
}
