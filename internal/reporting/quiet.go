package reporting

import (
	"fmt"
	"io"

	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
)

// QuietReporter prints only failed entries and a final one-liner.
type QuietReporter struct {
	out io.Writer
}

// NewQuietReporter creates a reporter for CI logs.
func NewQuietReporter(out io.Writer) *QuietReporter {
	return &QuietReporter{out: out}
}

func (r *QuietReporter) ReportStart(runner.RunInfo)                 {}
func (r *QuietReporter) ReportEntryStart(matrix.Entry)              {}
func (r *QuietReporter) ReportStep(matrix.Entry, runner.StepResult) {}

func (r *QuietReporter) ReportEntryResult(result runner.EntryResult) {
	if result.Status != runner.StatusFailed {
		return
	}
	fmt.Fprintf(r.out, "❌ %s: %s\n", result.Entry.DisplayName(), entryDetail(result))
}

func (r *QuietReporter) ReportSummary(result runner.RunResult) {
	switch result.Aggregate {
	case runner.StatusPassed:
		fmt.Fprintf(r.out, "✅ All %d entries passed\n", result.Passed)
	case runner.StatusFailed:
		fmt.Fprintf(r.out, "❌ %d/%d entries failed\n", result.Failed, result.Total)
	default:
		fmt.Fprintf(r.out, "🚫 %d/%d entries cancelled\n", result.Cancelled, result.Total)
	}
}
