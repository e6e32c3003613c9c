package reporting

import (
	"encoding/json"
	"fmt"
	"io"

	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
)

// JSONReporter writes the complete RunResult as indented JSON once the run
// finishes.
type JSONReporter struct {
	out io.Writer
}

// NewJSONReporter creates a reporter for machine consumption.
func NewJSONReporter(out io.Writer) *JSONReporter {
	return &JSONReporter{out: out}
}

func (r *JSONReporter) ReportStart(runner.RunInfo)                 {}
func (r *JSONReporter) ReportEntryStart(matrix.Entry)              {}
func (r *JSONReporter) ReportStep(matrix.Entry, runner.StepResult) {}
func (r *JSONReporter) ReportEntryResult(runner.EntryResult)       {}

func (r *JSONReporter) ReportSummary(result runner.RunResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(r.out, `{"error": "failed to marshal results: %v"}`+"\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}
