package runner

import (
	"time"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
)

// Status is the outcome of an entry or of a whole run.
type Status string

const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepResult records one executed recipe step.
type StepResult struct {
	Name      string        `json:"name"`
	Phase     recipe.Phase  `json:"phase"`
	Command   []string      `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// EntryResult is the outcome of running the recipe for one matrix entry.
type EntryResult struct {
	Entry     matrix.Entry  `json:"entry"`
	Status    Status        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Steps     []StepResult  `json:"steps,omitempty"`
	// FailedStep names the step that decided a failure, empty when the
	// context could not be provisioned.
	FailedStep string       `json:"failed_step,omitempty"`
	Phase      recipe.Phase `json:"phase,omitempty"`
	ExitCode   int          `json:"exit_code"`
	Error      string       `json:"error,omitempty"`
}

// RunInfo describes a run before any entry starts.
type RunInfo struct {
	ID          string       `json:"id"`
	Workflow    string       `json:"workflow"`
	Event       matrix.Event `json:"event,omitempty"`
	Backend     string       `json:"backend"`
	Total       int          `json:"total"`
	MaxParallel int          `json:"max_parallel"`
	FailFast    bool         `json:"fail_fast"`
	StartTime   time.Time    `json:"start_time"`
}

// RunResult aggregates all entry results of a run. Entries are kept in
// matrix order.
type RunResult struct {
	ID        string        `json:"id"`
	Workflow  string        `json:"workflow"`
	Event     matrix.Event  `json:"event,omitempty"`
	Backend   string        `json:"backend"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Aggregate Status        `json:"aggregate"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Entries   []EntryResult `json:"entries"`
}

// ExitCode is the process exit code for the run: 0 when passed, 1 otherwise.
func (r *RunResult) ExitCode() int {
	if r.Aggregate == StatusPassed {
		return 0
	}
	return 1
}

// Aggregate folds entry statuses: failed wins over cancelled, which wins
// over passed. No entries at all is a pass.
func Aggregate(results []EntryResult) Status {
	status := StatusPassed
	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCancelled:
			status = StatusCancelled
		}
	}
	return status
}

// Reporter receives run progress. The runner serialises calls, so
// implementations need not be safe for concurrent use.
type Reporter interface {
	// ReportStart is called once before any entry starts.
	ReportStart(info RunInfo)
	// ReportEntryStart is called when an entry acquires its context.
	ReportEntryStart(entry matrix.Entry)
	// ReportStep is called after every executed step.
	ReportStep(entry matrix.Entry, step StepResult)
	// ReportEntryResult is called once per entry, including entries that
	// were cancelled before they started.
	ReportEntryResult(result EntryResult)
	// ReportSummary is called once with the final result.
	ReportSummary(result RunResult)
}
