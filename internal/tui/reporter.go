package tui

import (
	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
)

// Reporter forwards runner events into the TUI.
type Reporter struct {
	queue *eventQueue
}

func newReporter(q *eventQueue) *Reporter {
	return &Reporter{queue: q}
}

func (r *Reporter) ReportStart(info runner.RunInfo) {
	r.queue.push(runStartedMsg{info: info})
}

func (r *Reporter) ReportEntryStart(entry matrix.Entry) {
	r.queue.push(entryStartedMsg{entry: entry})
}

func (r *Reporter) ReportStep(entry matrix.Entry, step runner.StepResult) {
	r.queue.push(stepFinishedMsg{entry: entry, step: step})
}

func (r *Reporter) ReportEntryResult(result runner.EntryResult) {
	r.queue.push(entryFinishedMsg{result: result})
}

func (r *Reporter) ReportSummary(result runner.RunResult) {
	r.queue.push(runFinishedMsg{result: result})
}
