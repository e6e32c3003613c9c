package runner

import (
	"sync"

	"matrixctl/internal/matrix"
)

// lockedReporter serialises reporter calls coming from entry goroutines.
type lockedReporter struct {
	mu    sync.Mutex
	inner Reporter
}

func (l *lockedReporter) ReportStart(info RunInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.ReportStart(info)
}

func (l *lockedReporter) ReportEntryStart(entry matrix.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.ReportEntryStart(entry)
}

func (l *lockedReporter) ReportStep(entry matrix.Entry, step StepResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.ReportStep(entry, step)
}

func (l *lockedReporter) ReportEntryResult(result EntryResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.ReportEntryResult(result)
}

func (l *lockedReporter) ReportSummary(result RunResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.ReportSummary(result)
}

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) ReportStart(RunInfo)                 {}
func (NopReporter) ReportEntryStart(matrix.Entry)       {}
func (NopReporter) ReportStep(matrix.Entry, StepResult) {}
func (NopReporter) ReportEntryResult(EntryResult)       {}
func (NopReporter) ReportSummary(RunResult)             {}
