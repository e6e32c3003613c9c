package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
	"matrixctl/pkg/logging"
)

const subsystem = "TUI"

// RunFunc executes a matrix run, reporting through reporter.
type RunFunc func(ctx context.Context, reporter runner.Reporter) (*runner.RunResult, error)

// Options configure the live view.
type Options struct {
	// Logs is the channel returned by logging.InitForTUI; nil hides the pane.
	Logs <-chan logging.LogEntry
	// Debug shows debug log records in the pane.
	Debug bool
	// ProgramOptions are passed to tea.NewProgram.
	ProgramOptions []tea.ProgramOption
}

// Run shows entries in a live view while run executes. The view closes
// once the summary arrives; interrupting it cancels the run's context and
// waits for the cancelled summary.
func Run(ctx context.Context, entries []matrix.Entry, run RunFunc, opts Options) (*runner.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := newEventQueue(defaultQueueSize)
	m := newModel(entries, q, opts.Logs, cancel, opts.Debug)
	p := tea.NewProgram(m, opts.ProgramOptions...)

	var (
		result *runner.RunResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer q.close()
		result, runErr = run(ctx, newReporter(q))
	}()

	_, err := p.Run()
	if err != nil {
		cancel()
	}
	go q.drain()
	<-done

	if stats := q.stats(); stats.Dropped > 0 {
		logging.Debug(subsystem, "Skipped %d of %d progress updates", stats.Dropped, stats.Sent+stats.Dropped)
	}
	if err != nil {
		return result, fmt.Errorf("failed to run TUI: %w", err)
	}
	return result, runErr
}
