package trigger

import (
	"context"
	"sync"

	"matrixctl/pkg/logging"
)

// RunFunc executes one triggered run. It must return promptly once ctx is
// cancelled.
type RunFunc func(ctx context.Context, change Change)

// Dispatcher runs one matrix per change. A new change cancels the run in
// flight and waits for it to wind down before starting, so at most one run
// is active.
type Dispatcher struct {
	run RunFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runs   int
}

// NewDispatcher creates a dispatcher around run.
func NewDispatcher(run RunFunc) *Dispatcher {
	return &Dispatcher{run: run}
}

// Trigger supersedes the active run, if any, and starts a new one.
func (d *Dispatcher) Trigger(ctx context.Context, change Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		select {
		case <-d.done:
		default:
			logging.Info(subsystem, "Superseding run #%d", d.runs)
		}
		d.cancel()
		<-d.done
	}

	if ctx.Err() != nil {
		d.cancel, d.done = nil, nil
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done
	d.runs++

	go func() {
		defer close(done)
		defer cancel()
		d.run(runCtx, change)
	}()
}

// Runs returns how many runs have been started.
func (d *Dispatcher) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// Wait blocks until the active run finishes.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the active run and waits for it.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
