package cmd

import (
	"context"
	"fmt"
	"time"

	"matrixctl/internal/backend"
	"matrixctl/internal/config"
	"matrixctl/internal/history"
	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
	"matrixctl/pkg/logging"
)

const historySaveTimeout = 5 * time.Second

// session bundles what every command that executes the matrix needs.
type session struct {
	settings *config.Settings
	def      *matrix.Definition
	backend  backend.Backend
	base     runner.Config
	history  *history.Store
	flush    func()
}

// sessionOptions are per-command switches layered over the settings.
type sessionOptions struct {
	// history=false skips the history store regardless of settings.
	history bool
	// workingTree includes uncommitted changes of a local source.
	workingTree bool
}

// newSession loads the workflow, builds the backend and opens history.
func newSession(ctx context.Context, settings *config.Settings, opts sessionOptions) (*session, error) {
	def, err := loadDefinition(settings)
	if err != nil {
		return nil, err
	}

	recOpts, err := recipeOptions(settings)
	if err != nil {
		return nil, err
	}

	b, err := newBackend(settings, opts.workingTree)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", settings.Backend, err)
	}

	base := runner.ConfigFromDefinition(def)
	if settings.Runner.MaxParallel > 0 {
		base.MaxParallel = settings.Runner.MaxParallel
	}
	base.EntryTimeout = settings.Runner.EntryTimeout
	base.Recipe = recOpts

	s := &session{
		settings: settings,
		def:      def,
		backend:  b,
		base:     base,
	}

	if opts.history {
		store, err := openHistory(settings)
		if err != nil {
			// History is best effort; the run itself does not depend on it.
			logging.Warn(subsystem, "Run history disabled: %v", err)
		}
		s.history = store
	}

	s.flush = setupTelemetry(ctx, settings)

	logging.Debug(subsystem, "Loaded workflow %q: %d entries, backend %s", def.Name, len(def.Entries), b.Name())
	return s, nil
}

// newRunner creates a runner reporting to reporter.
func (s *session) newRunner(reporter runner.Reporter) *runner.Runner {
	return runner.New(s.backend, reporter)
}

// record stores a finished run in the history database, if enabled.
func (s *session) record(result *runner.RunResult) {
	if s.history == nil || result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	if err := s.history.SaveRun(ctx, result); err != nil {
		logging.Warn(subsystem, "Failed to save run %s to history: %v", result.ID, err)
		return
	}
	logging.Debug(subsystem, "Saved run %s to %s", result.ID, s.history.Path())
}

func (s *session) close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			logging.Warn(subsystem, "Failed to close run history: %v", err)
		}
	}
	if s.flush != nil {
		s.flush()
	}
}

// resultError turns a non-passing aggregate into the command's error so
// the process exits non-zero.
func resultError(result *runner.RunResult) error {
	switch result.Aggregate {
	case runner.StatusPassed:
		return nil
	case runner.StatusFailed:
		return fmt.Errorf("matrix failed: %d of %d entries failed", result.Failed, result.Total)
	default:
		return fmt.Errorf("matrix cancelled: %d of %d entries did not finish", result.Cancelled, result.Total)
	}
}
