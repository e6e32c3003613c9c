// Package runner executes matrix entries in parallel through a backend and
// aggregates their results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"matrixctl/internal/backend"
	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
	"matrixctl/pkg/logging"
)

const (
	subsystem  = "runner"
	tracerName = "matrixctl/runner"
)

var (
	// ErrInvalidConfig is returned for configuration the runner cannot honour.
	ErrInvalidConfig = errors.New("invalid runner configuration")
	// ErrNotTriggered is returned when a workflow does not react to the requested event.
	ErrNotTriggered = errors.New("workflow is not triggered by event")
)

// Config controls a single run.
type Config struct {
	Workflow string
	Event    matrix.Event
	// MaxParallel bounds concurrently running entries; 0 runs all at once.
	MaxParallel int
	// FailFast cancels in-flight siblings after the first failure.
	FailFast bool
	// EntryTimeout fails an entry that runs longer; 0 disables it.
	EntryTimeout time.Duration
	Recipe       recipe.Options
}

// ConfigFromDefinition seeds a Config with the strategy of a workflow.
func ConfigFromDefinition(def *matrix.Definition) Config {
	return Config{
		Workflow:    def.Name,
		MaxParallel: def.MaxParallel,
		FailFast:    def.FailFast,
	}
}

// Runner executes entries through a backend.
type Runner struct {
	backend  backend.Backend
	reporter Reporter
	tracer   trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithTracerProvider sets the provider spans are created with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Runner. A nil reporter discards progress events.
func New(b backend.Backend, reporter Reporter, opts ...Option) *Runner {
	if reporter == nil {
		reporter = NopReporter{}
	}
	r := &Runner{
		backend:  b,
		reporter: &lockedReporter{inner: reporter},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunDefinition checks the trigger, selects entries and runs them.
func (r *Runner) RunDefinition(ctx context.Context, def *matrix.Definition, sel matrix.Selector, cfg Config) (*RunResult, error) {
	if cfg.Event != "" && !def.Triggered(cfg.Event) {
		return nil, fmt.Errorf("%w: %s does not run on %s", ErrNotTriggered, def.Name, cfg.Event)
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workflow == "" {
		cfg.Workflow = def.Name
	}
	return r.Run(ctx, def.Select(sel), cfg)
}

// Run executes every entry and returns results in the order given. Entry
// failures are reported in the result; an error is returned only for
// invalid input.
func (r *Runner) Run(ctx context.Context, entries []matrix.Entry, cfg Config) (*RunResult, error) {
	if r.backend == nil {
		return nil, fmt.Errorf("%w: no backend", ErrInvalidConfig)
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("%w: max parallel must not be negative, got %d", ErrInvalidConfig, cfg.MaxParallel)
	}
	if cfg.EntryTimeout < 0 {
		return nil, fmt.Errorf("%w: entry timeout must not be negative, got %s", ErrInvalidConfig, cfg.EntryTimeout)
	}
	if err := checkUnique(entries); err != nil {
		return nil, err
	}

	info := RunInfo{
		ID:          uuid.NewString(),
		Workflow:    cfg.Workflow,
		Event:       cfg.Event,
		Backend:     r.backend.Name(),
		Total:       len(entries),
		MaxParallel: cfg.MaxParallel,
		FailFast:    cfg.FailFast,
		StartTime:   time.Now(),
	}

	ctx, span := r.tracer.Start(ctx, "matrix.run", trace.WithAttributes(
		attribute.String("matrix.run.id", info.ID),
		attribute.String("matrix.workflow", info.Workflow),
		attribute.String("matrix.event", string(info.Event)),
		attribute.String("matrix.backend", info.Backend),
		attribute.Int("matrix.entries", info.Total),
		attribute.Bool("matrix.fail_fast", info.FailFast),
	))
	defer span.End()

	logging.Info(subsystem, "Starting run %s: %d entries on %s (max parallel %d, fail-fast %t)",
		info.ID, info.Total, info.Backend, cfg.MaxParallel, cfg.FailFast)
	r.reporter.ReportStart(info)

	results := make([]EntryResult, len(entries))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	if cfg.MaxParallel > 0 {
		g.SetLimit(cfg.MaxParallel)
	}
	for i, entry := range entries {
		g.Go(func() error {
			var res EntryResult
			if err := runCtx.Err(); err != nil {
				res = notStarted(entry, err)
			} else {
				res = r.runEntry(runCtx, entry, cfg)
			}
			results[i] = res
			r.reporter.ReportEntryResult(res)

			if cfg.FailFast && res.Status == StatusFailed {
				logging.Info(subsystem, "Fail-fast: %s failed, cancelling remaining entries", entry.DisplayName())
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &RunResult{
		ID:        info.ID,
		Workflow:  info.Workflow,
		Event:     info.Event,
		Backend:   info.Backend,
		StartTime: info.StartTime,
		EndTime:   time.Now(),
		Total:     len(results),
		Entries:   results,
	}
	result.Duration = result.EndTime.Sub(result.StartTime)
	for _, res := range results {
		switch res.Status {
		case StatusPassed:
			result.Passed++
		case StatusFailed:
			result.Failed++
		case StatusCancelled:
			result.Cancelled++
		}
	}
	result.Aggregate = Aggregate(results)

	span.SetAttributes(
		attribute.String("matrix.aggregate", string(result.Aggregate)),
		attribute.Int("matrix.passed", result.Passed),
		attribute.Int("matrix.failed", result.Failed),
		attribute.Int("matrix.cancelled", result.Cancelled),
	)
	if result.Aggregate != StatusPassed {
		span.SetStatus(codes.Error, fmt.Sprintf("run %s", result.Aggregate))
	}

	logging.Info(subsystem, "Run %s %s: %d passed, %d failed, %d cancelled in %s",
		result.ID, result.Aggregate, result.Passed, result.Failed, result.Cancelled, result.Duration.Round(time.Millisecond))
	r.reporter.ReportSummary(*result)

	return result, nil
}

func (r *Runner) runEntry(ctx context.Context, entry matrix.Entry, cfg Config) EntryResult {
	res := EntryResult{Entry: entry, StartTime: time.Now()}

	ctx, span := r.tracer.Start(ctx, "matrix.entry", trace.WithAttributes(entryAttributes(entry)...))
	defer span.End()

	entryCtx := ctx
	if cfg.EntryTimeout > 0 {
		var cancel context.CancelFunc
		entryCtx, cancel = context.WithTimeout(ctx, cfg.EntryTimeout)
		defer cancel()
	}

	r.reporter.ReportEntryStart(entry)
	logging.Debug(subsystem, "Entry %s started", entry.DisplayName())

	steps := recipe.Build(entry, cfg.Recipe)
	var last *backend.StepOutcome

	execErr := r.backend.Execute(entryCtx, entry, steps, func(o backend.StepOutcome) {
		step := toStepResult(o)
		res.Steps = append(res.Steps, step)
		r.recordStepSpan(ctx, o)
		r.reporter.ReportStep(entry, step)
		last = &o
	})

	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	completed := execErr == nil && len(res.Steps) == len(steps) && (last == nil || last.Succeeded())

	switch {
	case completed:
		res.Status = StatusPassed
	case last != nil && !last.Succeeded() && last.Err == nil:
		// The tool exited on its own; its exit code stands even if the
		// run was cancelled meanwhile.
		res.Status = StatusFailed
		res.FailedStep = last.Step.Name
		res.Phase = last.Step.Phase
		res.ExitCode = last.ExitCode
	case ctx.Err() != nil:
		res.Status = StatusCancelled
		res.ExitCode = -1
		res.Error = ctx.Err().Error()
	case entryCtx.Err() != nil:
		res.Status = StatusFailed
		res.ExitCode = -1
		res.Error = fmt.Sprintf("timed out after %s", cfg.EntryTimeout)
		if last != nil {
			res.FailedStep = last.Step.Name
			res.Phase = last.Step.Phase
		}
	case execErr != nil:
		res.Status = StatusFailed
		res.Phase = recipe.PhaseProvisioning
		res.ExitCode = -1
		res.Error = execErr.Error()
	case last != nil && !last.Succeeded():
		res.Status = StatusFailed
		res.FailedStep = last.Step.Name
		res.Phase = last.Step.Phase
		res.ExitCode = last.ExitCode
		if last.Err != nil {
			res.Error = last.Err.Error()
		}
	default:
		res.Status = StatusFailed
		res.ExitCode = -1
		res.Error = fmt.Sprintf("backend %s reported %d of %d steps", r.backend.Name(), len(res.Steps), len(steps))
	}

	span.SetAttributes(
		attribute.String("matrix.entry.status", string(res.Status)),
		attribute.Int("matrix.entry.exit_code", res.ExitCode),
	)
	if res.Status != StatusPassed {
		span.SetStatus(codes.Error, entryError(res))
	}

	if res.Status == StatusFailed {
		logging.Warn(subsystem, "Entry %s failed: %s", entry.DisplayName(), entryError(res))
	} else {
		logging.Debug(subsystem, "Entry %s %s in %s", entry.DisplayName(), res.Status, res.Duration.Round(time.Millisecond))
	}
	return res
}

// recordStepSpan emits a span covering the step's wall clock time.
func (r *Runner) recordStepSpan(ctx context.Context, o backend.StepOutcome) {
	_, span := r.tracer.Start(ctx, "matrix.step."+o.Step.Name,
		trace.WithTimestamp(o.StartTime),
		trace.WithAttributes(
			attribute.String("matrix.step.name", o.Step.Name),
			attribute.String("matrix.step.phase", string(o.Step.Phase)),
			attribute.Int("matrix.step.exit_code", o.ExitCode),
		))
	if !o.Succeeded() {
		if o.Err != nil {
			span.RecordError(o.Err)
		}
		span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", o.ExitCode))
	}
	span.End(trace.WithTimestamp(o.EndTime))
}

func notStarted(entry matrix.Entry, cause error) EntryResult {
	now := time.Now()
	return EntryResult{
		Entry:     entry,
		Status:    StatusCancelled,
		StartTime: now,
		EndTime:   now,
		ExitCode:  -1,
		Error:     "not started: " + cause.Error(),
	}
}

func toStepResult(o backend.StepOutcome) StepResult {
	s := StepResult{
		Name:      o.Step.Name,
		Phase:     o.Step.Phase,
		Command:   o.Step.Argv,
		ExitCode:  o.ExitCode,
		Output:    o.Output,
		StartTime: o.StartTime,
		EndTime:   o.EndTime,
		Duration:  o.Duration(),
	}
	if o.Err != nil {
		s.Error = o.Err.Error()
	}
	return s
}

func entryAttributes(e matrix.Entry) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("matrix.entry.name", e.DisplayName()),
		attribute.String("matrix.entry.os", string(e.OS)),
		attribute.String("matrix.entry.runs_on", e.RunsOn),
		attribute.String("matrix.entry.python", e.Python),
		attribute.String("matrix.entry.profile", e.Profile),
	}
}

func entryError(res EntryResult) string {
	switch {
	case res.Error != "" && res.FailedStep != "":
		return fmt.Sprintf("%s: %s", res.FailedStep, res.Error)
	case res.Error != "":
		return res.Error
	case res.FailedStep != "":
		return fmt.Sprintf("%s exited with code %d", res.FailedStep, res.ExitCode)
	default:
		return string(res.Status)
	}
}

func checkUnique(entries []matrix.Entry) error {
	seen := make(map[matrix.Key]string, len(entries))
	for _, e := range entries {
		if prev, ok := seen[e.Key()]; ok {
			return fmt.Errorf("%w: %q and %q share %s", matrix.ErrDuplicateEntry, prev, e.DisplayName(), e.Key())
		}
		seen[e.Key()] = e.DisplayName()
	}
	return nil
}
