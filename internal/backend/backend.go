// Package backend provides execution contexts for matrix entries.
//
// A Backend acquires a clean context for one entry (a temporary directory on
// the host, or a Pod on a Kubernetes cluster), runs the recipe steps in order
// stopping at the first failing step, reports every executed step through
// the observe callback and releases the context before returning.
//
// Execute returns an error only when the context could not be provisioned at
// all; step failures are reported as StepOutcome values.
package backend

import (
	"context"
	"errors"
	"time"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
)

// ErrUnsupportedOS is returned when a backend cannot provide a context for an entry's OS.
var ErrUnsupportedOS = errors.New("no execution context available for os")

// ErrProvisioning is returned when an execution context was requested but
// could not be brought up, for example because an interpreter image is missing.
var ErrProvisioning = errors.New("execution context could not be provisioned")

// Backend runs a recipe for one entry inside a fresh execution context.
type Backend interface {
	// Name identifies the backend in reports.
	Name() string
	// Execute runs steps for entry, calling observe after each executed step.
	Execute(ctx context.Context, entry matrix.Entry, steps []recipe.Step, observe func(StepOutcome)) error
}

// StepOutcome is the result of running one recipe step.
type StepOutcome struct {
	Step      recipe.Step
	ExitCode  int
	Output    string
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// Succeeded reports whether the step ran and exited zero.
func (o StepOutcome) Succeeded() bool {
	return o.Err == nil && o.ExitCode == 0
}

// Duration of the step.
func (o StepOutcome) Duration() time.Duration {
	return o.EndTime.Sub(o.StartTime)
}
