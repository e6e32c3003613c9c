package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
	"matrixctl/pkg/logging"
)

const (
	localSubsystem      = "backend/local"
	defaultShutdownWait = 10 * time.Second
)

// Local runs entries as host processes inside a fresh temporary directory.
// Only entries whose OS family matches the host can be provisioned.
type Local struct {
	hostOS        matrix.OS
	baseDir       string
	keepWorkspace bool
	workingTree   bool
	shutdownWait  time.Duration
	env           []string
}

// LocalOption configures a Local backend.
type LocalOption func(*Local)

// WithHostOS overrides the detected host OS family.
func WithHostOS(os matrix.OS) LocalOption {
	return func(l *Local) { l.hostOS = os }
}

// WithBaseDir sets the directory under which workspaces are created.
func WithBaseDir(dir string) LocalOption {
	return func(l *Local) { l.baseDir = dir }
}

// WithKeepWorkspace leaves workspaces on disk after the entry finishes.
func WithKeepWorkspace(keep bool) LocalOption {
	return func(l *Local) { l.keepWorkspace = keep }
}

// WithWorkingTree makes the checkout of a local source include its
// uncommitted changes, not only the committed HEAD.
func WithWorkingTree(enabled bool) LocalOption {
	return func(l *Local) { l.workingTree = enabled }
}

// WithShutdownWait bounds how long a cancelled step may take to exit after
// being interrupted before it is killed.
func WithShutdownWait(d time.Duration) LocalOption {
	return func(l *Local) { l.shutdownWait = d }
}

// WithEnv adds KEY=VALUE pairs to every step's environment.
func WithEnv(env ...string) LocalOption {
	return func(l *Local) { l.env = append(l.env, env...) }
}

// NewLocal creates a host process backend.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		hostOS:       matrix.HostOS(),
		shutdownWait: defaultShutdownWait,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Backend.
func (l *Local) Name() string {
	return "local"
}

// Execute implements Backend.
func (l *Local) Execute(ctx context.Context, entry matrix.Entry, steps []recipe.Step, observe func(StepOutcome)) error {
	if entry.OS != l.hostOS {
		return fmt.Errorf("%w: %s (%s) on a %s host", ErrUnsupportedOS, entry.RunsOn, entry.OS, l.hostOS)
	}

	workdir, err := os.MkdirTemp(l.baseDir, "matrixctl-"+sanitizeName(entry.DisplayName())+"-*")
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	logging.Debug(localSubsystem, "Workspace for %s at %s", entry.DisplayName(), workdir)

	defer func() {
		if l.keepWorkspace {
			logging.Info(localSubsystem, "Keeping workspace %s", workdir)
			return
		}
		if err := os.RemoveAll(workdir); err != nil {
			logging.Warn(localSubsystem, "Failed to remove workspace %s: %v", workdir, err)
		}
	}()

	for _, step := range steps {
		outcome := l.runStep(ctx, workdir, entry, step)
		if l.workingTree && outcome.Succeeded() {
			l.overlay(ctx, workdir, &outcome)
		}
		observe(outcome)
		if !outcome.Succeeded() {
			return nil
		}
	}
	return nil
}

// overlay applies the working tree of a local checkout source to the clone.
func (l *Local) overlay(ctx context.Context, workdir string, outcome *StepOutcome) {
	source, dest, ok := outcome.Step.CheckoutPaths()
	if !ok {
		return
	}
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(workdir, dest)
	}

	n, err := overlayWorkingTree(ctx, source, dest)
	outcome.EndTime = time.Now()
	if err != nil {
		outcome.ExitCode = -1
		outcome.Err = err
		return
	}
	outcome.Output += fmt.Sprintf("applied %d working tree change(s) from %s\n", n, source)
	logging.Debug(localSubsystem, "Applied %d working tree change(s) from %s to %s", n, source, dest)
}

func (l *Local) runStep(ctx context.Context, workdir string, entry matrix.Entry, step recipe.Step) StepOutcome {
	outcome := StepOutcome{Step: step, StartTime: time.Now()}

	if len(step.Argv) == 0 {
		outcome.Err = fmt.Errorf("step %s has no command", step.Name)
		outcome.ExitCode = -1
		outcome.EndTime = time.Now()
		return outcome
	}

	cmd := exec.CommandContext(ctx, step.Argv[0], step.Argv[1:]...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), l.env...)
	// Interrupt first so the tool can clean up; WaitDelay escalates to a kill.
	var interrupted atomic.Bool
	cmd.Cancel = func() error {
		interrupted.Store(true)
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = l.shutdownWait

	capture := newOutputCapture(localSubsystem, entry.DisplayName()+"/"+step.Name)
	cmd.Stdout = capture.Writer()
	cmd.Stderr = capture.Writer()

	logging.Debug(localSubsystem, "%s: running %s", entry.DisplayName(), strings.Join(step.Argv, " "))
	runErr := cmd.Run()
	outcome.Output = capture.Close()
	outcome.EndTime = time.Now()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		outcome.ExitCode = 0
	case errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0 && !interrupted.Load():
		// Exited on its own, even if the context ended meanwhile.
		outcome.ExitCode = exitErr.ExitCode()
	case ctx.Err() != nil:
		outcome.ExitCode = -1
		outcome.Err = ctx.Err()
	case exitErr != nil:
		outcome.ExitCode = exitErr.ExitCode()
		outcome.Err = fmt.Errorf("%s terminated: %w", step.Argv[0], runErr)
	default:
		outcome.ExitCode = -1
		outcome.Err = fmt.Errorf("failed to run %s: %w", step.Argv[0], runErr)
	}
	return outcome
}

// sanitizeName makes an entry name safe for file and object names.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "entry"
	}
	return s
}
