// Package recipe builds the fixed step sequence applied to every matrix entry:
// check out the source, provision the interpreter, install the test tool and
// invoke it with the entry's profile.
package recipe

import (
	"strings"

	"matrixctl/internal/matrix"
)

// Phase classifies a step for diagnostics. Both phases surface to the user
// as a failed entry.
type Phase string

const (
	PhaseProvisioning Phase = "provisioning"
	PhaseExecution    Phase = "execution"
)

// Step names, in execution order.
const (
	StepCheckout      = "checkout"
	StepSetupPython   = "setup-python"
	StepInstallTool   = "install-tool"
	StepRunTool       = "run-tool"
	DefaultTool       = "tox"
	DefaultWorkdir    = "."
	pypyInterpreter   = "pypy3"
	windowsPyLauncher = "py"
)

// Step is one command of the recipe.
type Step struct {
	Name  string   `json:"name"`
	Phase Phase    `json:"phase"`
	Argv  []string `json:"argv"`
}

// Options parameterise the recipe. Zero values select the defaults.
type Options struct {
	// Source is the repository to clone, a local path or a URL.
	Source string
	// Workdir is the clone destination relative to the execution context.
	Workdir string
	// Tool is the auxiliary test runner installed with pip.
	Tool string
	// ToolVersion pins the tool when set.
	ToolVersion string
}

func (o Options) withDefaults() Options {
	if o.Workdir == "" {
		o.Workdir = DefaultWorkdir
	}
	if o.Tool == "" {
		o.Tool = DefaultTool
	}
	if o.Source == "" {
		o.Source = "."
	}
	return o
}

// Build returns the recipe for one entry.
func Build(entry matrix.Entry, opts Options) []Step {
	opts = opts.withDefaults()
	python := Interpreter(entry.Python, entry.OS)

	pkg := opts.Tool
	if opts.ToolVersion != "" {
		pkg += "==" + opts.ToolVersion
	}

	return []Step{
		{
			Name:  StepCheckout,
			Phase: PhaseProvisioning,
			Argv:  []string{"git", "clone", "--quiet", opts.Source, opts.Workdir},
		},
		{
			Name:  StepSetupPython,
			Phase: PhaseProvisioning,
			Argv:  join(python, "--version"),
		},
		{
			Name:  StepInstallTool,
			Phase: PhaseProvisioning,
			Argv:  join(python, "-m", "pip", "install", "--upgrade", "pip", pkg),
		},
		{
			Name:  StepRunTool,
			Phase: PhaseExecution,
			Argv:  join(python, "-m", opts.Tool, "-e", entry.Profile),
		},
	}
}

// CheckoutPaths returns the source and destination of a checkout step.
func (s Step) CheckoutPaths() (source, dest string, ok bool) {
	if s.Name != StepCheckout || len(s.Argv) < 2 {
		return "", "", false
	}
	return s.Argv[len(s.Argv)-2], s.Argv[len(s.Argv)-1], true
}

// Interpreter returns the argv prefix that selects the given interpreter
// version on the given OS: "pypy3" for PyPy tags, the "py -X.Y" launcher on
// Windows and "pythonX.Y" elsewhere.
func Interpreter(version string, os matrix.OS) []string {
	if IsPyPy(version) {
		return []string{pypyInterpreter}
	}
	if os == matrix.OSWindows {
		return []string{windowsPyLauncher, "-" + version}
	}
	return []string{"python" + version}
}

// IsPyPy reports whether the version selects the PyPy interpreter.
func IsPyPy(version string) bool {
	return strings.HasPrefix(strings.ToLower(version), "pypy")
}

// PyPyVersion strips the interpreter tag, "pypy-3.7" -> "3.7". Bare "pypy3" yields "3".
func PyPyVersion(version string) string {
	v := strings.TrimPrefix(strings.ToLower(version), "pypy")
	return strings.TrimPrefix(v, "-")
}

func join(prefix []string, args ...string) []string {
	out := make([]string, 0, len(prefix)+len(args))
	out = append(out, prefix...)
	return append(out, args...)
}
