package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixctl/internal/matrix"
)

func TestBuild_LinuxEntry(t *testing.T) {
	entry := matrix.Entry{Name: "3.10 unsafe", RunsOn: "ubuntu-latest", OS: matrix.OSLinux, Python: "3.10", Profile: "py310-unsafe"}

	steps := Build(entry, Options{Source: "/src/project"})

	require.Len(t, steps, 4)
	assert.Equal(t, []string{StepCheckout, StepSetupPython, StepInstallTool, StepRunTool},
		[]string{steps[0].Name, steps[1].Name, steps[2].Name, steps[3].Name})
	assert.Equal(t, []string{"git", "clone", "--quiet", "/src/project", "."}, steps[0].Argv)
	assert.Equal(t, []string{"python3.10", "--version"}, steps[1].Argv)
	assert.Equal(t, []string{"python3.10", "-m", "pip", "install", "--upgrade", "pip", "tox"}, steps[2].Argv)
	assert.Equal(t, []string{"python3.10", "-m", "tox", "-e", "py310-unsafe"}, steps[3].Argv)

	assert.Equal(t, PhaseProvisioning, steps[0].Phase)
	assert.Equal(t, PhaseProvisioning, steps[2].Phase)
	assert.Equal(t, PhaseExecution, steps[3].Phase)
}

func TestBuild_Options(t *testing.T) {
	entry := matrix.Entry{OS: matrix.OSLinux, Python: "3.9", Profile: "py39"}

	steps := Build(entry, Options{Source: "https://example.com/repo.git", Workdir: "/workspace", Tool: "nox", ToolVersion: "2024.3.2"})

	assert.Equal(t, "/workspace", steps[0].Argv[len(steps[0].Argv)-1])
	assert.Equal(t, "nox==2024.3.2", steps[2].Argv[len(steps[2].Argv)-1])
	assert.Equal(t, []string{"python3.9", "-m", "nox", "-e", "py39"}, steps[3].Argv)
}

func TestStep_CheckoutPaths(t *testing.T) {
	steps := Build(matrix.Entry{OS: matrix.OSLinux, Python: "3.11", Profile: "py311"}, Options{Source: "/src/project"})

	source, dest, ok := steps[0].CheckoutPaths()
	require.True(t, ok)
	assert.Equal(t, "/src/project", source)
	assert.Equal(t, ".", dest)

	_, _, ok = steps[3].CheckoutPaths()
	assert.False(t, ok)
}

func TestInterpreter(t *testing.T) {
	tests := []struct {
		version string
		os      matrix.OS
		want    []string
	}{
		{version: "3.10", os: matrix.OSLinux, want: []string{"python3.10"}},
		{version: "3.10", os: matrix.OSMacOS, want: []string{"python3.10"}},
		{version: "3.10", os: matrix.OSWindows, want: []string{"py", "-3.10"}},
		{version: "pypy-3.7", os: matrix.OSLinux, want: []string{"pypy3"}},
		{version: "PyPy3", os: matrix.OSWindows, want: []string{"pypy3"}},
	}

	for _, tt := range tests {
		t.Run(tt.version+"/"+string(tt.os), func(t *testing.T) {
			assert.Equal(t, tt.want, Interpreter(tt.version, tt.os))
		})
	}
}

func TestPyPyVersion(t *testing.T) {
	assert.Equal(t, "3.7", PyPyVersion("pypy-3.7"))
	assert.Equal(t, "3.9", PyPyVersion("pypy3.9"))
	assert.Equal(t, "3", PyPyVersion("pypy3"))
}
