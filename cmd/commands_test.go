package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixctl/internal/config"
	"matrixctl/internal/history"
	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
)

const windowsOnlyWorkflow = `
name: Windows only
on: push
jobs:
  tests:
    strategy:
      matrix:
        include:
          - {name: Windows, python: '3.10', os: windows-latest, tox: py310}
          - {name: Windows 3.11, python: '3.11', os: windows-latest, tox: py311}
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("relies on windows entries being unsupported on the host")
	}
}

func TestListCommand_BuiltInMatrix(t *testing.T) {
	out, _, err := executeCommand(t, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "Tests (on push, pull_request, fail-fast false): 14 of 14 entries")
	assert.Contains(t, out, "3.10 autoescape")
	assert.Contains(t, out, "pypy-3.7")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 16, "title, header and one line per entry")
}

func TestListCommand_FiltersAndJSON(t *testing.T) {
	out, _, err := executeCommand(t, "list", "--os", "linux", "--profile", "py37*", "--json")
	require.NoError(t, err)

	var entries []matrix.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "ubuntu-latest", e.RunsOn)
		assert.True(t, strings.HasPrefix(e.Profile, "py37"))
	}
}

func TestListCommand_Steps(t *testing.T) {
	out, _, err := executeCommand(t, "list", "--name", "PyPy", "--steps")
	require.NoError(t, err)

	assert.Contains(t, out, "1 of 14 entries")
	assert.Contains(t, out, "pypy3 -m pip install --upgrade pip tox")
	assert.Contains(t, out, "pypy3 -m tox -e pypy3")
}

func TestListCommand_WorkflowFile(t *testing.T) {
	path := writeWorkflow(t, windowsOnlyWorkflow)

	out, _, err := executeCommand(t, "list", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Windows only (on push, fail-fast false): 2 of 2 entries")
}

func TestListCommand_BadProfileGlob(t *testing.T) {
	_, _, err := executeCommand(t, "list", "--profile", "py3[10")
	assert.Error(t, err)
}

func TestRunCommand_FailedEntryFailsTheCommand(t *testing.T) {
	skipOnWindows(t)
	path := writeWorkflow(t, windowsOnlyWorkflow)

	out, _, err := executeCommand(t, "run", "-f", path, "--json", "--no-history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix failed: 2 of 2 entries failed")

	var result runner.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, runner.StatusFailed, result.Aggregate)
	require.Len(t, result.Entries, 2)
	for _, e := range result.Entries {
		assert.Equal(t, runner.StatusFailed, e.Status)
		assert.Empty(t, e.Steps, "an unsupported OS fails before any step runs")
	}
}

func TestRunCommand_EventNotTriggered(t *testing.T) {
	path := writeWorkflow(t, windowsOnlyWorkflow)

	_, _, err := executeCommand(t, "run", "-f", path, "--event", "pull_request", "--no-history")
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrNotTriggered)
}

func TestRunCommand_EmptySelectionPasses(t *testing.T) {
	out, _, err := executeCommand(t, "run", "--name", "no such entry", "--quiet", "--no-history")
	require.NoError(t, err)
	assert.Contains(t, out, "0 entries")
}

func TestRunCommand_RecordsHistory(t *testing.T) {
	skipOnWindows(t)
	path := writeWorkflow(t, windowsOnlyWorkflow)
	reportDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	_, _, err := executeInEnv(t, "run", "-f", path, "--quiet", "--report", reportDir)
	require.Error(t, err)

	out, _, err := executeInEnv(t, "history", "list", "--json")
	require.NoError(t, err)
	var runs []history.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "Windows only", runs[0].Workflow)
	assert.Equal(t, runner.StatusFailed, runs[0].Aggregate)
	assert.Equal(t, 2, runs[0].Failed)

	out, _, err = executeInEnv(t, "history", "show", runs[0].ID[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "Windows only (push) on local: failed")

	reports, err := filepath.Glob(filepath.Join(reportDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	out, _, err = executeInEnv(t, "history", "show", reports[0])
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries: 0 passed, 2 failed, 0 cancelled")
}

func TestHistoryCommand_Empty(t *testing.T) {
	out, _, err := executeCommand(t, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet")
}

func TestHistoryCommand_UnknownRun(t *testing.T) {
	_, _, err := executeCommand(t, "history", "show", "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrRunNotFound)
}

func TestHistoryCommand_InvalidLimit(t *testing.T) {
	_, _, err := executeCommand(t, "history", "list", "--limit", "0")
	assert.Error(t, err)
}

func TestMCPServerCommand_UnknownTransport(t *testing.T) {
	_, _, err := executeCommand(t, "mcp-server", "--transport", "websocket")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestRecipeOptions(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name       string
		backend    string
		source     string
		wantSource string
		wantErr    bool
	}{
		{name: "local relative path", backend: config.BackendLocal, source: ".", wantSource: wd},
		{name: "local remote url", backend: config.BackendLocal, source: "https://example.com/repo.git", wantSource: "https://example.com/repo.git"},
		{name: "kubernetes remote url", backend: config.BackendKubernetes, source: "git@example.com:org/repo.git", wantSource: "git@example.com:org/repo.git"},
		{name: "kubernetes local path", backend: config.BackendKubernetes, source: ".", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.Default()
			settings.Backend = tt.backend
			settings.Source = tt.source
			settings.Tool.Version = "4.11"

			opts, err := recipeOptions(settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, opts.Source)
			assert.Equal(t, "tox", opts.Tool)
			assert.Equal(t, "4.11", opts.ToolVersion)
		})
	}
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(&runner.RunResult{Aggregate: runner.StatusPassed}))

	err := resultError(&runner.RunResult{Aggregate: runner.StatusFailed, Failed: 1, Total: 14})
	require.Error(t, err)
	assert.Equal(t, "matrix failed: 1 of 14 entries failed", err.Error())

	err = resultError(&runner.RunResult{Aggregate: runner.StatusCancelled, Cancelled: 3, Total: 14})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestLoadDefinition(t *testing.T) {
	settings := config.Default()
	def, err := loadDefinition(settings)
	require.NoError(t, err)
	assert.Len(t, def.Entries, 14)

	settings.Workflow = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadDefinition(settings)
	assert.Error(t, err)
}

func TestWorkingTreeFlagDefaults(t *testing.T) {
	watchFlag := watchCmd.Flags().Lookup("working-tree")
	require.NotNil(t, watchFlag)
	assert.Equal(t, "true", watchFlag.DefValue, "watch tests the edits that trigger it")

	runFlag := runCmd.Flags().Lookup("working-tree")
	require.NotNil(t, runFlag)
	assert.Equal(t, "false", runFlag.DefValue)
}
