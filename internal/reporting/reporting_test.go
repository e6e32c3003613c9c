package reporting

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
	"matrixctl/internal/runner"
)

func init() {
	color.NoColor = true
}

func sampleResult() runner.RunResult {
	def := matrix.Default()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	res := runner.RunResult{
		ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
		Workflow:  def.Name,
		Event:     matrix.EventPush,
		Backend:   "local",
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Duration:  90 * time.Second,
	}
	for _, e := range def.Entries {
		er := runner.EntryResult{Entry: e, Status: runner.StatusPassed, Duration: 2 * time.Second}
		if e.Name == "Windows" {
			er.Status = runner.StatusFailed
			er.FailedStep = recipe.StepRunTool
			er.Phase = recipe.PhaseExecution
			er.ExitCode = 1
		}
		res.Entries = append(res.Entries, er)
	}
	res.Total = len(res.Entries)
	res.Passed = 13
	res.Failed = 1
	res.Aggregate = runner.Aggregate(res.Entries)
	return res
}

func TestSummary(t *testing.T) {
	out := Summary(sampleResult())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	require.Len(t, lines, 16)
	assert.Equal(t, "Tests (push) on local: failed", lines[0])
	assert.Contains(t, lines[1], "❌ Windows")
	assert.Contains(t, lines[1], "run-tool exited 1")
	assert.Contains(t, lines[9], "3.10 unsafe")
	assert.Equal(t, "14 entries: 13 passed, 1 failed, 0 cancelled in 1m30s", lines[15])

	// Profile columns line up across rows.
	col := strings.Index(lines[2], "py310")
	assert.Equal(t, col, strings.Index(lines[4], "py310"))
}

func TestCopySummary(t *testing.T) {
	orig := clipboardWriteAll
	defer func() { clipboardWriteAll = orig }()

	var copied string
	clipboardWriteAll = func(s string) error {
		copied = s
		return nil
	}
	require.NoError(t, CopySummary(sampleResult()))
	assert.True(t, strings.HasPrefix(copied, "Tests (push) on local: failed"))

	clipboardWriteAll = func(string) error { return errors.New("no clipboard") }
	assert.ErrorContains(t, CopySummary(sampleResult()), "no clipboard")
}

func TestConsoleReporter_Compact(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, false, false, "")
	res := sampleResult()
	win := res.Entries[0].Entry

	r.ReportStart(runner.RunInfo{Workflow: "Tests", Total: 14, Backend: "local"})
	r.ReportEntryStart(win)
	r.ReportStep(win, runner.StepResult{Name: recipe.StepCheckout})
	r.ReportStep(win, runner.StepResult{Name: recipe.StepRunTool, ExitCode: 1, Output: "FAILED test_a\n"})
	r.ReportEntryResult(res.Entries[0])
	r.ReportSummary(res)

	out := buf.String()
	assert.Contains(t, out, "🧪 Running Tests: 14 entries on local")
	assert.NotContains(t, out, "Starting Windows")
	assert.NotContains(t, out, "› checkout")
	assert.Contains(t, out, "Windows › run-tool exited with code 1")
	assert.Contains(t, out, "│ FAILED test_a")
	assert.Contains(t, out, "[1/14] ❌ Windows failed")
	assert.Contains(t, out, "1 of 14 entries failed")
}

func TestConsoleReporter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, true, true, "")
	entry := matrix.Default().Entries[3]

	r.ReportStart(runner.RunInfo{ID: "abc", Workflow: "Tests", Total: 1, Backend: "local", Event: matrix.EventPush})
	r.ReportEntryStart(entry)
	r.ReportStep(entry, runner.StepResult{Name: recipe.StepSetupPython, Command: []string{"python3.10", "--version"}, Duration: time.Second})

	out := buf.String()
	assert.Contains(t, out, "Run ID: abc")
	assert.Contains(t, out, "Max parallel: unbounded")
	assert.Contains(t, out, "🎯 Starting 3.10 (ubuntu-latest, 3.10, py310)")
	assert.Contains(t, out, "✅ 3.10 › setup-python (1s)")
	assert.Contains(t, out, "$ python3.10 --version")
}

func TestConsoleReporter_SavesReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, false, false, dir)

	r.ReportSummary(sampleResult())

	path, err := r.ReportPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "matrixctl-report-20240501-120000-0f8fad5b.json"), path)
	assert.Contains(t, buf.String(), "Detailed report saved to")

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, runner.StatusFailed, loaded.Aggregate)
	assert.Len(t, loaded.Entries, 14)
}

func TestQuietReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewQuietReporter(&buf)
	res := sampleResult()

	for _, e := range res.Entries {
		r.ReportEntryResult(e)
	}
	r.ReportSummary(res)

	assert.Equal(t, "❌ Windows: run-tool exited 1\n❌ 1/14 entries failed\n", buf.String())
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf)
	r.ReportSummary(sampleResult())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "failed", decoded["aggregate"])
	assert.Len(t, decoded["entries"], 14)
}

func TestSaveReport_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := SaveReport(filepath.Join(file, "sub"), sampleResult())
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", tail("a\n", 5))
}
