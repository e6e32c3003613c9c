package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixctl/internal/history"
	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
)

type fakeHistory struct {
	runs      []history.RunSummary
	byID      map[string]*runner.RunResult
	lastLimit int
	err       error
}

func (f *fakeHistory) ListRuns(_ context.Context, limit int) ([]history.RunSummary, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (*runner.RunResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	run, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", id, history.ErrRunNotFound)
	}
	return run, nil
}

// passAll returns a RunFunc that passes every entry and records what it saw.
func passAll(seen *[]matrix.Entry) RunFunc {
	return func(_ context.Context, entries []matrix.Entry) (*runner.RunResult, error) {
		*seen = entries
		now := time.Now()
		results := make([]runner.EntryResult, len(entries))
		for i, e := range entries {
			results[i] = runner.EntryResult{Entry: e, Status: runner.StatusPassed, StartTime: now, EndTime: now}
		}
		return &runner.RunResult{
			ID:        "run-1",
			Workflow:  "Tests",
			Backend:   "fake",
			StartTime: now,
			EndTime:   now,
			Aggregate: runner.Aggregate(results),
			Total:     len(results),
			Passed:    len(results),
			Entries:   results,
		}, nil
	}
}

func newTestServer(t *testing.T, run RunFunc, h HistoryReader) *Server {
	t.Helper()
	s, err := New(Config{Definition: matrix.Default(), Run: run, History: h, Version: "test"})
	require.NoError(t, err)
	return s
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult, i int) string {
	t.Helper()
	require.Greater(t, len(res.Content), i)
	text, ok := res.Content[i].(mcp.TextContent)
	require.True(t, ok, "content %d is %T", i, res.Content[i])
	return text.Text
}

func TestNew_RequiresDefinitionAndRun(t *testing.T) {
	_, err := New(Config{Run: passAll(new([]matrix.Entry))})
	assert.Error(t, err)

	_, err = New(Config{Definition: matrix.Default()})
	assert.Error(t, err)
}

func TestNew_RegistersTools(t *testing.T) {
	s := newTestServer(t, passAll(new([]matrix.Entry)), nil)
	assert.NotNil(t, s.MCPServer())
}

func TestHandleListEntries(t *testing.T) {
	s := newTestServer(t, passAll(new([]matrix.Entry)), nil)

	tests := []struct {
		name      string
		args      map[string]any
		wantTotal int
		wantErr   bool
	}{
		{name: "no filters", args: map[string]any{}, wantTotal: 14},
		{name: "by os family", args: map[string]any{"os": "windows, macos"}, wantTotal: 2},
		{name: "by name", args: map[string]any{"name": "PyPy,3.10 unsafe"}, wantTotal: 2},
		{name: "by profile glob", args: map[string]any{"profile": "*autoescape"}, wantTotal: 4},
		{name: "combined", args: map[string]any{"os": "linux", "profile": "py310*"}, wantTotal: 3},
		{name: "bad glob", args: map[string]any{"profile": "py3[10"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleListEntries(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			if tt.wantErr {
				assert.True(t, res.IsError)
				return
			}
			assert.False(t, res.IsError)

			var body struct {
				Workflow string         `json:"workflow"`
				Total    int            `json:"total"`
				Entries  []matrix.Entry `json:"entries"`
			}
			require.NoError(t, json.Unmarshal([]byte(resultText(t, res, 0)), &body))
			assert.Equal(t, "Tests", body.Workflow)
			assert.Equal(t, tt.wantTotal, body.Total)
			assert.Len(t, body.Entries, tt.wantTotal)
		})
	}
}

func TestHandleRun(t *testing.T) {
	var seen []matrix.Entry
	s := newTestServer(t, passAll(&seen), nil)

	res, err := s.handleRun(context.Background(), callRequest(map[string]any{"os": "linux", "profile": "py37*"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	require.Len(t, seen, 3)
	for _, e := range seen {
		assert.Equal(t, matrix.OSLinux, e.OS)
		assert.True(t, strings.HasPrefix(e.Profile, "py37"))
	}

	summary := resultText(t, res, 0)
	assert.Contains(t, summary, "3 entries: 3 passed, 0 failed, 0 cancelled")

	var result runner.RunResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res, 1)), &result))
	assert.Equal(t, runner.StatusPassed, result.Aggregate)
	assert.Equal(t, 3, result.Passed)
}

func TestHandleRun_RunError(t *testing.T) {
	run := func(context.Context, []matrix.Entry) (*runner.RunResult, error) {
		return nil, errors.New("backend unavailable")
	}
	s := newTestServer(t, run, nil)

	res, err := s.handleRun(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res, 0), "backend unavailable")
}

func TestHandleRun_RejectsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context, entries []matrix.Entry) (*runner.RunResult, error) {
		close(started)
		<-release
		return passAll(new([]matrix.Entry))(ctx, entries)
	}
	s := newTestServer(t, run, nil)

	done := make(chan *mcp.CallToolResult)
	go func() {
		res, _ := s.handleRun(context.Background(), callRequest(nil))
		done <- res
	}()
	<-started

	res, err := s.handleRun(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res, 0), "already in progress")

	close(release)
	first := <-done
	assert.False(t, first.IsError)
}

func TestHandleHistory(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHistory{
		runs: []history.RunSummary{
			{ID: "abc", Workflow: "Tests", Aggregate: runner.StatusFailed, Total: 14, Passed: 13, Failed: 1, StartTime: started},
		},
		byID: map[string]*runner.RunResult{
			"abc": {ID: "abc", Workflow: "Tests", Aggregate: runner.StatusFailed, Total: 14},
		},
	}
	s := newTestServer(t, passAll(new([]matrix.Entry)), h)

	t.Run("list uses default limit", func(t *testing.T) {
		res, err := s.handleHistory(context.Background(), callRequest(nil))
		require.NoError(t, err)
		require.False(t, res.IsError)
		assert.Equal(t, defaultHistoryLimit, h.lastLimit)

		var runs []history.RunSummary
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res, 0)), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "abc", runs[0].ID)
	})

	t.Run("list with limit", func(t *testing.T) {
		res, err := s.handleHistory(context.Background(), callRequest(map[string]any{"limit": float64(3)}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, 3, h.lastLimit)
	})

	t.Run("non-positive limit", func(t *testing.T) {
		res, err := s.handleHistory(context.Background(), callRequest(map[string]any{"limit": float64(0)}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("show run", func(t *testing.T) {
		res, err := s.handleHistory(context.Background(), callRequest(map[string]any{"id": "abc"}))
		require.NoError(t, err)
		require.False(t, res.IsError)

		var run runner.RunResult
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res, 0)), &run))
		assert.Equal(t, runner.StatusFailed, run.Aggregate)
	})

	t.Run("unknown run", func(t *testing.T) {
		res, err := s.handleHistory(context.Background(), callRequest(map[string]any{"id": "zzz"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res, 0), "run not found")
	})
}

func TestHandleHistory_Disabled(t *testing.T) {
	s := newTestServer(t, passAll(new([]matrix.Entry)), nil)

	res, err := s.handleHistory(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
}
