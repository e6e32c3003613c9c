package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"matrixctl/internal/history"
	"matrixctl/internal/matrix"
	"matrixctl/internal/reporting"
	"matrixctl/pkg/logging"
)

const defaultHistoryLimit = 10

func (s *Server) registerTools() {
	filters := []mcp.ToolOption{
		mcp.WithString("os",
			mcp.Description("Comma-separated OS families or runner labels, e.g. 'linux' or 'windows-latest'"),
		),
		mcp.WithString("name",
			mcp.Description("Comma-separated entry display names, e.g. '3.10 unsafe'"),
		),
		mcp.WithString("profile",
			mcp.Description("Glob over the tox environment, e.g. 'py310*'"),
		),
	}

	listOpts := append([]mcp.ToolOption{
		mcp.WithDescription("List the entries of the test matrix"),
	}, filters...)
	s.mcp.AddTool(mcp.NewTool("matrix_list_entries", listOpts...), s.handleListEntries)

	runOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Run the test matrix (or a filtered subset) and return per-entry results"),
	}, filters...)
	s.mcp.AddTool(mcp.NewTool("matrix_run", runOpts...), s.handleRun)

	s.mcp.AddTool(mcp.NewTool("matrix_history",
		mcp.WithDescription("List recent matrix runs, or show one run when id is given"),
		mcp.WithString("id",
			mcp.Description("Run id or unique id prefix"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to list (default 10)"),
		),
	), s.handleHistory)
}

func (s *Server) handleListEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := selectorFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entries := s.def.Select(sel)
	return jsonResult(map[string]any{
		"workflow": s.def.Name,
		"total":    len(entries),
		"entries":  entries,
	})
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := selectorFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !s.running.TryLock() {
		return mcp.NewToolResultError("a matrix run is already in progress"), nil
	}
	defer s.running.Unlock()

	entries := s.def.Select(sel)
	logging.Info(subsystem, "Running %d matrix entries for MCP client", len(entries))

	result, err := s.run(ctx, entries)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Matrix run failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format run result: %v", err)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(reporting.Summary(*result)),
			mcp.NewTextContent(string(data)),
		},
	}, nil
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("run history is disabled"), nil
	}

	if id := strings.TrimSpace(req.GetString("id", "")); id != "" {
		run, err := s.history.GetRun(ctx, id)
		switch {
		case errors.Is(err, history.ErrRunNotFound), errors.Is(err, history.ErrAmbiguousID):
			return mcp.NewToolResultError(fmt.Sprintf("%v: %s", err, id)), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("Failed to load run: %v", err)), nil
		}
		return jsonResult(run)
	}

	limit := defaultHistoryLimit
	if v, ok := req.GetArguments()["limit"].(float64); ok {
		limit = int(v)
	}
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}
	runs, err := s.history.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}
	return jsonResult(runs)
}

// selectorFrom builds an entry selector from the optional filter arguments.
func selectorFrom(req mcp.CallToolRequest) (matrix.Selector, error) {
	sel := matrix.Selector{
		OS:      splitList(req.GetString("os", "")),
		Names:   splitList(req.GetString("name", "")),
		Profile: strings.TrimSpace(req.GetString("profile", "")),
	}
	if err := sel.Validate(); err != nil {
		return matrix.Selector{}, err
	}
	return sel, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
