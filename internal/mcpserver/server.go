// Package mcpserver exposes the test matrix to MCP clients. It serves three
// tools: matrix_list_entries, matrix_run and matrix_history.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"matrixctl/internal/history"
	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
	"matrixctl/pkg/logging"
)

const subsystem = "MCPServer"

// RunFunc executes the given entries and returns the aggregated result.
type RunFunc func(ctx context.Context, entries []matrix.Entry) (*runner.RunResult, error)

// HistoryReader is the read side of the run history store.
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]history.RunSummary, error)
	GetRun(ctx context.Context, id string) (*runner.RunResult, error)
}

// Config holds what the server needs to answer tool calls.
type Config struct {
	Definition *matrix.Definition
	Run        RunFunc
	// History is optional; matrix_history reports an error without it.
	History HistoryReader
	Version string
}

// Server wraps an MCP server bound to one matrix definition.
type Server struct {
	def     *matrix.Definition
	run     RunFunc
	history HistoryReader

	mcp *server.MCPServer

	// running guards against overlapping matrix_run calls.
	running sync.Mutex
}

// New registers the matrix tools on a fresh MCP server.
func New(cfg Config) (*Server, error) {
	if cfg.Definition == nil {
		return nil, errors.New("matrix definition is required")
	}
	if cfg.Run == nil {
		return nil, errors.New("run function is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		def:     cfg.Definition,
		run:     cfg.Run,
		history: cfg.History,
		mcp: server.NewMCPServer(
			"matrixctl",
			version,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio answers requests read from in until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info(subsystem, "Serving %d matrix entries over stdio", len(s.def.Entries))
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// ServeSSE serves the tools over HTTP server-sent events on addr until ctx
// is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(
		s.mcp,
		server.WithBaseURL("http://"+addr),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)

	errCh := make(chan error, 1)
	go func() {
		logging.Info(subsystem, "Serving matrix tools on http://%s/sse", addr)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sse server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		logging.Error(subsystem, err, "Error shutting down SSE server")
		return err
	}
	return nil
}
