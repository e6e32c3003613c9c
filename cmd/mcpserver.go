package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"matrixctl/internal/matrix"
	"matrixctl/internal/mcpserver"
	"matrixctl/internal/reporting"
	"matrixctl/internal/runner"
	"matrixctl/pkg/logging"
)

var (
	mcpWorkflow  string
	mcpBackend   string
	mcpSource    string
	mcpTransport string
	mcpAddr      string
	mcpDebug     bool
)

var mcpBindings = map[string]string{
	"workflow": "workflow",
	"source":   "source",
	"backend":  "backend",
}

// mcpServerCmd represents the mcp-server command
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Expose the test matrix to AI assistants over MCP",
	Long: `Runs an MCP server that lets an assistant inspect and run the matrix.

Tools:
  matrix_list_entries   list entries, optionally filtered by os, name or profile
  matrix_run            run the (filtered) matrix and return per-entry results
  matrix_history        list recorded runs or show one by id

The default stdio transport is meant to be launched by the assistant
itself; configure it in your assistant's MCP settings as:

  {"command": "matrixctl", "args": ["mcp-server"]}

Logs go to stderr so they never mix with the protocol on stdout.`,
	Args: cobra.NoArgs,
	RunE: runMCPServer,
}

func init() {
	rootCmd.AddCommand(mcpServerCmd)

	mcpServerCmd.Flags().StringVarP(&mcpWorkflow, "workflow", "f", "", "Workflow file to read the matrix from (default: built-in matrix)")
	mcpServerCmd.Flags().StringVar(&mcpBackend, "backend", "", "Execution backend: local or kubernetes (default from config)")
	mcpServerCmd.Flags().StringVar(&mcpSource, "source", "", "Repository each entry checks out (default: current directory)")
	mcpServerCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport: stdio or sse")
	mcpServerCmd.Flags().StringVar(&mcpAddr, "addr", "localhost:8091", "Listen address for the sse transport")
	mcpServerCmd.Flags().BoolVar(&mcpDebug, "debug", false, "Enable debug logging")

	_ = mcpServerCmd.RegisterFlagCompletionFunc("backend", completeBackendFlag)
	_ = mcpServerCmd.RegisterFlagCompletionFunc("transport", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"stdio", "sse"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	if mcpTransport != "stdio" && mcpTransport != "sse" {
		return fmt.Errorf("unknown transport %q, must be 'stdio' or 'sse'", mcpTransport)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := loadSettings(cmd, mcpBindings)
	if err != nil {
		return err
	}
	initCLILogging(settings, mcpDebug, os.Stderr)

	sess, err := newSession(ctx, settings, sessionOptions{history: true})
	if err != nil {
		return err
	}
	defer sess.close()

	cfg := sess.base
	cfg.Event = matrix.EventPush

	var historyReader mcpserver.HistoryReader
	if sess.history != nil {
		historyReader = sess.history
	}

	server, err := mcpserver.New(mcpserver.Config{
		Definition: sess.def,
		Run: func(ctx context.Context, entries []matrix.Entry) (*runner.RunResult, error) {
			result, err := sess.newRunner(reporting.NewQuietReporter(os.Stderr)).Run(ctx, entries, cfg)
			if err != nil {
				return nil, err
			}
			sess.record(result)
			return result, nil
		},
		History: historyReader,
		Version: rootCmd.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if mcpTransport == "sse" {
		return server.ServeSSE(ctx, mcpAddr)
	}
	logging.Info(subsystem, "Starting matrixctl MCP server (stdio transport)")
	return server.ServeStdio(ctx, os.Stdin, cmd.OutOrStdout())
}
