// Package reporting renders matrix run progress and results.
//
// All reporters implement runner.Reporter:
//
//   - ConsoleReporter prints progress for humans, compact or verbose.
//   - QuietReporter prints failures and a one-line summary for CI logs.
//   - JSONReporter prints the final RunResult as JSON.
//
// SaveReport writes a RunResult to a report directory and Summary renders
// the aligned per-entry status table used by the console output, the
// clipboard copy and the MCP server.
package reporting
