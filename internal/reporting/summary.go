package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-runewidth"

	"matrixctl/internal/runner"
)

// clipboardWriteAll is swapped in tests.
var clipboardWriteAll = clipboard.WriteAll

// Summary renders a plain-text status table for a run, one line per entry
// in matrix order followed by the totals.
func Summary(result runner.RunResult) string {
	var b strings.Builder

	title := result.Workflow
	if title == "" {
		title = "matrix"
	}
	if result.Event != "" {
		title += " (" + string(result.Event) + ")"
	}
	fmt.Fprintf(&b, "%s on %s: %s\n", title, result.Backend, result.Aggregate)

	nameWidth, osWidth, pyWidth, profileWidth := columnWidths(result.Entries)
	for _, e := range result.Entries {
		fmt.Fprintf(&b, "  %s %s  %s  %s  %s  %8s",
			statusSymbol(e.Status),
			runewidth.FillRight(e.Entry.DisplayName(), nameWidth),
			runewidth.FillRight(e.Entry.RunsOn, osWidth),
			runewidth.FillRight(e.Entry.Python, pyWidth),
			runewidth.FillRight(e.Entry.Profile, profileWidth),
			formatDuration(e.Duration),
		)
		if detail := entryDetail(e); detail != "" {
			b.WriteString("  " + detail)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "%d entries: %d passed, %d failed, %d cancelled in %s\n",
		result.Total, result.Passed, result.Failed, result.Cancelled, formatDuration(result.Duration))
	return b.String()
}

// CopySummary places the summary table on the system clipboard.
func CopySummary(result runner.RunResult) error {
	if err := clipboardWriteAll(Summary(result)); err != nil {
		return fmt.Errorf("failed to copy summary to clipboard: %w", err)
	}
	return nil
}

func columnWidths(entries []runner.EntryResult) (name, os, python, profile int) {
	for _, e := range entries {
		name = max(name, runewidth.StringWidth(e.Entry.DisplayName()))
		os = max(os, runewidth.StringWidth(e.Entry.RunsOn))
		python = max(python, runewidth.StringWidth(e.Entry.Python))
		profile = max(profile, runewidth.StringWidth(e.Entry.Profile))
	}
	return name, os, python, profile
}

// entryDetail explains a non-passing entry in a few words.
func entryDetail(e runner.EntryResult) string {
	switch e.Status {
	case runner.StatusPassed:
		return ""
	case runner.StatusCancelled:
		return "cancelled"
	}

	switch {
	case e.FailedStep != "" && e.Error != "":
		return fmt.Sprintf("%s: %s", e.FailedStep, e.Error)
	case e.FailedStep != "":
		return fmt.Sprintf("%s exited %d", e.FailedStep, e.ExitCode)
	case e.Error != "":
		return fmt.Sprintf("%s: %s", e.Phase, e.Error)
	default:
		return "failed"
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

// tail returns the last n lines of output.
func tail(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
