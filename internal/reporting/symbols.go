package reporting

import (
	"github.com/fatih/color"

	"matrixctl/internal/runner"
)

var (
	passedColor    = color.New(color.FgGreen)
	failedColor    = color.New(color.FgRed, color.Bold)
	cancelledColor = color.New(color.FgYellow)
	dimColor       = color.New(color.Faint)
)

// statusSymbol returns the icon shown next to an entry or step.
func statusSymbol(status runner.Status) string {
	switch status {
	case runner.StatusPassed:
		return "✅"
	case runner.StatusFailed:
		return "❌"
	case runner.StatusCancelled:
		return "🚫"
	default:
		return "❓"
	}
}

func statusColor(status runner.Status) *color.Color {
	switch status {
	case runner.StatusPassed:
		return passedColor
	case runner.StatusFailed:
		return failedColor
	default:
		return cancelledColor
	}
}

func stepStatus(step runner.StepResult) runner.Status {
	if step.ExitCode == 0 && step.Error == "" {
		return runner.StatusPassed
	}
	return runner.StatusFailed
}
