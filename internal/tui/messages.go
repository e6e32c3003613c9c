package tui

import (
	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
	"matrixctl/pkg/logging"
)

type runStartedMsg struct {
	info runner.RunInfo
}

type entryStartedMsg struct {
	entry matrix.Entry
}

type stepFinishedMsg struct {
	entry matrix.Entry
	step  runner.StepResult
}

type entryFinishedMsg struct {
	result runner.EntryResult
}

type runFinishedMsg struct {
	result runner.RunResult
}

// queueClosedMsg means the run ended without a summary, e.g. on invalid input.
type queueClosedMsg struct{}

type logEntryMsg struct {
	entry logging.LogEntry
}

type logChannelClosedMsg struct{}
