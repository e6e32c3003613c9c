package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"matrixctl/internal/matrix"
	"matrixctl/internal/runner"
	"matrixctl/pkg/logging"
)

type rowState int

const (
	rowPending rowState = iota
	rowRunning
	rowPassed
	rowFailed
	rowCancelled
)

type entryRow struct {
	entry    matrix.Entry
	state    rowState
	step     string
	started  time.Time
	duration time.Duration
	detail   string
}

// Model is the Bubble Tea model of a running matrix.
type Model struct {
	info    runner.RunInfo
	rows    []entryRow
	index   map[matrix.Key]int
	spinner spinner.Model
	logs    []string

	queue   *eventQueue
	logChan <-chan logging.LogEntry
	cancel  context.CancelFunc
	debug   bool

	width       int
	height      int
	result      *runner.RunResult
	interrupted bool
	done        bool
}

// newModel creates a model listing entries as pending. cancel is invoked
// when the user interrupts the run.
func newModel(entries []matrix.Entry, q *eventQueue, logs <-chan logging.LogEntry, cancel context.CancelFunc, debug bool) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		rows:    make([]entryRow, len(entries)),
		index:   make(map[matrix.Key]int, len(entries)),
		spinner: s,
		queue:   q,
		logChan: logs,
		cancel:  cancel,
		debug:   debug,
	}
	for i, e := range entries {
		m.rows[i] = entryRow{entry: e}
		m.index[e.Key()] = i
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForEvent(m.queue)}
	if m.logChan != nil {
		cmds = append(cmds, listenForLogs(m.logChan))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.interrupted {
				m.interrupted = true
				m.appendLog("Interrupted, cancelling remaining entries...")
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runStartedMsg:
		m.info = msg.info
		return m, waitForEvent(m.queue)

	case entryStartedMsg:
		if row := m.row(msg.entry); row != nil {
			row.state = rowRunning
			row.started = time.Now()
		}
		return m, waitForEvent(m.queue)

	case stepFinishedMsg:
		if row := m.row(msg.entry); row != nil {
			row.step = msg.step.Name
		}
		return m, waitForEvent(m.queue)

	case entryFinishedMsg:
		if row := m.row(msg.result.Entry); row != nil {
			row.state = stateFor(msg.result.Status)
			row.duration = msg.result.Duration
			row.detail = detailFor(msg.result)
		}
		return m, waitForEvent(m.queue)

	case runFinishedMsg:
		result := msg.result
		m.result = &result
		m.done = true
		return m, tea.Quit

	case queueClosedMsg:
		m.done = true
		return m, tea.Quit

	case logEntryMsg:
		if msg.entry.Level >= logging.LevelInfo || m.debug {
			m.appendLog(msg.entry.String())
		}
		return m, listenForLogs(m.logChan)

	case logChannelClosedMsg:
		return m, nil
	}
	return m, nil
}

// Result returns the summary once the run finished.
func (m Model) Result() *runner.RunResult {
	return m.result
}

func (m *Model) row(e matrix.Entry) *entryRow {
	i, ok := m.index[e.Key()]
	if !ok {
		return nil
	}
	return &m.rows[i]
}

func (m *Model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m Model) counts() (pending, running, passed, failed, cancelled int) {
	for _, r := range m.rows {
		switch r.state {
		case rowPending:
			pending++
		case rowRunning:
			running++
		case rowPassed:
			passed++
		case rowFailed:
			failed++
		case rowCancelled:
			cancelled++
		}
	}
	return
}

func stateFor(s runner.Status) rowState {
	switch s {
	case runner.StatusPassed:
		return rowPassed
	case runner.StatusFailed:
		return rowFailed
	default:
		return rowCancelled
	}
}

func detailFor(res runner.EntryResult) string {
	switch {
	case res.Status != runner.StatusFailed:
		return ""
	case res.FailedStep != "" && res.Error == "":
		return fmt.Sprintf("%s exited %d", res.FailedStep, res.ExitCode)
	case res.FailedStep != "":
		return fmt.Sprintf("%s: %s", res.FailedStep, res.Error)
	default:
		return res.Error
	}
}

func listenForLogs(ch <-chan logging.LogEntry) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return logChannelClosedMsg{}
		}
		return logEntryMsg{entry: entry}
	}
}
