package tui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

const defaultQueueSize = 256

type overflowAction int

const (
	overflowDrop overflowAction = iota
	overflowBlock
)

func (a overflowAction) String() string {
	switch a {
	case overflowDrop:
		return "Drop"
	case overflowBlock:
		return "Block"
	default:
		return "Unknown"
	}
}

// overflowPolicy decides what happens to a message when the queue is full.
// Progress can be lost; outcomes cannot.
func overflowPolicy(msg tea.Msg) overflowAction {
	switch msg.(type) {
	case entryFinishedMsg, runFinishedMsg, runStartedMsg:
		return overflowBlock
	default:
		return overflowDrop
	}
}

// eventQueue carries runner events to the Bubble Tea program.
type eventQueue struct {
	ch      chan tea.Msg
	mu      sync.Mutex
	closed  bool
	sent    atomic.Int64
	dropped atomic.Int64
}

type queueStats struct {
	Sent    int64
	Dropped int64
}

func newEventQueue(size int) *eventQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &eventQueue{ch: make(chan tea.Msg, size)}
}

// push enqueues msg, reporting whether it was accepted.
func (q *eventQueue) push(msg tea.Msg) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- msg:
		q.sent.Add(1)
		return true
	default:
	}

	if overflowPolicy(msg) == overflowBlock {
		q.ch <- msg
		q.sent.Add(1)
		return true
	}
	q.dropped.Add(1)
	return false
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// drain discards everything until the queue is closed, so a producer never
// stays blocked once the program has exited.
func (q *eventQueue) drain() {
	for range q.ch {
	}
}

func (q *eventQueue) stats() queueStats {
	return queueStats{Sent: q.sent.Load(), Dropped: q.dropped.Load()}
}

func waitForEvent(q *eventQueue) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-q.ch
		if !ok {
			return queueClosedMsg{}
		}
		return msg
	}
}
