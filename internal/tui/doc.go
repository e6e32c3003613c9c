// Package tui shows a live matrix run in the terminal with Bubble Tea.
//
// The runner reports through Reporter, which pushes events into a bounded
// queue that the model drains with a command. Step progress is dropped when
// the queue is full; entry results and the summary always get through. Log
// records from pkg/logging arrive on their own channel and fill the log
// pane. The program quits once the summary arrives.
package tui
