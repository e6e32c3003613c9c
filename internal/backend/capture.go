package backend

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"matrixctl/pkg/logging"
)

const maxCapturedLine = 1024 * 1024

// outputCapture collects the combined stdout/stderr of a step line by line
// and mirrors every line to the debug log.
type outputCapture struct {
	buf       bytes.Buffer
	reader    *io.PipeReader
	writer    *io.PipeWriter
	subsystem string
	prefix    string
	wg        sync.WaitGroup
	mu        sync.Mutex
}

func newOutputCapture(subsystem, prefix string) *outputCapture {
	c := &outputCapture{subsystem: subsystem, prefix: prefix}
	c.reader, c.writer = io.Pipe()

	c.wg.Add(1)
	go c.consume()

	return c
}

func (c *outputCapture) consume() {
	defer c.wg.Done()

	scanner := bufio.NewScanner(c.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCapturedLine)
	for scanner.Scan() {
		line := scanner.Text()
		c.mu.Lock()
		c.buf.WriteString(line)
		c.buf.WriteByte('\n')
		c.mu.Unlock()
		logging.Debug(c.subsystem, "%s | %s", c.prefix, line)
	}
	// Drain anything left after an oversized line so the writer never blocks.
	_, _ = io.Copy(io.Discard, c.reader)
}

// Writer is handed to the process as both stdout and stderr.
func (c *outputCapture) Writer() io.Writer {
	return c.writer
}

// Close flushes pending output and returns everything captured.
func (c *outputCapture) Close() string {
	c.writer.Close()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
