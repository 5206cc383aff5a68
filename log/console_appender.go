package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleAppender writes events unbuffered to stdout, or to the writer given
// to NewWriterAppender.
type ConsoleAppender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleAppender writes to stdout.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{w: os.Stdout}
}

// NewWriterAppender writes to w. Writes are serialized.
func NewWriterAppender(w io.Writer) *ConsoleAppender {
	return &ConsoleAppender{w: w}
}

func (ca *ConsoleAppender) Write(buf []byte) (int, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.w.Write(buf)
}

func (ca *ConsoleAppender) Refresh() error {
	return nil
}

func (ca *ConsoleAppender) Close() error {
	return nil
}
