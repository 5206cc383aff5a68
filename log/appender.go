package log

// LogAppender is an output destination. Implementations must be safe for
// concurrent use; buf is only valid during the Write call.
type LogAppender interface {
	Write(buf []byte) (n int, err error)

	// Refresh blocks until buffered data reaches the destination.
	Refresh() error

	// Close flushes and releases the destination.
	Close() error
}
