package logger

import "sync"

// AsyncLogger decouples log writers from the latency of the underlying
// sink (typically a rotating file) by buffering writes on a channel and
// draining them on a dedicated goroutine. Grounded on
// internal/logger/async_logger_test.go, which exercises exactly this
// write-then-Close contract against a lumberjack.Logger sink.
type AsyncLogger struct {
	sink    writeCloserLike
	entries chan []byte
	done    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type writeCloserLike interface {
	Write(p []byte) (int, error)
}

// NewAsyncLogger starts the draining goroutine and returns a logger ready
// to accept writes. bufSize bounds how many pending writes may queue
// before Write blocks.
func NewAsyncLogger(sink writeCloserLike, bufSize int) *AsyncLogger {
	a := &AsyncLogger{
		sink:    sink,
		entries: make(chan []byte, bufSize),
		done:    make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *AsyncLogger) drain() {
	defer close(a.done)
	for entry := range a.entries {
		if _, err := a.sink.Write(entry); err != nil {
			a.closeErr = err
		}
	}
}

// Write copies p (the caller's buffer may be reused after Write returns)
// and queues it for the drain goroutine.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	a.entries <- buf
	return len(p), nil
}

// Close stops accepting new writes, waits for every queued entry to reach
// the sink, and closes the sink if it supports io.Closer.
func (a *AsyncLogger) Close() error {
	a.closeOnce.Do(func() {
		close(a.entries)
		<-a.done
		if closer, ok := a.sink.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && a.closeErr == nil {
				a.closeErr = err
			}
		}
	})
	return a.closeErr
}
