package eventlog

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize is the capacity of a Buffered sink's queue when none is
// configured.
const DefaultQueueSize = 4

// Buffered queues events for a single writer goroutine. Record blocks while
// the queue is full. Close enqueues a nil sentinel and waits for the writer
// to drain everything recorded before it.
type Buffered struct {
	w      io.Writer
	logger *slog.Logger
	queue  chan *Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewBuffered starts the writer goroutine. A non-positive size selects
// DefaultQueueSize.
func NewBuffered(w io.Writer, size int, logger *slog.Logger) *Buffered {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Buffered{
		w:      w,
		logger: logger,
		queue:  make(chan *Event, size),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Record enqueues an event.
func (b *Buffered) Record(sessionID, message string, ts time.Time) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	b.queue <- &Event{SessionID: sessionID, Message: message, Time: ts}
	return nil
}

// Close stops accepting events, drains the queue and joins the writer.
func (b *Buffered) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return nil
	}
	b.closed = true
	b.queue <- nil
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *Buffered) run() {
	defer close(b.done)

	for e := range b.queue {
		if e == nil {
			return
		}
		if _, err := io.WriteString(b.w, e.Line()+"\n"); err != nil {
			b.logger.Warn("event log write failed",
				slog.String("session_id", e.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}
