package logger

import (
	"context"
	"log/slog"
	"sync"
)

// AsyncHandler buffers records on a channel and hands them to the next
// handler from a single background goroutine, so callers never block on I/O.
type AsyncHandler struct {
	next    slog.Handler
	records chan slog.Record
	drop    bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncHandler starts the background drain goroutine. When the buffer is
// full, dropOnFull controls whether new records are discarded (true) or the
// caller blocks until space frees up (false).
func NewAsyncHandler(next slog.Handler, bufferSize int, dropOnFull bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		records: make(chan slog.Record, bufferSize),
		drop:    dropOnFull,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *AsyncHandler) run() {
	defer close(h.done)
	for r := range h.records {
		_ = h.next.Handle(context.Background(), r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	if h.drop {
		select {
		case h.records <- r:
		default:
		}
		return nil
	}
	h.records <- r
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, drop: h.drop, done: h.done}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, drop: h.drop, done: h.done}
}

// Close stops accepting new records and waits for the buffer to drain.
func (h *AsyncHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.records)
	})
	<-h.done
}
