package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log output on shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// logTask pairs a record with the handler that must format it, so attrs
// and groups added via With survive the queue.
type logTask struct {
	h   slog.Handler
	rec slog.Record
}

// asyncCore is the queue and worker pool shared by an AsyncHandler and
// every derived handler.
type asyncCore struct {
	queue   chan logTask
	workers sync.WaitGroup
	dropped atomic.Int64
}

func (c *asyncCore) run() {
	defer c.workers.Done()
	for t := range c.queue {
		_ = t.h.Handle(context.Background(), t.rec)
	}
}

// AsyncHandler decouples log emission from I/O. Records pass through a
// bounded queue serviced by worker goroutines; when the queue is full the
// record is counted and discarded so request paths never block on logging.
type AsyncHandler struct {
	next slog.Handler
	core *asyncCore
}

// NewAsyncHandler wraps next with a queue of the given size drained by the
// given number of workers.
func NewAsyncHandler(next slog.Handler, queueSize, workers int) *AsyncHandler {
	core := &asyncCore{queue: make(chan logTask, queueSize)}
	for range workers {
		core.workers.Add(1)
		go core.run()
	}
	return &AsyncHandler{next: next, core: core}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.queue <- logTask{h: h.next, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares the queue and worker pool.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler that shares the queue and worker pool.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), core: h.core}
}

// DroppedCount returns how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain the
// queue. Call it once, on the handler returned by NewAsyncHandler.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	h.core.workers.Wait()
}
