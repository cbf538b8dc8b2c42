// Package intake provides the ordered event stream connecting the telemetry
// listener to the flush scheduler. Lifecycle events and log records from the
// platform are merged into one bounded queue so the scheduler consumes them
// one at a time, in arrival order, without locking its own state.
package intake

import (
	"context"
	"log/slog"
	"sync"

	"sidetap/internal/types"
)

// Message is one item on the intake stream: either a lifecycle event or a
// log record, never both.
type Message struct {
	Event  *types.LifecycleEvent
	Record *types.Record
}

// Bus is the bounded intake queue. Producers (the telemetry listener, the
// signal handler) publish; the scheduler is the single consumer. Closing the
// bus without first publishing a shutdown event signals to the consumer that
// the event source was lost.
type Bus struct {
	ch     chan Message
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a Bus with the given queue capacity.
func NewBus(size int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:     make(chan Message, size),
		logger: logger,
	}
}

// PublishEvent enqueues a lifecycle event. The send blocks while the queue
// is full so lifecycle ordering is never violated by drops; ctx bounds the
// wait.
func (b *Bus) PublishEvent(ctx context.Context, event types.LifecycleEvent) error {
	return b.publish(ctx, Message{Event: &event})
}

// PublishRecord enqueues a log record bound for the exporter.
func (b *Bus) PublishRecord(ctx context.Context, record types.Record) error {
	return b.publish(ctx, Message{Record: &record})
}

// publish holds the read lock across the send so Close cannot close the
// channel underneath an in-flight publisher. Close blocks until in-flight
// publishers finish; their sends are bounded by ctx.
func (b *Bus) publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return types.NewAppError(types.ErrCodeLifecycleStream, "publish on closed intake bus", nil)
	}

	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the consumer side of the stream. The channel is closed
// by Close; a close that was not preceded by a shutdown event is treated as
// loss of the event source by the consumer.
func (b *Bus) Messages() <-chan Message {
	return b.ch
}

// Close shuts the stream down. Safe to call more than once and safe against
// concurrent publishers: Close waits for in-flight sends before closing the
// channel, and later publishes fail with a stream-closure error.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
