// Package queue is the bounded handoff between the webhook gateway and
// the processing workers.
//
// The queue carries raw event ids, not payloads. The append-only row in
// the raw event store is the copy of record, so a crash loses no data:
// pending rows are re-enqueued at startup.
package queue

import (
	"context"
	"sync"

	"github.com/okian/vitals/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 100000
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a raw event id to the queue.
	// Returns false if the queue is full or closed and the id was not enqueued.
	Enqueue(ctx context.Context, id string) bool

	// Dequeue returns a channel that will receive ids as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan string

	// Len returns the current number of queued ids.
	Len(ctx context.Context) int

	// Cap returns the maximum number of ids the queue holds.
	Cap(ctx context.Context) int

	// Close gracefully shuts down the queue.
	// After closing, no new ids can be enqueued; queued ids still drain.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	ids      chan string
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
	}

	// Apply all options
	for _, opt := range opts {
		opt(q)
	}

	q.ids = make(chan string, q.capacity)

	// Initialize metrics
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueDepth(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a raw event id to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.ids <- id:
		metrics.RecordQueueEnqueue()
		depth := len(q.ids)
		metrics.UpdateQueueDepth(depth)
		metrics.UpdateQueueUtilization(float64(depth) / float64(q.capacity))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive ids as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan string {
	// Wrap the channel to track dequeue metrics
	out := make(chan string)
	go func() {
		defer close(out)
		for id := range q.ids {
			select {
			case out <- id:
				metrics.RecordQueueDequeue()
				depth := len(q.ids)
				metrics.UpdateQueueDepth(depth)
				metrics.UpdateQueueUtilization(float64(depth) / float64(q.capacity))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued ids.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	depth := len(q.ids)
	metrics.UpdateQueueDepth(depth)
	metrics.UpdateQueueUtilization(float64(depth) / float64(q.capacity))
	return depth
}

// Cap returns the maximum number of ids the queue holds.
func (q *InMemoryQueue) Cap(ctx context.Context) int {
	return q.capacity
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil // already closed
	}

	// Close the ids channel to signal consumers to stop
	close(q.ids)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
