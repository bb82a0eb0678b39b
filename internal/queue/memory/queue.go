// Package memory provides the in-process index job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan scholarship.IndexJob
	closeMu sync.RWMutex
	closed  bool
}

var _ scholarship.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan scholarship.IndexJob, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job scholarship.IndexJob) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return scholarship.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scholarship.IndexJob, error) {
	select {
	case <-ctx.Done():
		return scholarship.IndexJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return scholarship.IndexJob{}, scholarship.ErrQueueClosed
		}
		return job, nil
	}
}

// Len reports the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. Buffered jobs can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
