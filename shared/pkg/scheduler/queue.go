package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// ErrQueueClosed is returned by Push and Pop once the queue is closed
var ErrQueueClosed = errors.New("job queue closed")

// JobQueue is an unbounded FIFO of job descriptors. Push never blocks;
// Pop blocks until a descriptor is available, the queue is closed or ctx ends.
type JobQueue struct {
	mu     sync.Mutex
	items  []models.JobDescriptor
	wait   chan struct{}
	closed bool
}

// NewJobQueue creates an empty queue
func NewJobQueue() *JobQueue {
	return &JobQueue{wait: make(chan struct{})}
}

// Push appends desc to the tail
func (q *JobQueue) Push(desc models.JobDescriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, desc)
	close(q.wait)
	q.wait = make(chan struct{})
	return nil
}

// Pop removes and returns the head. After Close it returns ErrQueueClosed
// even when descriptors remain; use Drain to collect them.
func (q *JobQueue) Pop(ctx context.Context) (models.JobDescriptor, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return models.JobDescriptor{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			desc := q.items[0]
			q.items[0] = models.JobDescriptor{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return desc, nil
		}
		wait := q.wait
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return models.JobDescriptor{}, ctx.Err()
		}
	}
}

// Len returns the number of waiting descriptors
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue and wakes every blocked Pop
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wait)
}

// Drain removes and returns every waiting descriptor
func (q *JobQueue) Drain() []models.JobDescriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
