// Package service runs the grading pipeline: admission, the submission queue
// and the workers that execute code against a maze session.
package service

import (
	"context"
	"sync"

	appErr "labyrinth/pkg/errors"

	mapset "github.com/deckarep/golang-set/v2"
)

// Queue is an unbounded FIFO of submission ids with a processing set. An id
// is never queued twice and never handed to two workers at once.
type Queue struct {
	mu         sync.Mutex
	items      []string
	queued     mapset.Set[string]
	processing mapset.Set[string]
	signal     chan struct{}
	closed     bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		queued:     mapset.NewThreadUnsafeSet[string](),
		processing: mapset.NewThreadUnsafeSet[string](),
		signal:     make(chan struct{}),
	}
}

// Enqueue appends id. It returns false when id is already queued or being processed.
func (q *Queue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || id == "" || q.queued.Contains(id) || q.processing.Contains(id) {
		return false
	}
	q.items = append(q.items, id)
	q.queued.Add(id)
	q.wakeLocked()
	return true
}

// Dequeue blocks until an id is available, moves it to the processing set
// and returns it.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.queued.Remove(id)
			q.processing.Add(id)
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", appErr.New(appErr.GradingQueueClosed)
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// Complete releases id from the processing set.
func (q *Queue) Complete(id string) {
	q.mu.Lock()
	q.processing.Remove(id)
	q.mu.Unlock()
}

// Close wakes every waiting Dequeue. Items still queued are drained first.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

// PendingCount returns the number of queued ids.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ProcessingCount returns the number of ids being graded.
func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing.Cardinality()
}

// IsProcessing reports whether id is held by a worker.
func (q *Queue) IsProcessing(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing.Contains(id)
}

// wakeLocked releases every goroutine blocked in Dequeue.
func (q *Queue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}
