package session

import (
	"context"
	"sync"
	"sync/atomic"
)

type job func(ctx context.Context)

// jobQueue is a count-bounded FIFO of session work (tool calls, follow-ups,
// session.update). A single worker drains it, so jobs never overlap and run in
// the order their triggering events were logged.
type jobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxJobs int
	jobs    []job

	drops atomic.Uint64
}

func newJobQueue(maxJobs int) *jobQueue {
	q := &jobQueue{maxJobs: maxJobs}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *jobQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends j. It never blocks; it reports false when the queue is
// closed or full.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.jobs) >= q.maxJobs {
		q.drops.Add(1)
		return false
	}
	q.jobs = append(q.jobs, j)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a job is available or the queue is closed. Jobs still
// queued at Close are discarded.
func (q *jobQueue) Dequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	j := q.jobs[0]
	copy(q.jobs, q.jobs[1:])
	q.jobs[len(q.jobs)-1] = nil
	q.jobs = q.jobs[:len(q.jobs)-1]
	return j, true
}

func (q *jobQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for i := range q.jobs {
		q.jobs[i] = nil
	}
	q.jobs = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
