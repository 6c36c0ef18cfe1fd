package storage

import "sync"

// pruneQueue runs prune work on one background goroutine. Triggers coalesce:
// while a run is pending, further triggers are absorbed by it.
type pruneQueue struct {
	run      func()
	requests chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

func newPruneQueue(run func()) *pruneQueue {
	q := &pruneQueue{
		run:      run,
		requests: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *pruneQueue) loop() {
	defer close(q.done)
	for range q.requests {
		q.run()
		q.mu.Lock()
		q.pending--
		if q.pending == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}

// Trigger schedules a run without waiting for it.
func (q *pruneQueue) Trigger() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.requests <- struct{}{}:
		q.pending++
	default:
		// a queued run has not started yet and will see the new file
	}
}

// Wait blocks until every scheduled run has finished. It may be called
// concurrently with Trigger.
func (q *pruneQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.idle.Wait()
	}
}

// Close drains queued runs and stops the goroutine.
func (q *pruneQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.requests)
	q.mu.Unlock()
	<-q.done
}
