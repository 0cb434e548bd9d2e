package agent

import (
	"context"
	"log/slog"
	"sync"
)

// Queue serializes agent turns per group folder. Enqueue is a coalescing
// wakeup, not a work item: the runner re-reads pending messages from the
// store, so collapsing a burst of signals into one turn loses nothing.
type Queue struct {
	runner func(ctx context.Context, folder string)
	logger *slog.Logger

	mu      sync.Mutex
	wakeups map[string]chan struct{}
	wg      sync.WaitGroup
}

// NewQueue creates a per-folder turn queue. runner executes one turn for the
// folder and must be safe to call repeatedly.
func NewQueue(runner func(ctx context.Context, folder string), logger *slog.Logger) *Queue {
	return &Queue{
		runner:  runner,
		logger:  logger.With("component", "queue"),
		wakeups: make(map[string]chan struct{}),
	}
}

// Enqueue signals that folder has work. Never blocks; a signal arriving
// while one is already pending is coalesced.
func (q *Queue) Enqueue(ctx context.Context, folder string) {
	q.mu.Lock()
	ch, ok := q.wakeups[folder]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wakeups[folder] = ch
		q.wg.Add(1)
		go q.work(ctx, folder, ch)
	}
	q.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

// work is the per-folder loop: one runner call per wakeup, strictly serial.
func (q *Queue) work(ctx context.Context, folder string, ch chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			q.runner(ctx, folder)
		}
	}
}

// Wait blocks until every worker has observed context cancellation.
func (q *Queue) Wait() {
	q.wg.Wait()
}
