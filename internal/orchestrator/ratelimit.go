package orchestrator

import (
	"context"
	"sync"
	"time"
)

// boardLimiter enforces a minimum spacing between requests to the same
// board. Board throttling is independent of worker-pool sizing: a large pool
// still may not hammer one board.
type boardLimiter struct {
	spacing time.Duration

	mu   sync.Mutex
	next map[string]time.Time
}

func newBoardLimiter(spacing time.Duration) *boardLimiter {
	return &boardLimiter{
		spacing: spacing,
		next:    make(map[string]time.Time),
	}
}

// wait blocks until the caller may talk to the board, or until ctx is done.
// The slot is reserved under the lock so concurrent pipelines queue up
// instead of stampeding.
func (l *boardLimiter) wait(ctx context.Context, board string) error {
	if l.spacing <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next[board]
	if at.Before(now) {
		at = now
	}
	l.next[board] = at.Add(l.spacing)
	l.mu.Unlock()

	delay := time.Until(at)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
