package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// QueueLimiters holds one token bucket per rate-limited queue. Queues without
// a limiter are never throttled.
type QueueLimiters struct {
	limiters map[string]*rate.Limiter
}

func New() *QueueLimiters {
	return &QueueLimiters{limiters: make(map[string]*rate.Limiter)}
}

// Limit allows at most max jobs per window on the named queue. Burst equals
// max, so a quiet queue may spend a full window's budget at once but never
// more.
func (ql *QueueLimiters) Limit(queue string, max int, window time.Duration) *QueueLimiters {
	if max <= 0 || window <= 0 {
		delete(ql.limiters, queue)
		return ql
	}
	ql.limiters[queue] = rate.NewLimiter(rate.Every(window/time.Duration(max)), max)
	return ql
}

// Wait blocks until the queue's limiter grants a token.
// Called by each worker immediately before handing a job to its handler.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (ql *QueueLimiters) Wait(ctx context.Context, queue string) error {
	l, ok := ql.limiters[queue]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
