package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/deadletter"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/ratelimiter"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnSent   func(queue string, latency time.Duration)
	OnFailed func(queue string, dead bool)
}

// Pool runs a fixed number of workers against one named queue.
// Every worker reserves from the same queue; the queue decides ordering and
// guarantees a job is leased to one worker at a time.
type Pool struct {
	name    string
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates concurrency identical workers for the named queue.
// limiter and dlq may be nil.
func NewPool(
	q queue.Queue,
	name string,
	concurrency int,
	handler Handler,
	limiter *ratelimiter.QueueLimiters,
	dlq deadletter.Publisher,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if dlq == nil {
		dlq = deadletter.Nop{}
	}
	workers := make([]*Worker, concurrency)
	for i := range workers {
		workers[i] = NewWorker(
			i, name, q, handler, limiter, dlq,
			logger.With(zap.String("queue", name), zap.Int("worker_id", i)),
			hooks.OnSent,
			hooks.OnFailed,
		)
	}
	return &Pool{name: name, workers: workers}
}

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight jobs finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}
