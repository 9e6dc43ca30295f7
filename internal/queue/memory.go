package queue

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/collab-notify/internal/domain"
)

// Memory is an in-process Queue. Each named queue dispatches jobs to one of
// three buffered channels based on priority.
//
// Buffer sizes reflect expected traffic ratios:
//
//	High:   1 000  small, applies back-pressure quickly
//	Normal: 5 000  bulk of traffic
//	Low:    2 000  background
//
// Retries wait on a timer and re-enter their tier when it fires. Leases never
// expire: a crashed process loses its memory queue anyway. Callers get copies;
// the queue keeps its own Job so a retry never shares memory with the worker
// that failed it.
type Memory struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	sizes  [3]int

	closed    chan struct{}
	closeOnce sync.Once
}

type memQueue struct {
	high   chan *Job
	normal chan *Job
	low    chan *Job

	mu      sync.Mutex
	active  map[string]*Job
	delayed map[string]*time.Timer
	dead    []*Job
}

// NewMemory returns a Memory queue with the default tier capacities.
func NewMemory() *Memory {
	return NewMemorySized(1000, 5000, 2000)
}

// NewMemorySized returns a Memory queue with explicit tier capacities.
func NewMemorySized(high, normal, low int) *Memory {
	return &Memory{
		queues: make(map[string]*memQueue),
		sizes:  [3]int{high, normal, low},
		closed: make(chan struct{}),
	}
}

func (m *Memory) queue(name string) *memQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{
			high:    make(chan *Job, m.sizes[0]),
			normal:  make(chan *Job, m.sizes[1]),
			low:     make(chan *Job, m.sizes[2]),
			active:  make(map[string]*Job),
			delayed: make(map[string]*time.Timer),
		}
		m.queues[name] = q
	}
	return q
}

func (q *memQueue) tier(p domain.Priority) chan *Job {
	switch p {
	case domain.PriorityHigh:
		return q.high
	case domain.PriorityLow:
		return q.low
	default:
		return q.normal
	}
}

// Enqueue is non-blocking: if the target tier is full, ErrQueueFull is
// returned immediately rather than blocking the caller.
func (m *Memory) Enqueue(_ context.Context, name, notificationID string, payload any, opts Options) (*Job, error) {
	select {
	case <-m.closed:
		return nil, ErrClosed
	default:
	}

	job, err := newJob(name, notificationID, payload, opts)
	if err != nil {
		return nil, err
	}
	snapshot := *job
	select {
	case m.queue(name).tier(job.Priority) <- job:
		return &snapshot, nil
	default:
		return nil, domain.ErrQueueFull
	}
}

// Reserve blocks until a job is available, ctx is cancelled or the queue is
// closed.
//
// High is drained with a non-blocking select before a fair blocking select
// across all three tiers, so high-priority work is never starved while
// normal and low still compete fairly.
func (m *Memory) Reserve(ctx context.Context, name string) (*Job, error) {
	q := m.queue(name)

	var job *Job
	select {
	case job = <-q.high:
	default:
		select {
		case job = <-q.high:
		case job = <-q.normal:
		case job = <-q.low:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, ErrClosed
		}
	}

	q.mu.Lock()
	job.Attempt++
	q.active[job.ID] = job
	leased := *job
	q.mu.Unlock()
	return &leased, nil
}

// held returns the queue's own copy of a leased job. A caller holding an
// older attempt has lost the lease.
func (q *memQueue) held(job *Job) (*Job, bool) {
	h, ok := q.active[job.ID]
	if !ok || h.Attempt != job.Attempt {
		return nil, false
	}
	return h, true
}

func (m *Memory) Ack(_ context.Context, job *Job) error {
	q := m.queue(job.Queue)
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.held(job); !ok {
		return ErrLeaseLost
	}
	delete(q.active, job.ID)
	return nil
}

func (m *Memory) Fail(_ context.Context, job *Job, cause error) (bool, error) {
	q := m.queue(job.Queue)
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.held(job)
	if !ok {
		return false, ErrLeaseLost
	}
	delete(q.active, job.ID)
	if cause != nil {
		job.LastError = cause.Error()
		h.LastError = job.LastError
	}

	if h.Exhausted() {
		q.dead = append(q.dead, h)
		return true, nil
	}

	q.delayed[h.ID] = time.AfterFunc(h.Backoff.Duration(h.Attempt), func() {
		q.mu.Lock()
		delete(q.delayed, h.ID)
		q.mu.Unlock()
		select {
		case q.tier(h.Priority) <- h:
		case <-m.closed:
		}
	})
	return false, nil
}

// Reclaim is a no-op: in-process leases end with the process.
func (m *Memory) Reclaim(context.Context, string) (Reclaimed, error) {
	return Reclaimed{}, nil
}

func (m *Memory) Stats(_ context.Context, name string) (Stats, error) {
	q := m.queue(name)
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:   len(q.high) + len(q.normal) + len(q.low),
		Delayed: len(q.delayed),
		Active:  len(q.active),
		Dead:    len(q.dead),
	}, nil
}

// Dead returns up to limit dead jobs, most recent first.
func (m *Memory) Dead(_ context.Context, name string, limit int) ([]*Job, error) {
	q := m.queue(name)
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]*Job, 0, limit)
	for i := len(q.dead) - 1; i >= 0 && len(out) < limit; i-- {
		j := *q.dead[i]
		out = append(out, &j)
	}
	return out, nil
}

// Depths returns the number of ready jobs in each priority tier.
func (m *Memory) Depths(name string) (high, normal, low int) {
	q := m.queue(name)
	return len(q.high), len(q.normal), len(q.low)
}

// Close wakes every blocked Reserve and cancels pending retries.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, q := range m.queues {
			q.mu.Lock()
			for id, t := range q.delayed {
				t.Stop()
				delete(q.delayed, id)
			}
			q.mu.Unlock()
		}
	})
	return nil
}
