// Package queue hands delivery work to workers. Each named queue has its own
// retry policy, priority tiers and dead list; jobs are leased to one worker at
// a time and may be attempted more than once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/collab-notify/internal/domain"
)

var (
	// ErrClosed is returned by Reserve after the queue has been closed.
	ErrClosed = errors.New("queue closed")
	// ErrLeaseLost means the job was reclaimed or finished by someone else.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrLeaseExpired is the last error of a job whose final attempt never
	// reported back before its lease ran out.
	ErrLeaseExpired = errors.New("job lease expired")
)

// Queue is the contract shared by the in-memory and Redis implementations.
type Queue interface {
	Enqueue(ctx context.Context, name, notificationID string, payload any, opts Options) (*Job, error)
	// Reserve blocks until a job is ready or ctx ends. The returned job has
	// Attempt already incremented and is leased to the caller.
	Reserve(ctx context.Context, name string) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Fail records a failed attempt. dead is true when attempts are exhausted
	// and the job will never run again.
	Fail(ctx context.Context, job *Job, cause error) (dead bool, err error)
	// Reclaim returns jobs whose lease expired to the ready set. Jobs that
	// were on their last attempt go to the dead list and are reported back.
	Reclaim(ctx context.Context, name string) (Reclaimed, error)
	Stats(ctx context.Context, name string) (Stats, error)
	Dead(ctx context.Context, name string, limit int) ([]*Job, error)
	Close() error
}

// BackoffType names the delay curve between attempts.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff is the retry delay policy carried by every job.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Exponential doubles delay after every attempt.
func Exponential(delay time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Delay: delay}
}

// Duration is the wait before the attempt following attempt number n
// (1-based): delay * 2^(n-1) for exponential, delay for fixed.
func (b Backoff) Duration(attempt int) time.Duration {
	if b.Type != BackoffExponential || attempt <= 1 {
		return b.Delay
	}
	shift := min(attempt-1, 30)
	return b.Delay * time.Duration(1<<shift)
}

// Options configure a single enqueue.
type Options struct {
	Attempts int
	Backoff  Backoff
	Priority domain.Priority
}

func (o Options) normalize() Options {
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if !o.Priority.IsValid() {
		o.Priority = domain.PriorityNormal
	}
	return o
}

// Job is one unit of queued work for one notification.
type Job struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	NotificationID string          `json:"notificationId"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"maxAttempts"`
	Backoff        Backoff         `json:"backoff"`
	Priority       domain.Priority `json:"priority"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	LastError      string          `json:"lastError,omitempty"`
}

func newJob(name, notificationID string, payload any, opts Options) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	opts = opts.normalize()
	return &Job{
		ID:             uuid.NewString(),
		Queue:          name,
		NotificationID: notificationID,
		Payload:        raw,
		MaxAttempts:    opts.Attempts,
		Backoff:        opts.Backoff,
		Priority:       opts.Priority,
		EnqueuedAt:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	return nil
}

// Exhausted reports whether this attempt was the last one allowed.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Reclaimed is the outcome of one Reclaim pass.
type Reclaimed struct {
	Requeued int
	Dead     []*Job
}

// Stats is a point-in-time count of jobs by state.
type Stats struct {
	Ready   int `json:"ready"`
	Delayed int `json:"delayed"`
	Active  int `json:"active"`
	Dead    int `json:"dead"`
}

// tiers lists priorities in the order they are served.
var tiers = []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow}
