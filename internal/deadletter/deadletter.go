// Package deadletter publishes jobs that exhausted their attempts so they can
// be inspected or replayed outside the pipeline.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/notifyhub/collab-notify/internal/queue"
)

// DefaultTopic receives every dead notification job.
const DefaultTopic = "notification.dlq"

// Publisher receives jobs the queue gave up on.
type Publisher interface {
	Publish(ctx context.Context, job *queue.Job, cause error) error
	Close() error
}

// Record is the message value written for a dead job.
type Record struct {
	JobID          string          `json:"jobId"`
	Queue          string          `json:"queue"`
	NotificationID string          `json:"notificationId"`
	Attempts       int             `json:"attempts"`
	Error          string          `json:"error"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	DeadAt         time.Time       `json:"deadAt"`
}

// NewRecord builds the message for job.
func NewRecord(job *queue.Job, cause error, now time.Time) Record {
	msg := job.LastError
	if cause != nil {
		msg = cause.Error()
	}
	return Record{
		JobID:          job.ID,
		Queue:          job.Queue,
		NotificationID: job.NotificationID,
		Attempts:       job.Attempt,
		Error:          msg,
		Payload:        job.Payload,
		EnqueuedAt:     job.EnqueuedAt,
		DeadAt:         now.UTC(),
	}
}

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes dead jobs to a topic keyed by notification id, so every
// record for one notification lands on the same partition.
type Kafka struct {
	w   MessageWriter
	now func() time.Time
}

// NewKafka returns a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	return NewKafkaWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaWriter wraps an existing writer.
func NewKafkaWriter(w MessageWriter) *Kafka {
	return &Kafka{w: w, now: time.Now}
}

func (k *Kafka) Publish(ctx context.Context, job *queue.Job, cause error) error {
	value, err := json.Marshal(NewRecord(job, cause, k.now()))
	if err != nil {
		return fmt.Errorf("encode dead job %s: %w", job.ID, err)
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.NotificationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "queue", Value: []byte(job.Queue)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish dead job %s: %w", job.ID, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Nop drops everything. Used when no brokers are configured; dead jobs stay
// readable through queue.Queue.Dead.
type Nop struct{}

func (Nop) Publish(context.Context, *queue.Job, error) error { return nil }
func (Nop) Close() error                                      { return nil }

var (
	_ Publisher = (*Kafka)(nil)
	_ Publisher = Nop{}
)
