// Package queue implements the durable, at-least-once indexing job queue on
// NATS. It decouples the embedding workflow from index writes: failed jobs
// are redelivered with exponential backoff and dead-lettered after the retry
// budget is exhausted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/CartwheelHQ/cartwheel-search/pkg/natsutil"
)

const (
	// Subject is the routing key for indexing jobs.
	Subject = "embedding.index"
	// DLQSubject receives jobs that exhausted their retry budget.
	DLQSubject = "embedding.index.dlq"

	// DefaultMaxAttempts before a job is dead-lettered.
	DefaultMaxAttempts = 3
	// DefaultConcurrency is the consumer pool size.
	DefaultConcurrency = 5
	// DefaultBackoffBase is the first redelivery delay; it doubles per attempt.
	DefaultBackoffBase = 2 * time.Second
)

// Job is the immutable payload carried from enqueue to successful processing
// or dead-lettering. The attempt count travels in message headers, not here.
type Job struct {
	JobID      string         `json:"job_id"`
	EntityID   string         `json:"entity_id"`
	SourceText string         `json:"source_text"`
	Vector     []float32      `json:"vector"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// DeadLetter is published to the DLQ subject after retry exhaustion.
type DeadLetter struct {
	Job      Job    `json:"job"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Handler processes one job. A non-nil error consumes one retry attempt.
type Handler func(ctx context.Context, job Job) error

// Conn is the minimal slice of *nats.Conn the queue needs.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// Queue is a NATS-backed indexing queue.
type Queue struct {
	nc          Conn
	subject     string
	dlqSubject  string
	maxAttempts int
	backoffBase time.Duration
	log         *slog.Logger
	afterFunc   func(time.Duration, func()) *time.Timer // test seam
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithBackoffBase overrides the first redelivery delay.
func WithBackoffBase(d time.Duration) Option {
	return func(q *Queue) { q.backoffBase = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithSubjects overrides the job and DLQ subjects.
func WithSubjects(subject, dlq string) Option {
	return func(q *Queue) {
		q.subject = subject
		q.dlqSubject = dlq
	}
}

// New creates a Queue on the given connection.
func New(nc Conn, opts ...Option) *Queue {
	q := &Queue{
		nc:          nc,
		subject:     Subject,
		dlqSubject:  DLQSubject,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		log:         slog.Default(),
		afterFunc:   time.AfterFunc,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue publishes a job for indexing and returns its job id. Jobs for the
// same entity are not coalesced; the worker's upsert by entity id makes
// duplicates idempotent.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	msg, err := natsutil.NewMsg(ctx, q.subject, job)
	if err != nil {
		return "", fmt.Errorf("queue: encode job: %w", err)
	}
	natsutil.SetAttempts(msg, 1)
	if err := q.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("queue: publish job %s: %w", job.JobID, err)
	}
	return job.JobID, nil
}

// Consume starts a pool of concurrency handlers draining the queue until ctx
// is cancelled. Delivery is at-least-once: a failing handler triggers a
// delayed redelivery with an incremented attempt header.
func (q *Queue) Consume(ctx context.Context, concurrency int, h Handler) (*nats.Subscription, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	ch := make(chan *nats.Msg, 64)
	sub, err := q.nc.ChanSubscribe(q.subject, ch)
	if err != nil {
		return nil, fmt.Errorf("queue: subscribe %s: %w", q.subject, err)
	}

	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					q.process(msg, h)
				}
			}
		}()
	}
	return sub, nil
}

func (q *Queue) process(msg *nats.Msg, h Handler) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.log.Error("queue: drop malformed job", "error", err)
		return
	}

	attempts := natsutil.Attempts(msg)
	ctx := natsutil.ExtractContext(msg)

	err := h(ctx, job)
	if err == nil {
		q.log.Info("queue: job done", "job_id", job.JobID, "entity_id", job.EntityID, "attempts", attempts)
		return
	}

	if attempts >= q.maxAttempts {
		q.deadLetter(ctx, job, err, attempts)
		return
	}

	delay := Backoff(attempts, q.backoffBase)
	q.log.Warn("queue: job failed, scheduling retry",
		"job_id", job.JobID,
		"entity_id", job.EntityID,
		"attempt", attempts,
		"delay", delay,
		"error", err,
	)
	data := msg.Data
	next := attempts + 1
	q.afterFunc(delay, func() {
		retry := nats.NewMsg(q.subject)
		retry.Data = data
		natsutil.SetAttempts(retry, next)
		if err := q.nc.PublishMsg(retry); err != nil {
			q.log.Error("queue: retry publish failed", "job_id", job.JobID, "error", err)
		}
	})
}

// deadLetter reports a job that exhausted its retry budget. Never silently
// dropped: it is published to the DLQ subject and logged.
func (q *Queue) deadLetter(ctx context.Context, job Job, cause error, attempts int) {
	q.log.Error("queue: job dead-lettered",
		"job_id", job.JobID,
		"entity_id", job.EntityID,
		"attempts", attempts,
		"error", cause,
	)
	dl := DeadLetter{Job: job, Error: cause.Error(), Attempts: attempts}
	msg, err := natsutil.NewMsg(ctx, q.dlqSubject, dl)
	if err != nil {
		q.log.Error("queue: DLQ encode failed", "job_id", job.JobID, "error", err)
		return
	}
	if err := q.nc.PublishMsg(msg); err != nil {
		q.log.Error("queue: DLQ publish failed", "job_id", job.JobID, "error", err)
	}
}

// Backoff returns the redelivery delay after the given failed attempt:
// base, 2*base, 4*base, ...
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
