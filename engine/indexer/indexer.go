// Package indexer consumes embedding jobs and writes them to the vector
// store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
	"github.com/CartwheelHQ/cartwheel-search/engine/queue"
	"github.com/CartwheelHQ/cartwheel-search/engine/semantic"
	"github.com/CartwheelHQ/cartwheel-search/pkg/metrics"
)

// Store is the slice of the vector store the worker needs.
type Store interface {
	Upsert(ctx context.Context, rec semantic.Record) error
}

// Worker applies embedding jobs to the vector store. Handle is safe for
// concurrent use and idempotent per entity id.
type Worker struct {
	store Store
	log   *slog.Logger

	indexed *metrics.Counter
	failed  *metrics.Counter
}

// New constructs a Worker.
func New(store Store, log *slog.Logger, reg *metrics.Registry) *Worker {
	return &Worker{
		store:   store,
		log:     log,
		indexed: reg.Counter("indexer_jobs_indexed_total", "Jobs written to the vector store."),
		failed:  reg.Counter("indexer_jobs_failed_total", "Jobs that failed processing."),
	}
}

// Handle processes one job. Validation failures are permanent and fail
// without touching the store; store failures are returned for retry.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	if err := domain.ValidateVector(job.Vector); err != nil {
		w.failed.Inc()
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}

	rec := semantic.Record{
		EntityID:    job.EntityID,
		Vector:      job.Vector,
		SourceText:  job.SourceText,
		Metadata:    job.Metadata,
		GeneratedAt: job.EnqueuedAt,
	}
	if err := w.store.Upsert(ctx, rec); err != nil {
		w.failed.Inc()
		return fmt.Errorf("upsert %s: %w", job.EntityID, err)
	}

	w.indexed.Inc()
	w.log.Info("indexed", "entity_id", job.EntityID, "job_id", job.JobID, "dims", len(job.Vector))
	return nil
}

// Start runs the queue consumer with the worker's handler until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context, q *queue.Queue, concurrency int) (*nats.Subscription, error) {
	return q.Consume(ctx, concurrency, w.Handle)
}
