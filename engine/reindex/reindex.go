// Package reindex walks the full catalog and re-runs the embedding
// pipeline for every product.
package reindex

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
)

// DefaultPageSize is how many products one catalog page holds.
const DefaultPageSize = 100

// Pager lists the catalog in pages.
type Pager interface {
	ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error)
}

// Runner runs the embedding workflow for one product.
type Runner interface {
	Run(ctx context.Context, productID string) error
}

// EntityError records one product's failure inside a bulk run.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// Result summarizes a bulk run.
type Result struct {
	Total    int           `json:"total"`
	Enqueued int           `json:"enqueued"`
	Failed   int           `json:"failed"`
	Errors   []EntityError `json:"errors,omitempty"`
}

// Reindexer drives bulk runs. The limiter paces workflow invocations so a
// full-catalog run does not overwhelm the embedding service.
type Reindexer struct {
	pager    Pager
	runner   Runner
	limiter  *rate.Limiter
	pageSize int
	log      *slog.Logger
}

// Option configures a Reindexer.
type Option func(*Reindexer)

// WithPageSize overrides the catalog page size.
func WithPageSize(n int) Option {
	return func(r *Reindexer) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithLimiter sets the pacing limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Reindexer) { r.limiter = l }
}

// New constructs a Reindexer. The default limiter allows 20 workflow runs
// per second with a small burst.
func New(pager Pager, runner Runner, log *slog.Logger, opts ...Option) *Reindexer {
	r := &Reindexer{
		pager:    pager,
		runner:   runner,
		limiter:  rate.NewLimiter(rate.Limit(20), 5),
		pageSize: DefaultPageSize,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks every catalog page and runs the workflow per product. One
// product's failure is recorded and does not abort the batch. Run stops
// early only when ctx is cancelled.
func (r *Reindexer) Run(ctx context.Context) (Result, error) {
	var res Result

	for offset := 0; ; offset += r.pageSize {
		page, err := r.pager.ListPage(ctx, offset, r.pageSize)
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			break
		}

		for _, p := range page {
			if err := r.limiter.Wait(ctx); err != nil {
				return res, err
			}
			res.Total++
			if err := r.runner.Run(ctx, p.ID); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, EntityError{EntityID: p.ID, Error: err.Error()})
				r.log.Error("reindex entity failed", "entity_id", p.ID, "error", err)
				continue
			}
			res.Enqueued++
		}

		if len(page) < r.pageSize {
			break
		}
	}

	r.log.Info("reindex finished", "total", res.Total, "enqueued", res.Enqueued, "failed", res.Failed)
	return res, nil
}
