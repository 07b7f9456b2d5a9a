// Package workflow runs the embedding pipeline as compensating step
// sequences driven by catalog events.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
)

// Step is one unit of a workflow. Compensate, when set, undoes the step's
// side effects if a later step fails.
type Step struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// RunSaga executes steps in order. On failure it runs the compensations of
// all previously completed steps in reverse order, then returns the step
// error. Compensation errors are logged, not retried.
func RunSaga(ctx context.Context, log *slog.Logger, name string, steps []Step) error {
	ctx, span := otel.Tracer("engine/workflow").Start(ctx, name)
	defer span.End()

	var done []Step
	for _, step := range steps {
		stepCtx, stepSpan := otel.Tracer("engine/workflow").Start(ctx, name+"."+step.Name)
		err := step.Run(stepCtx)
		stepSpan.End()
		if err != nil {
			compensate(ctx, log, name, done)
			return fmt.Errorf("%s: step %s: %w", name, step.Name, err)
		}
		done = append(done, step)
	}
	return nil
}

func compensate(ctx context.Context, log *slog.Logger, name string, done []Step) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			log.Error("compensation failed", "workflow", name, "step", step.Name, "error", err)
		}
	}
}
