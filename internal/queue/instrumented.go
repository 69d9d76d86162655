package queue

import (
	"context"
	"time"

	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/metrics"
)

// Instrumented records queue activity in the prometheus collectors
type Instrumented[T any] struct {
	Queue[T]
	name string
}

// Instrument wraps q, labelling its metrics with name
func Instrument[T any](q Queue[T], name string) *Instrumented[T] {
	return &Instrumented[T]{Queue: q, name: name}
}

func (q *Instrumented[T]) Publish(ctx context.Context, name string, data T, opts ...PublishOption) error {
	if err := q.Queue.Publish(ctx, name, data, opts...); err != nil {
		return err
	}
	metrics.JobsPublishedTotal.WithLabelValues(q.name, "new").Inc()
	return nil
}

func (q *Instrumented[T]) Republish(ctx context.Context, j Job[T], until time.Time, priority *job.Priority) error {
	if err := q.Queue.Republish(ctx, j, until, priority); err != nil {
		return err
	}
	metrics.JobsPublishedTotal.WithLabelValues(q.name, "retry").Inc()
	return nil
}

func (q *Instrumented[T]) Process(ctx context.Context, fn Handler[T]) error {
	return q.Queue.Process(ctx, func(ctx context.Context, j Job[T]) error {
		start := time.Now()
		err := fn(ctx, j)
		metrics.HandlerDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.JobsHandledTotal.WithLabelValues(q.name, outcome).Inc()
		return err
	})
}

func (q *Instrumented[T]) Delete(ctx context.Context, id ID) error {
	if err := q.Queue.Delete(ctx, id); err != nil {
		return err
	}
	metrics.JobsDeletedTotal.WithLabelValues(q.name).Inc()
	return nil
}

func (q *Instrumented[T]) Bury(ctx context.Context, j Job[T]) error {
	if err := q.Queue.Bury(ctx, j); err != nil {
		return err
	}
	metrics.JobsBuriedTotal.WithLabelValues(q.name).Inc()
	return nil
}

func (q *Instrumented[T]) Reanimate(ctx context.Context, id RowID, until *time.Time) error {
	if err := q.Queue.Reanimate(ctx, id, until); err != nil {
		return err
	}
	metrics.JobsReanimatedTotal.WithLabelValues(q.name).Inc()
	return nil
}

func (q *Instrumented[T]) CountProcessing(ctx context.Context) (int, error) {
	n, err := q.Queue.CountProcessing(ctx)
	if err == nil {
		metrics.JobsProcessing.WithLabelValues(q.name).Set(float64(n))
	}
	return n, err
}

func (q *Instrumented[T]) CountProcessable(ctx context.Context) (int, error) {
	n, err := q.Queue.CountProcessable(ctx)
	if err == nil {
		metrics.JobsProcessable.WithLabelValues(q.name).Set(float64(n))
	}
	return n, err
}

func (q *Instrumented[T]) CountBuried(ctx context.Context) (int, error) {
	n, err := q.Queue.CountBuried(ctx)
	if err == nil {
		metrics.JobsBuried.WithLabelValues(q.name).Set(float64(n))
	}
	return n, err
}

var _ Queue[any] = (*Instrumented[any])(nil)
