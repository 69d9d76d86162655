package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/backoff"
	"github.com/rs/zerolog/log"
)

// RetryPolicy decides what happens to a job whose handler failed
type RetryPolicy struct {
	// MaxAttempts is the number of deliveries before a job is buried
	MaxAttempts uint32
	Backoff     backoff.Config
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     backoff.DefaultConfig(),
	}
}

// Retrier disposes of every handled job: deleted on success, republished with
// backoff on failure, buried once attempts run out.
type Retrier[T any] struct {
	q      Queue[T]
	policy RetryPolicy
	now    func() time.Time
}

func NewRetrier[T any](q Queue[T], policy RetryPolicy) *Retrier[T] {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	return &Retrier[T]{q: q, policy: policy, now: time.Now}
}

// Handler adapts fn for Process. Errors from fn are absorbed by the retry
// policy; only failures to dispose of the job stop processing.
func (r *Retrier[T]) Handler(fn func(ctx context.Context, j Job[T]) error) Handler[T] {
	return func(ctx context.Context, j Job[T]) error {
		if err := fn(ctx, j); err != nil {
			return r.Fail(ctx, j, err)
		}
		return r.q.Delete(ctx, j.ID)
	}
}

// Fail republishes j after a backoff delay, or buries it when this delivery
// was its last allowed attempt
func (r *Retrier[T]) Fail(ctx context.Context, j Job[T], cause error) error {
	delivery := j.Attempt + 1

	if delivery >= r.policy.MaxAttempts {
		log.Warn().Err(cause).
			Stringer("job_id", j.ID).
			Str("name", string(j.Name)).
			Uint32("attempt", delivery).
			Msg("job failed permanently, burying")
		return r.q.Bury(ctx, j)
	}

	until := r.policy.Backoff.Until(r.now(), delivery)
	log.Warn().Err(cause).
		Stringer("job_id", j.ID).
		Str("name", string(j.Name)).
		Uint32("attempt", delivery).
		Time("retry_at", until).
		Msg("job failed, retrying")

	if err := r.q.Republish(ctx, j, until, nil); err != nil {
		return fmt.Errorf("retry job %v: %w", j.ID, err)
	}
	return r.q.Delete(ctx, j.ID)
}
