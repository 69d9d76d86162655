package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lessq/lessq/internal/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrierBackoffThenBury(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	q, _ := newPollQueue(t, clock)

	r := NewRetrier[payload](q, RetryPolicy{
		MaxAttempts: 3,
		Backoff:     backoff.Config{BaseDelay: time.Minute, MaxDelay: time.Hour, Multiplier: 2},
	})
	r.now = clock.Now

	var attempts []uint32
	handler := r.Handler(func(ctx context.Context, j Job[payload]) error {
		attempts = append(attempts, j.Attempt)
		return errors.New("flaky")
	})

	require.NoError(t, q.Publish(ctx, "flaky", payload{1}))
	require.NoError(t, q.Process(ctx, handler))

	// First retry waits one base delay
	require.NoError(t, q.Process(ctx, handler))
	assert.Equal(t, []uint32{0}, attempts)

	clock.Advance(time.Minute)
	require.NoError(t, q.Process(ctx, handler))
	assert.Equal(t, []uint32{0, 1}, attempts)

	clock.Advance(time.Minute)
	require.NoError(t, q.Process(ctx, handler))
	assert.Equal(t, []uint32{0, 1}, attempts)

	clock.Advance(time.Minute)
	require.NoError(t, q.Process(ctx, handler))
	assert.Equal(t, []uint32{0, 1, 2}, attempts)

	buried, err := q.GetBuried(ctx, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, buried.Jobs, 1)
	assert.Equal(t, payload{1}, buried.Jobs[0].Data)

	// Every superseded delivery was disposed of
	processing, err := q.CountProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processing)
	processable, err := q.CountProcessable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processable)
}

func TestRetrierDeletesOnSuccess(t *testing.T) {
	ctx := context.Background()
	q, b := newPushQueue(t, newClock())
	r := NewRetrier[payload](q, DefaultRetryPolicy())

	require.NoError(t, q.Publish(ctx, "fine", payload{2}))

	err := q.Process(ctx, r.Handler(func(ctx context.Context, j Job[payload]) error {
		return q.StopProcessing()
	}))
	require.NoError(t, err)

	queued, unacked, acked := b.snapshot()
	assert.Empty(t, queued)
	assert.Equal(t, 0, unacked)
	assert.Len(t, acked, 1)
}

func TestRetrierSingleAttemptBuriesImmediately(t *testing.T) {
	ctx := context.Background()
	q, _ := newPushQueue(t, newClock())
	r := NewRetrier[payload](q, RetryPolicy{MaxAttempts: 1})

	require.NoError(t, q.Publish(ctx, "fragile", payload{3}))

	err := q.Process(ctx, r.Handler(func(ctx context.Context, j Job[payload]) error {
		q.StopProcessing()
		return errors.New("no luck")
	}))
	require.NoError(t, err)

	count, err := q.CountBuried(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
