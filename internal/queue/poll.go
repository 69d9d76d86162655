package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/codec"
	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/store"
	"github.com/rs/zerolog/log"
)

// PollConfig tunes the poll engine. Zero values fall back to defaults.
type PollConfig struct {
	Lease    time.Duration
	IdleWait time.Duration
	Now      func() time.Time
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Poll is the queue engine over a polled record table
type Poll[T any] struct {
	table store.Table
	codec codec.Codec[T]
	cfg   PollConfig
	run   runState
}

// NewPoll creates a poll engine
func NewPoll[T any](table store.Table, c codec.Codec[T], cfg PollConfig) *Poll[T] {
	return &Poll[T]{
		table: table,
		codec: c,
		cfg:   cfg.withDefaults(),
	}
}

func (q *Poll[T]) Publish(ctx context.Context, name string, data T, opts ...PublishOption) error {
	n, err := job.ParseName(name)
	if err != nil {
		return err
	}
	o, err := newPublishOptions(opts)
	if err != nil {
		return err
	}
	return q.insert(ctx, n, data, 0, o.priority, o.until)
}

func (q *Poll[T]) Republish(ctx context.Context, j Job[T], until time.Time, priority *job.Priority) error {
	p, err := resolvePriority(j.Priority, priority)
	if err != nil {
		return err
	}
	return q.insert(ctx, j.Name, j.Data, j.Attempt+1, p, &until)
}

func (q *Poll[T]) insert(ctx context.Context, name job.Name, data T, attempt uint32, p job.Priority, until *time.Time) error {
	payload, err := q.codec.Encode(data)
	if err != nil {
		return err
	}

	rec := &job.Record{
		State:    job.StateReady,
		Name:     name,
		Data:     payload,
		Attempt:  attempt,
		Priority: p,
		Until:    until,
	}
	id, err := q.table.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", name, err)
	}

	log.Debug().
		Int64("job_id", id).
		Str("name", string(name)).
		Uint32("attempt", attempt).
		Uint8("priority", uint8(p)).
		Msg("job published")
	return nil
}

// Process claims and handles jobs until none is due, then pauses for the
// idle wait and returns.
func (q *Poll[T]) Process(ctx context.Context, fn Handler[T]) error {
	stop, err := q.run.begin()
	if err != nil {
		return err
	}
	defer q.run.end()

	for {
		if stopped(stop) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		j, err := q.claim(ctx)
		if err != nil {
			return err
		}
		if j == nil {
			return q.idle(ctx, stop)
		}

		if err := fn(ctx, *j); err != nil {
			return fmt.Errorf("handle job %v: %w", j.ID, err)
		}
	}
}

func (q *Poll[T]) idle(ctx context.Context, stop <-chan struct{}) error {
	timer := time.NewTimer(q.cfg.IdleWait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claim selects the best eligible record and reserves it, reselecting when
// another consumer wins the row first. It returns nil when nothing is due.
func (q *Poll[T]) claim(ctx context.Context) (*Job[T], error) {
	for {
		now := q.cfg.Now()
		rec, err := q.table.Next(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("select job: %w", err)
		}
		if rec == nil {
			return nil, nil
		}

		j, err := q.hydrate(rec)
		if err != nil {
			return nil, err
		}

		won, err := q.table.Reserve(ctx, rec.ID, now, now.Add(q.cfg.Lease))
		if err != nil {
			return nil, fmt.Errorf("reserve job %d: %w", rec.ID, err)
		}
		if won {
			log.Debug().Int64("job_id", rec.ID).Uint32("attempt", rec.Attempt).Msg("job claimed")
			return j, nil
		}

		log.Debug().Int64("job_id", rec.ID).Msg("claim lost, reselecting")
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (q *Poll[T]) hydrate(rec *job.Record) (*Job[T], error) {
	data, err := q.codec.Decode(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decode job %d: %w", rec.ID, err)
	}
	return &Job[T]{
		ID:       RowID(rec.ID),
		Name:     rec.Name,
		Data:     data,
		Attempt:  rec.Attempt,
		Priority: rec.Priority,
		Until:    rec.Until,
	}, nil
}

func (q *Poll[T]) IsProcessing() bool {
	return q.run.active()
}

func (q *Poll[T]) StopProcessing() error {
	return q.run.requestStop()
}

func (q *Poll[T]) CountProcessing(ctx context.Context) (int, error) {
	n, err := q.table.CountReserved(ctx, q.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return n, nil
}

func (q *Poll[T]) CountProcessable(ctx context.Context) (int, error) {
	n, err := q.table.CountProcessable(ctx, q.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("count processable: %w", err)
	}
	return n, nil
}

func rowID(id ID) (int64, error) {
	row, ok := id.(RowID)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrForeignID, id)
	}
	return int64(row), nil
}

func (q *Poll[T]) Delete(ctx context.Context, id ID) error {
	row, err := rowID(id)
	if err != nil {
		return err
	}
	if err := q.table.Delete(ctx, row); err != nil {
		return fmt.Errorf("delete job %d: %w", row, err)
	}
	log.Debug().Int64("job_id", row).Msg("job deleted")
	return nil
}

// Bury parks j in place. It stays out of selection until reanimated.
func (q *Poll[T]) Bury(ctx context.Context, j Job[T]) error {
	row, err := rowID(j.ID)
	if err != nil {
		return err
	}
	if err := q.table.Bury(ctx, row); err != nil {
		return fmt.Errorf("bury job %d: %w", row, err)
	}
	log.Debug().Int64("job_id", row).Str("name", string(j.Name)).Msg("job buried")
	return nil
}

// Reanimate returns a buried job to ready. A nil until makes it due now.
func (q *Poll[T]) Reanimate(ctx context.Context, id RowID, until *time.Time) error {
	if err := q.table.Reanimate(ctx, int64(id), until); err != nil {
		return fmt.Errorf("reanimate job %d: %w", id, err)
	}
	log.Debug().Int64("job_id", int64(id)).Msg("job reanimated")
	return nil
}

func (q *Poll[T]) CountBuried(ctx context.Context) (int, error) {
	n, err := q.table.CountBuried(ctx)
	if err != nil {
		return 0, fmt.Errorf("count buried: %w", err)
	}
	return n, nil
}

func (q *Poll[T]) GetBuried(ctx context.Context, page Page) (Buried[T], error) {
	if err := page.Validate(); err != nil {
		return Buried[T]{}, err
	}

	recs, err := q.table.ListBuried(ctx, page.Offset(), page.Size)
	if err != nil {
		return Buried[T]{}, fmt.Errorf("list buried: %w", err)
	}
	total, err := q.CountBuried(ctx)
	if err != nil {
		return Buried[T]{}, err
	}

	jobs := make([]Job[T], 0, len(recs))
	for _, rec := range recs {
		j, err := q.hydrate(rec)
		if err != nil {
			return Buried[T]{}, err
		}
		jobs = append(jobs, *j)
	}
	return Buried[T]{Jobs: jobs, Total: total}, nil
}

var _ Queue[any] = (*Poll[any])(nil)
