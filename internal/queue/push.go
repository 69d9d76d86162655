package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/broker"
	"github.com/lessq/lessq/internal/codec"
	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/store"
	"github.com/rs/zerolog/log"
)

// envelope is the message body the push engine publishes
type envelope struct {
	Name     string `json:"name"`
	Data     []byte `json:"data"`
	Attempt  uint32 `json:"attempt"`
	Priority uint8  `json:"priority"`
}

// PushConfig tunes the push engine. Zero values fall back to defaults.
type PushConfig struct {
	Now func() time.Time
}

// Push is the queue engine over a message broker. Buried jobs leave the broker
// for the archive.
type Push[T any] struct {
	broker  broker.Broker
	archive store.Archive
	codec   codec.Codec[T]
	now     func() time.Time
	run     runState
}

// NewPush creates a push engine
func NewPush[T any](b broker.Broker, archive store.Archive, c codec.Codec[T], cfg PushConfig) *Push[T] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Push[T]{
		broker:  b,
		archive: archive,
		codec:   c,
		now:     now,
	}
}

func (q *Push[T]) Publish(ctx context.Context, name string, data T, opts ...PublishOption) error {
	n, err := job.ParseName(name)
	if err != nil {
		return err
	}
	o, err := newPublishOptions(opts)
	if err != nil {
		return err
	}
	payload, err := q.codec.Encode(data)
	if err != nil {
		return err
	}
	return q.send(ctx, n, payload, 0, o.priority, o.until)
}

func (q *Push[T]) Republish(ctx context.Context, j Job[T], until time.Time, priority *job.Priority) error {
	p, err := resolvePriority(j.Priority, priority)
	if err != nil {
		return err
	}
	payload, err := q.codec.Encode(j.Data)
	if err != nil {
		return err
	}
	return q.send(ctx, j.Name, payload, j.Attempt+1, p, &until)
}

// send publishes an encoded payload, turning a future until into a broker delay
func (q *Push[T]) send(ctx context.Context, name job.Name, payload []byte, attempt uint32, p job.Priority, until *time.Time) error {
	body, err := json.Marshal(envelope{
		Name:     string(name),
		Data:     payload,
		Attempt:  attempt,
		Priority: uint8(p),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := broker.Message{Body: body, Priority: uint8(p)}
	if until != nil {
		if d := until.Sub(q.now()); d > 0 {
			msg.Delay = d
		}
	}
	if err := q.broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish job %s: %w", name, err)
	}

	log.Debug().
		Str("name", string(name)).
		Uint32("attempt", attempt).
		Uint8("priority", uint8(p)).
		Dur("delay", msg.Delay).
		Msg("job published")
	return nil
}

// Process hands broker deliveries to fn until stopped, the context ends or the
// delivery stream closes. A delivery that fails to decode stays unacknowledged
// and ends processing.
func (q *Push[T]) Process(ctx context.Context, fn Handler[T]) error {
	stop, err := q.run.begin()
	if err != nil {
		return err
	}
	defer q.run.end()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries, err := q.broker.Consume(consumeCtx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		if stopped(stop) {
			return nil
		}

		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fmt.Errorf("consume: %w", broker.ErrClosed)
			}

			j, err := q.decode(d)
			if err != nil {
				return err
			}
			log.Debug().Uint64("delivery", d.Tag).Uint32("attempt", j.Attempt).Msg("job delivered")

			if err := fn(ctx, j); err != nil {
				return fmt.Errorf("handle job %v: %w", j.ID, err)
			}
		}
	}
}

func (q *Push[T]) decode(d broker.Delivery) (Job[T], error) {
	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return Job[T]{}, fmt.Errorf("decode delivery %d: %w: %v", d.Tag, ErrEnvelope, err)
	}
	name, err := job.ParseName(env.Name)
	if err != nil {
		return Job[T]{}, fmt.Errorf("decode delivery %d: %w: %v", d.Tag, ErrEnvelope, err)
	}
	data, err := q.codec.Decode(env.Data)
	if err != nil {
		return Job[T]{}, fmt.Errorf("decode delivery %d: %w", d.Tag, err)
	}
	return Job[T]{
		ID:       DeliveryTag(d.Tag),
		Name:     name,
		Data:     data,
		Attempt:  env.Attempt,
		Priority: job.Priority(env.Priority),
	}, nil
}

func (q *Push[T]) IsProcessing() bool {
	return q.run.active()
}

func (q *Push[T]) StopProcessing() error {
	return q.run.requestStop()
}

func (q *Push[T]) CountProcessing(ctx context.Context) (int, error) {
	s, err := q.broker.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return s.Consumers, nil
}

func (q *Push[T]) CountProcessable(ctx context.Context) (int, error) {
	s, err := q.broker.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("count processable: %w", err)
	}
	return s.Messages, nil
}

// Delete acknowledges a delivery or removes an archive row
func (q *Push[T]) Delete(ctx context.Context, id ID) error {
	switch v := id.(type) {
	case DeliveryTag:
		if err := q.broker.Ack(ctx, uint64(v)); err != nil {
			return fmt.Errorf("ack job %v: %w", v, err)
		}
	case RowID:
		if err := q.archive.Delete(ctx, int64(v)); err != nil {
			return fmt.Errorf("delete job %v: %w", v, err)
		}
	default:
		return fmt.Errorf("%w: %v", ErrForeignID, id)
	}
	log.Debug().Stringer("job_id", id).Msg("job deleted")
	return nil
}

// Bury copies j into the archive and then releases its delivery
func (q *Push[T]) Bury(ctx context.Context, j Job[T]) error {
	switch j.ID.(type) {
	case DeliveryTag, RowID:
	default:
		return fmt.Errorf("%w: %v", ErrForeignID, j.ID)
	}

	payload, err := q.codec.Encode(j.Data)
	if err != nil {
		return err
	}
	id, err := q.archive.Insert(ctx, &job.Record{
		State:    job.StateBuried,
		Name:     j.Name,
		Data:     payload,
		Attempt:  j.Attempt,
		Priority: j.Priority,
	})
	if err != nil {
		return fmt.Errorf("bury job %v: %w", j.ID, err)
	}
	if err := q.Delete(ctx, j.ID); err != nil {
		return err
	}

	log.Debug().Stringer("job_id", j.ID).Int64("archive_id", id).Str("name", string(j.Name)).Msg("job buried")
	return nil
}

// Reanimate removes an archive row and republishes it as a new attempt. The row
// is only removed if the publish succeeds.
func (q *Push[T]) Reanimate(ctx context.Context, id RowID, until *time.Time) error {
	found, err := q.archive.Claim(ctx, int64(id), func(rec *job.Record) error {
		return q.send(ctx, rec.Name, rec.Data, rec.Attempt+1, rec.Priority, until)
	})
	if err != nil {
		return fmt.Errorf("reanimate job %d: %w", id, err)
	}
	if !found {
		log.Debug().Int64("job_id", int64(id)).Msg("reanimate: job not buried")
		return nil
	}
	log.Debug().Int64("job_id", int64(id)).Msg("job reanimated")
	return nil
}

func (q *Push[T]) CountBuried(ctx context.Context) (int, error) {
	n, err := q.archive.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count buried: %w", err)
	}
	return n, nil
}

func (q *Push[T]) GetBuried(ctx context.Context, page Page) (Buried[T], error) {
	if err := page.Validate(); err != nil {
		return Buried[T]{}, err
	}

	recs, err := q.archive.List(ctx, page.Offset(), page.Size)
	if err != nil {
		return Buried[T]{}, fmt.Errorf("list buried: %w", err)
	}
	total, err := q.CountBuried(ctx)
	if err != nil {
		return Buried[T]{}, err
	}

	jobs := make([]Job[T], 0, len(recs))
	for _, rec := range recs {
		data, err := q.codec.Decode(rec.Data)
		if err != nil {
			return Buried[T]{}, fmt.Errorf("decode job %d: %w", rec.ID, err)
		}
		jobs = append(jobs, Job[T]{
			ID:       RowID(rec.ID),
			Name:     rec.Name,
			Data:     data,
			Attempt:  rec.Attempt,
			Priority: rec.Priority,
		})
	}
	return Buried[T]{Jobs: jobs, Total: total}, nil
}

var _ Queue[any] = (*Push[any])(nil)
