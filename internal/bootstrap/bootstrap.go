// Package bootstrap assembles a queue engine and its backing services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/lessq/lessq/internal/broker"
	"github.com/lessq/lessq/internal/broker/amqpbroker"
	"github.com/lessq/lessq/internal/broker/redisbroker"
	"github.com/lessq/lessq/internal/codec"
	"github.com/lessq/lessq/internal/config"
	"github.com/lessq/lessq/internal/queue"
	"github.com/lessq/lessq/internal/store"
	"github.com/lessq/lessq/internal/store/pebblestore"
	"github.com/lessq/lessq/internal/store/sqlstore"
	"github.com/rs/zerolog/log"
)

// Runtime is an assembled queue together with the connections it owns
type Runtime[T any] struct {
	Queue   queue.Queue[T]
	closers []func() error
}

// Close releases connections in reverse order of opening
func (r *Runtime[T]) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

type storage struct {
	table   store.Table
	archive store.Archive
}

// Open builds the configured engine. The returned queue is instrumented and
// labelled with cfg.Queue.Name.
func Open[T any](ctx context.Context, cfg *config.Config, c codec.Codec[T]) (*Runtime[T], error) {
	rt := &Runtime[T]{}

	st, err := rt.openStorage(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var q queue.Queue[T]
	switch cfg.Queue.Engine {
	case config.EnginePoll:
		q = queue.NewPoll[T](st.table, c, queue.PollConfig{
			Lease:    cfg.Queue.Lease,
			IdleWait: cfg.Queue.IdleWait,
		})
	case config.EnginePush:
		b, err := openBroker(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, b.Close)
		q = queue.NewPush[T](b, st.archive, c, queue.PushConfig{})
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown engine %q", cfg.Queue.Engine)
	}

	rt.Queue = queue.Instrument(q, cfg.Queue.Name)
	log.Info().
		Str("queue", cfg.Queue.Name).
		Str("engine", cfg.Queue.Engine).
		Str("store", cfg.Queue.Store).
		Msg("queue ready")
	return rt, nil
}

func (r *Runtime[T]) openStorage(ctx context.Context, cfg *config.Config) (storage, error) {
	switch cfg.Queue.Store {
	case config.StoreSQL:
		s, err := OpenSQL(ctx, cfg.SQL)
		if err != nil {
			return storage{}, err
		}
		r.closers = append(r.closers, s.Close)
		return storage{table: s.Table(), archive: s.Archive()}, nil
	case config.StorePebble:
		s, err := pebblestore.New(cfg.Pebble.Path)
		if err != nil {
			return storage{}, err
		}
		r.closers = append(r.closers, s.Close)
		return storage{table: s.Table(), archive: s.Archive()}, nil
	default:
		return storage{}, fmt.Errorf("unknown store %q", cfg.Queue.Store)
	}
}

// OpenSQL connects to the configured database, creating the schema when enabled
func OpenSQL(ctx context.Context, cfg config.SQLConfig) (*sqlstore.Store, error) {
	s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func openBroker(ctx context.Context, cfg *config.Config) (broker.Broker, error) {
	switch cfg.Queue.Broker {
	case config.BrokerAMQP:
		return amqpbroker.Dial(cfg.AMQP)
	case config.BrokerRedis:
		return redisbroker.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Queue.Broker)
	}
}
