// Package redisbroker pushes queue messages through Redis sorted sets.
//
// Ready messages live in a sorted set scored by priority and publish order, so
// ZPOPMAX hands out the highest priority, oldest message first. Delayed messages
// wait in a second sorted set scored by due time until a consumer promotes them.
//
// Consumers heartbeat into a sorted set. A message popped by a consumer whose
// heartbeat went stale is moved back to the ready set by the next live consumer.
package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lessq/lessq/internal/broker"
	r "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ broker.Broker = (*Broker)(nil)

// priorityWeight keeps every priority band above all sequence numbers of the band below
const priorityWeight = 1e15

// popScript moves the best ready message to the unacked hash in one step.
// KEYS: ready, messages, unacked. ARGV: consumer.
var popScript = r.NewScript(`
local popped = redis.call('ZPOPMAX', KEYS[1])
if #popped == 0 then
	return false
end
local id = popped[1]
local value = redis.call('HGET', KEYS[2], id)
if not value then
	return {id, ''}
end
redis.call('HSET', KEYS[3], id, ARGV[1])
return {id, value}
`)

// reclaimScript returns messages held by stale consumers to the ready set.
// KEYS: unacked, consumers, messages, ready. ARGV: stale-before ms, priority weight.
var reclaimScript = r.NewScript(`
local entries = redis.call('HGETALL', KEYS[1])
local moved = 0
for i = 1, #entries, 2 do
	local id, owner = entries[i], entries[i + 1]
	local beat = redis.call('ZSCORE', KEYS[2], owner)
	if not beat or tonumber(beat) < tonumber(ARGV[1]) then
		redis.call('HDEL', KEYS[1], id)
		local value = redis.call('HGET', KEYS[3], id)
		if value then
			local score = string.byte(value, 1) * tonumber(ARGV[2]) - tonumber(id)
			redis.call('ZADD', KEYS[4], string.format('%.0f', score), id)
			moved = moved + 1
		end
	end
end
return moved
`)

// Config holds connection and key settings
type Config struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
	// PollTimeout is the wait after a poll found nothing ready
	PollTimeout  time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	PromoteBatch int64         `yaml:"promote_batch" env:"PROMOTE_BATCH"`
	// ConsumerTTL is how long a consumer may miss heartbeats before its messages are reclaimed
	ConsumerTTL time.Duration `yaml:"consumer_ttl" env:"CONSUMER_TTL"`
}

// DefaultConfig returns local defaults
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Prefix:       "lessq",
		PollTimeout:  time.Second,
		PromoteBatch: 100,
		ConsumerTTL:  30 * time.Second,
	}
}

// Broker implements broker.Broker on a Redis client
type Broker struct {
	rdb *r.Client
	cfg Config
}

// popped is a delivery plus what is needed to put it back
type popped struct {
	broker.Delivery
	priority uint8
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config) (*Broker, error) {
	rdb := r.NewClient(&r.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(rdb, cfg), nil
}

// NewWithClient wraps an existing client
func NewWithClient(rdb *r.Client, cfg Config) *Broker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.PromoteBatch <= 0 {
		cfg.PromoteBatch = 100
	}
	if cfg.ConsumerTTL <= 0 {
		cfg.ConsumerTTL = 30 * time.Second
	}
	return &Broker{rdb: rdb, cfg: cfg}
}

func (b *Broker) key(name string) string {
	return b.cfg.Prefix + ":" + name
}

func score(priority uint8, seq uint64) float64 {
	return float64(priority)*priorityWeight - float64(seq)
}

// Publish stores the body and schedules the message as ready or delayed
func (b *Broker) Publish(ctx context.Context, msg broker.Message) error {
	seq, err := b.rdb.Incr(ctx, b.key("seq")).Uint64()
	if err != nil {
		return fmt.Errorf("failed to allocate message id: %w", err)
	}
	member := strconv.FormatUint(seq, 10)

	// First byte carries the priority so promotion can rebuild the ready score
	value := make([]byte, 0, len(msg.Body)+1)
	value = append(value, msg.Priority)
	value = append(value, msg.Body...)

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.key("messages"), member, value)
	if msg.Delay > 0 {
		due := time.Now().Add(msg.Delay).UnixMilli()
		pipe.ZAdd(ctx, b.key("delayed"), r.Z{Score: float64(due), Member: member})
	} else {
		pipe.ZAdd(ctx, b.key("ready"), r.Z{Score: score(msg.Priority, seq), Member: member})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish message %d: %w", seq, err)
	}
	return nil
}

// promoteDue moves delayed messages whose due time passed into the ready set
func (b *Broker) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := b.rdb.ZRangeByScore(ctx, b.key("delayed"), &r.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: b.cfg.PromoteBatch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}

	pipe := b.rdb.TxPipeline()
	for _, id := range ids {
		seq, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt message id %q: %w", id, err)
		}
		value, err := b.rdb.HGet(ctx, b.key("messages"), id).Bytes()
		if errors.Is(err, r.Nil) {
			pipe.ZRem(ctx, b.key("delayed"), id)
			continue
		}
		if err != nil {
			return err
		}
		if len(value) == 0 {
			return fmt.Errorf("corrupt message %s: empty value", id)
		}
		pipe.ZAdd(ctx, b.key("ready"), r.Z{Score: score(value[0], seq), Member: id})
		pipe.ZRem(ctx, b.key("delayed"), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Consume registers a consumer and pops messages until ctx ends.
//
// A popped message is recorded in the unacked hash until Ack. A message popped
// but not yet handed over when ctx ends goes back to the ready set; messages of
// consumers that stopped heartbeating are reclaimed by live ones.
func (b *Broker) Consume(ctx context.Context) (<-chan broker.Delivery, error) {
	consumer := uuid.NewString()
	if err := b.heartbeat(ctx, consumer); err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	if err := b.reclaim(ctx, time.Now()); err != nil {
		log.Warn().Err(err).Str("consumer", consumer).Msg("failed to reclaim stale messages")
	}

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		defer b.rdb.ZRem(context.WithoutCancel(ctx), b.key("consumers"), consumer)

		beat := time.NewTicker(b.cfg.ConsumerTTL / 3)
		defer beat.Stop()
		lastReclaim := time.Now()

		for ctx.Err() == nil {
			if err := b.heartbeat(ctx, consumer); err != nil {
				b.logFailure(ctx, err, consumer)
				return
			}
			if time.Since(lastReclaim) >= b.cfg.ConsumerTTL {
				if err := b.reclaim(ctx, time.Now()); err != nil {
					b.logFailure(ctx, err, consumer)
					return
				}
				lastReclaim = time.Now()
			}

			d, ok, err := b.next(ctx, consumer)
			if err != nil {
				b.logFailure(ctx, err, consumer)
				return
			}
			if !ok {
				wait := time.NewTimer(b.cfg.PollTimeout)
				select {
				case <-wait.C:
				case <-ctx.Done():
					wait.Stop()
				}
				continue
			}

			if !b.hand(ctx, out, d, beat.C, consumer) {
				if err := b.requeue(context.WithoutCancel(ctx), d); err != nil {
					log.Error().Err(err).Uint64("message", d.Tag).Msg("failed to requeue undelivered message")
				}
				return
			}
		}
	}()

	log.Debug().Str("consumer", consumer).Msg("consumer started")
	return out, nil
}

// hand blocks until d is taken or ctx ends, heartbeating while it waits
func (b *Broker) hand(ctx context.Context, out chan<- broker.Delivery, d popped, beat <-chan time.Time, consumer string) bool {
	for {
		select {
		case out <- d.Delivery:
			return true
		case <-ctx.Done():
			return false
		case <-beat:
			if err := b.heartbeat(ctx, consumer); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("consumer", consumer).Msg("consumer heartbeat failed")
			}
		}
	}
}

func (b *Broker) logFailure(ctx context.Context, err error, consumer string) {
	if ctx.Err() == nil {
		log.Error().Err(err).Str("consumer", consumer).Msg("redis consume failed")
	}
}

func (b *Broker) heartbeat(ctx context.Context, consumer string) error {
	return b.rdb.ZAdd(ctx, b.key("consumers"), r.Z{Score: float64(time.Now().UnixMilli()), Member: consumer}).Err()
}

// reclaim moves messages held by consumers silent for ConsumerTTL back to ready
func (b *Broker) reclaim(ctx context.Context, now time.Time) error {
	staleBefore := now.Add(-b.cfg.ConsumerTTL).UnixMilli()
	moved, err := reclaimScript.Run(ctx, b.rdb,
		[]string{b.key("unacked"), b.key("consumers"), b.key("messages"), b.key("ready")},
		staleBefore, int64(priorityWeight),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to reclaim messages: %w", err)
	}
	if moved > 0 {
		log.Info().Int("messages", moved).Msg("reclaimed messages from stale consumers")
	}
	// Forget consumers that are long gone
	return b.rdb.ZRemRangeByScore(ctx, b.key("consumers"), "-inf", "("+strconv.FormatInt(staleBefore, 10)).Err()
}

// requeue returns a popped, undelivered message to the ready set with its original score
func (b *Broker) requeue(ctx context.Context, d popped) error {
	id := strconv.FormatUint(d.Tag, 10)
	pipe := b.rdb.TxPipeline()
	pipe.ZAdd(ctx, b.key("ready"), r.Z{Score: score(d.priority, d.Tag), Member: id})
	pipe.HDel(ctx, b.key("unacked"), id)
	_, err := pipe.Exec(ctx)
	return err
}

// next promotes due messages and pops the best ready one, if any
func (b *Broker) next(ctx context.Context, consumer string) (popped, bool, error) {
	if err := b.promoteDue(ctx, time.Now()); err != nil {
		return popped{}, false, fmt.Errorf("failed to promote delayed messages: %w", err)
	}

	res, err := popScript.Run(ctx, b.rdb,
		[]string{b.key("ready"), b.key("messages"), b.key("unacked")},
		consumer,
	).StringSlice()
	if errors.Is(err, r.Nil) {
		return popped{}, false, nil
	}
	if err != nil {
		return popped{}, false, err
	}
	if len(res) != 2 {
		return popped{}, false, fmt.Errorf("unexpected pop reply of %d elements", len(res))
	}

	id, value := res[0], res[1]
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return popped{}, false, fmt.Errorf("corrupt message id %q: %w", id, err)
	}
	if value == "" {
		// Acked while still queued
		return popped{}, false, nil
	}
	return popped{
		Delivery: broker.Delivery{Tag: seq, Body: []byte(value[1:])},
		priority: value[0],
	}, true, nil
}

// Ack drops the message body and its unacked marker
func (b *Broker) Ack(ctx context.Context, tag uint64) error {
	id := strconv.FormatUint(tag, 10)
	pipe := b.rdb.TxPipeline()
	pipe.HDel(ctx, b.key("unacked"), id)
	pipe.HDel(ctx, b.key("messages"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message %d: %w", tag, err)
	}
	return nil
}

// Stats counts ready messages and consumers with a live heartbeat
func (b *Broker) Stats(ctx context.Context) (broker.Stats, error) {
	live := time.Now().Add(-b.cfg.ConsumerTTL).UnixMilli()
	pipe := b.rdb.Pipeline()
	ready := pipe.ZCard(ctx, b.key("ready"))
	consumers := pipe.ZCount(ctx, b.key("consumers"), strconv.FormatInt(live, 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return broker.Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return broker.Stats{Messages: int(ready.Val()), Consumers: int(consumers.Val())}, nil
}

// Close closes the client
func (b *Broker) Close() error {
	return b.rdb.Close()
}
