package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lessq/lessq/internal/broker"
	"github.com/lessq/lessq/internal/codec"
	"github.com/lessq/lessq/internal/store/pebblestore"
	"github.com/stretchr/testify/require"
)

type payload struct {
	N int `json:"n"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newPebble(t *testing.T) *pebblestore.Store {
	s, err := pebblestore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPollQueue(t *testing.T, clock *fakeClock) (*Poll[payload], *pebblestore.Table) {
	table := newPebble(t).Table()
	q := NewPoll[payload](table, codec.JSON[payload]{}, PollConfig{
		IdleWait: time.Millisecond,
		Now:      clock.Now,
	})
	return q, table
}

// memBroker delivers undelayed messages by priority, then publish order
type memBroker struct {
	mu         sync.Mutex
	queued     []broker.Message
	unacked    map[uint64]broker.Message
	acked      []uint64
	tag        uint64
	consumers  int
	publishErr error
	notify     chan struct{}
}

func newMemBroker() *memBroker {
	return &memBroker{
		unacked: make(map[uint64]broker.Message),
		notify:  make(chan struct{}, 1),
	}
}

func (b *memBroker) Publish(ctx context.Context, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}
	b.queued = append(b.queued, msg)
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *memBroker) pop() (broker.Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	best := -1
	for i, m := range b.queued {
		if m.Delay > 0 {
			continue
		}
		if best < 0 || m.Priority > b.queued[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return broker.Delivery{}, false
	}

	msg := b.queued[best]
	b.queued = append(b.queued[:best], b.queued[best+1:]...)
	b.tag++
	b.unacked[b.tag] = msg
	return broker.Delivery{Tag: b.tag, Body: msg.Body}, true
}

// requeue returns a delivery nobody received to the front of the queue, as the
// redis and amqp brokers do when a consumer stops
func (b *memBroker) requeue(tag uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := b.unacked[tag]
	delete(b.unacked, tag)
	b.queued = append([]broker.Message{msg}, b.queued...)
}

func (b *memBroker) Consume(ctx context.Context) (<-chan broker.Delivery, error) {
	b.mu.Lock()
	b.consumers++
	b.mu.Unlock()

	out := make(chan broker.Delivery)
	go func() {
		defer func() {
			b.mu.Lock()
			b.consumers--
			b.mu.Unlock()
			close(out)
		}()

		for {
			if ctx.Err() != nil {
				return
			}
			if d, ok := b.pop(); ok {
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(d.Tag)
					return
				}
				continue
			}
			select {
			case <-b.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *memBroker) Ack(ctx context.Context, tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.unacked[tag]; ok {
		delete(b.unacked, tag)
		b.acked = append(b.acked, tag)
	}
	return nil
}

func (b *memBroker) Stats(ctx context.Context) (broker.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return broker.Stats{Messages: len(b.queued), Consumers: b.consumers}, nil
}

func (b *memBroker) Close() error { return nil }

func (b *memBroker) snapshot() (queued []broker.Message, unacked int, acked []uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Message(nil), b.queued...), len(b.unacked), append([]uint64(nil), b.acked...)
}

// otherID is an id kind no engine can address
type otherID struct{}

func (otherID) isID() {}
func (otherID) String() string { return "other" }
