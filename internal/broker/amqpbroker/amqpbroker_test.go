package amqpbroker

import (
	"context"
	"sync"
	"testing"

	"github.com/lessq/lessq/internal/broker"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestQueueArgs(t *testing.T) {
	b := &Broker{cfg: DefaultConfig()}
	assert.Equal(t, amqp.Table{"x-max-priority": int32(5)}, b.queueArgs())

	b.cfg.DeadLetterExchange = "delayed"
	args := b.queueArgs()
	assert.Equal(t, "delayed", args["x-dead-letter-exchange"])
	assert.NoError(t, args.Validate())
}

func TestAckUnknownTagIsNoop(t *testing.T) {
	// No channel is needed: unknown tags never reach the wire
	b := &Broker{cfg: DefaultConfig(), pending: map[uint64]struct{}{}}
	assert.NoError(t, b.Ack(context.Background(), 99))
}

type recordingAcker struct {
	mu       sync.Mutex
	requeued []uint64
}

func (a *recordingAcker) Ack(tag uint64, multiple bool) error { return nil }

func (a *recordingAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued = append(a.requeued, tag)
	}
	return nil
}

func (a *recordingAcker) Reject(tag uint64, requeue bool) error { return nil }

func TestStopRequeuesUndelivered(t *testing.T) {
	b := &Broker{cfg: DefaultConfig(), pending: map[uint64]struct{}{}}
	acker := &recordingAcker{}

	deliveries := make(chan amqp.Delivery, 3)
	for tag := uint64(1); tag <= 3; tag++ {
		deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: []byte("job")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan broker.Delivery)
	done := make(chan bool)
	go func() { done <- b.forward(ctx, deliveries, out) }()

	first := <-out
	assert.Equal(t, uint64(1), first.Tag)
	cancel()
	assert.True(t, <-done)

	// What the server still had in flight arrives before the channel closes
	close(deliveries)
	b.release(deliveries)

	assert.ElementsMatch(t, []uint64{2, 3}, acker.requeued)
	assert.Equal(t, map[uint64]struct{}{1: {}}, b.pending)
}

func TestForwardReportsClosedChannel(t *testing.T) {
	b := &Broker{cfg: DefaultConfig(), pending: map[uint64]struct{}{}}
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	assert.False(t, b.forward(context.Background(), deliveries, make(chan broker.Delivery)))
}
