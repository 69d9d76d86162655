// Package broker defines the message-delivery channel behind the push engine.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned when the broker connection is gone
var ErrClosed = errors.New("broker closed")

// Message is one publish request
type Message struct {
	Body     []byte
	Priority uint8
	// Delay postpones delivery; zero delivers immediately
	Delay time.Duration
}

// Delivery is a message pushed to a consumer. It stays unacknowledged, and so
// owned by that consumer, until Ack is called with its Tag.
type Delivery struct {
	Tag  uint64
	Body []byte
}

// Stats is the passive view of the live queue
type Stats struct {
	Messages  int
	Consumers int
}

// Broker publishes and pushes messages
type Broker interface {
	Publish(ctx context.Context, msg Message) error

	// Consume starts delivering messages on the returned channel until ctx ends.
	// The channel is closed when consumption stops.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Ack settles a delivery. Unknown tags are not an error.
	Ack(ctx context.Context, tag uint64) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
