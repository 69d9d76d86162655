// Package queue implements the job lifecycle on top of a polled table or a
// push broker.
//
// Both engines satisfy Queue. Work moves through ready, reserved and buried;
// a consumer holds a lease on a claimed job and must delete, republish or bury
// it to release it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/job"
)

const (
	// DefaultLease is how long a claimed job stays reserved
	DefaultLease = 600 * time.Second
	MinLease     = time.Second
	MaxLease     = 3600 * time.Second

	// DefaultIdleWait is the pause after a poll that found nothing
	DefaultIdleWait = 3 * time.Second

	MaxPageSize = 100
)

var (
	ErrAlreadyProcessing = errors.New("queue: already processing")
	ErrNotProcessing     = errors.New("queue: not processing")
	ErrForeignID         = errors.New("queue: id not addressable by this engine")
	ErrInvalidPage       = errors.New("queue: invalid page")
	ErrEnvelope          = errors.New("queue: malformed message envelope")
)

// Job is one unit of work as seen by consumers
type Job[T any] struct {
	ID       ID
	Name     job.Name
	Data     T
	Attempt  uint32 // prior deliveries
	Priority job.Priority
	Until    *time.Time
}

// Handler processes one claimed job. Returning an error stops processing.
type Handler[T any] func(ctx context.Context, j Job[T]) error

// Queue is the contract shared by the poll and push engines
type Queue[T any] interface {
	Publish(ctx context.Context, name string, data T, opts ...PublishOption) error

	// Republish enqueues a new delivery of j with attempt+1. The caller still
	// disposes of j itself.
	Republish(ctx context.Context, j Job[T], until time.Time, priority *job.Priority) error

	// Process claims jobs and hands them to fn until stopped. Only one Process
	// call may run per instance.
	Process(ctx context.Context, fn Handler[T]) error
	IsProcessing() bool
	StopProcessing() error

	CountProcessing(ctx context.Context) (int, error)
	CountProcessable(ctx context.Context) (int, error)

	Delete(ctx context.Context, id ID) error
	Bury(ctx context.Context, j Job[T]) error
	Reanimate(ctx context.Context, id RowID, until *time.Time) error

	CountBuried(ctx context.Context) (int, error)
	GetBuried(ctx context.Context, page Page) (Buried[T], error)
}

type publishOptions struct {
	until    *time.Time
	priority job.Priority
}

// PublishOption customizes Publish
type PublishOption func(*publishOptions)

// WithUntil delays eligibility until t
func WithUntil(t time.Time) PublishOption {
	return func(o *publishOptions) {
		o.until = &t
	}
}

// WithPriority overrides the normal priority
func WithPriority(p job.Priority) PublishOption {
	return func(o *publishOptions) {
		o.priority = p
	}
}

func newPublishOptions(opts []PublishOption) (publishOptions, error) {
	o := publishOptions{priority: job.PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.priority.Valid() {
		return o, fmt.Errorf("%w: %d", job.ErrInvalidPriority, o.priority)
	}
	return o, nil
}

func resolvePriority(j job.Priority, override *job.Priority) (job.Priority, error) {
	p := j
	if override != nil {
		p = *override
	}
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", job.ErrInvalidPriority, p)
	}
	return p, nil
}

// Page selects a 1-based page of buried jobs
type Page struct {
	Number int
	Size   int
}

// Validate checks page bounds
func (p Page) Validate() error {
	if p.Number < 1 || p.Size < 1 || p.Size > MaxPageSize {
		return fmt.Errorf("%w: page %d size %d", ErrInvalidPage, p.Number, p.Size)
	}
	return nil
}

// Offset is the number of jobs before the page
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Buried is one page of buried jobs and the total buried count
type Buried[T any] struct {
	Jobs  []Job[T]
	Total int
}
