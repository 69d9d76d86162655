// Package store defines the storage collaborators the queue engines call through.
package store

import (
	"context"
	"time"

	"github.com/lessq/lessq/internal/job"
)

// Table is the durable record store behind the poll engine.
//
// Every method that takes now evaluates the eligibility predicate against it,
// so selection and claim always agree on what "due" and "expired" mean.
type Table interface {
	// Insert stores a ready record and returns its generated id.
	Insert(ctx context.Context, rec *job.Record) (int64, error)

	// Next returns the best-ranked eligible record, or nil if none is eligible.
	Next(ctx context.Context, now time.Time) (*job.Record, error)

	// Reserve moves record id to reserved if it is still eligible at now.
	// It reports false when the row was not affected, i.e. another consumer won.
	Reserve(ctx context.Context, id int64, now, until time.Time) (bool, error)

	// Delete removes a record. Missing ids are not an error.
	Delete(ctx context.Context, id int64) error

	// Bury parks a record and clears its lease. Missing ids are not an error.
	Bury(ctx context.Context, id int64) error

	// Reanimate returns a buried record to ready. Missing or non-buried ids are not an error.
	Reanimate(ctx context.Context, id int64, until *time.Time) error

	CountReserved(ctx context.Context, now time.Time) (int, error)
	CountProcessable(ctx context.Context, now time.Time) (int, error)
	CountBuried(ctx context.Context) (int, error)

	// ListBuried returns buried records ordered by id ascending.
	ListBuried(ctx context.Context, offset, limit int) ([]*job.Record, error)
}

// Archive is the side table holding jobs buried by the push engine.
type Archive interface {
	// Insert stores a buried record and returns its generated id.
	Insert(ctx context.Context, rec *job.Record) (int64, error)

	// Claim deletes record id and hands it to fn within one unit of work.
	// If fn fails the delete is rolled back. It reports false if no such record exists.
	Claim(ctx context.Context, id int64, fn func(*job.Record) error) (bool, error)

	// Delete removes a record. Missing ids are not an error.
	Delete(ctx context.Context, id int64) error

	Count(ctx context.Context) (int, error)

	// List returns records ordered by id ascending.
	List(ctx context.Context, offset, limit int) ([]*job.Record, error)
}
