package pebblestore

import (
	"context"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/store"
)

var _ store.Table = (*Table)(nil)

// Table implements store.Table on the "job:" keyspace
type Table struct {
	s *Store
}

func (t *Table) Insert(ctx context.Context, rec *job.Record) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	stored := *rec
	stored.State = job.StateReady
	stored.ReservedAt = nil
	stored.ReservedUntil = nil

	id, err := t.s.insert(jobPrefix, jobSeqKey, &stored)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

func (t *Table) Next(ctx context.Context, now time.Time) (*job.Record, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	records, err := t.s.all(jobPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return job.Next(records, now), nil
}

func (t *Table) Reserve(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	rec, err := t.s.load(jobPrefix, id)
	if err != nil {
		return false, fmt.Errorf("failed to load job %d: %w", id, err)
	}
	if rec == nil || !job.Eligible(rec, now) {
		return false, nil
	}

	rec.Reserve(now, until)
	if err := t.s.save(jobPrefix, rec); err != nil {
		return false, fmt.Errorf("failed to reserve job %d: %w", id, err)
	}
	return true, nil
}

func (t *Table) Delete(ctx context.Context, id int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if err := t.s.remove(jobPrefix, id); err != nil {
		return fmt.Errorf("failed to delete job %d: %w", id, err)
	}
	return nil
}

func (t *Table) Bury(ctx context.Context, id int64) error {
	return t.update(id, func(rec *job.Record) bool {
		rec.Bury()
		return true
	})
}

func (t *Table) Reanimate(ctx context.Context, id int64, until *time.Time) error {
	return t.update(id, func(rec *job.Record) bool {
		if !rec.IsBuried() {
			return false
		}
		rec.Reanimate(until)
		return true
	})
}

// update applies fn to record id under the write lock and saves it if fn reports a change
func (t *Table) update(id int64, fn func(*job.Record) bool) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	rec, err := t.s.load(jobPrefix, id)
	if err != nil {
		return fmt.Errorf("failed to load job %d: %w", id, err)
	}
	if rec == nil || !fn(rec) {
		return nil
	}
	if err := t.s.save(jobPrefix, rec); err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	return nil
}

func (t *Table) CountReserved(ctx context.Context, now time.Time) (int, error) {
	return t.count(func(rec *job.Record) bool { return rec.IsReserved(now) })
}

func (t *Table) CountProcessable(ctx context.Context, now time.Time) (int, error) {
	return t.count(func(rec *job.Record) bool { return job.Eligible(rec, now) })
}

func (t *Table) CountBuried(ctx context.Context) (int, error) {
	return t.count(func(rec *job.Record) bool { return rec.IsBuried() })
}

func (t *Table) count(match func(*job.Record) bool) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	records, err := t.s.all(jobPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to scan jobs: %w", err)
	}

	n := 0
	for _, rec := range records {
		if match(rec) {
			n++
		}
	}
	return n, nil
}

func (t *Table) ListBuried(ctx context.Context, offset, limit int) ([]*job.Record, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	records, err := t.s.all(jobPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	// Keys are id ordered, so filtering keeps id order
	buried := make([]*job.Record, 0, len(records))
	for _, rec := range records {
		if rec.IsBuried() {
			buried = append(buried, rec)
		}
	}
	return page(buried, offset, limit), nil
}
