package pebblestore

import (
	"context"
	"fmt"

	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/store"
)

var _ store.Archive = (*Archive)(nil)

// Archive implements store.Archive on the "buried:" keyspace
type Archive struct {
	s *Store
}

func (a *Archive) Insert(ctx context.Context, rec *job.Record) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	stored := *rec
	stored.State = job.StateBuried
	stored.Until = nil
	stored.ReservedAt = nil
	stored.ReservedUntil = nil

	id, err := a.s.insert(buriedPrefix, buriedSeqKey, &stored)
	if err != nil {
		return 0, fmt.Errorf("failed to archive job: %w", err)
	}
	return id, nil
}

func (a *Archive) Claim(ctx context.Context, id int64, fn func(*job.Record) error) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	rec, err := a.s.load(buriedPrefix, id)
	if err != nil {
		return false, fmt.Errorf("failed to load archived job %d: %w", id, err)
	}
	if rec == nil {
		return false, nil
	}

	if err := fn(rec); err != nil {
		return false, err
	}

	if err := a.s.remove(buriedPrefix, id); err != nil {
		return false, fmt.Errorf("failed to delete archived job %d: %w", id, err)
	}
	return true, nil
}

func (a *Archive) Delete(ctx context.Context, id int64) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if err := a.s.remove(buriedPrefix, id); err != nil {
		return fmt.Errorf("failed to delete archived job %d: %w", id, err)
	}
	return nil
}

func (a *Archive) Count(ctx context.Context) (int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	n := 0
	err := a.s.scan([]byte(buriedPrefix), func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count archived jobs: %w", err)
	}
	return n, nil
}

func (a *Archive) List(ctx context.Context, offset, limit int) ([]*job.Record, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	records, err := a.s.all(buriedPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan archived jobs: %w", err)
	}
	return page(records, offset, limit), nil
}
