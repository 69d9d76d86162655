package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/store"
)

var _ store.Archive = (*Archive)(nil)

// Archive implements store.Archive on the queue_job_buried table
type Archive struct {
	s *Store
}

func (a *Archive) Insert(ctx context.Context, rec *job.Record) (int64, error) {
	query := `
		INSERT INTO ` + buriedTable + ` (name, data, attempt, priority, buried_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`

	data := rec.Data
	if data == nil {
		data = []byte{}
	}

	var id int64
	err := a.s.db.QueryRowContext(ctx, a.s.rebind(query),
		string(rec.Name), data, rec.Attempt, int(rec.Priority), millis(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to archive job %s: %w", rec.Name, err)
	}
	return id, nil
}

// Claim deletes the archived row inside a transaction and commits only after fn
// succeeded. Concurrent claimers of the same row block on the delete and then
// see no row.
func (a *Archive) Claim(ctx context.Context, id int64, fn func(*job.Record) error) (bool, error) {
	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("claim archived job %d failed: %w", id, err)
	}
	defer tx.Rollback()

	query := `
		DELETE FROM ` + buriedTable + `
		WHERE id = ?
		RETURNING name, data, attempt, priority
	`

	rec := job.Record{ID: id, State: job.StateBuried}
	var name string
	var attempt, priority int64
	err = tx.QueryRowContext(ctx, a.s.rebind(query), id).Scan(&name, &rec.Data, &attempt, &priority)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim archived job %d failed: %w", id, err)
	}
	rec.Name = job.Name(name)
	rec.Attempt = uint32(attempt)
	rec.Priority = job.Priority(priority)

	if err := fn(&rec); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("claim archived job %d commit failed: %w", id, err)
	}
	return true, nil
}

func (a *Archive) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM ` + buriedTable + ` WHERE id = ?`
	if _, err := a.s.db.ExecContext(ctx, a.s.rebind(query), id); err != nil {
		return fmt.Errorf("delete archived job %d failed: %w", id, err)
	}
	return nil
}

func (a *Archive) Count(ctx context.Context) (int, error) {
	n, err := a.s.count(ctx, `SELECT COUNT(*) FROM `+buriedTable)
	if err != nil {
		return 0, fmt.Errorf("count archived jobs failed: %w", err)
	}
	return n, nil
}

func (a *Archive) List(ctx context.Context, offset, limit int) ([]*job.Record, error) {
	query := `
		SELECT id, name, data, attempt, priority
		FROM ` + buriedTable + `
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := a.s.db.QueryContext(ctx, a.s.rebind(query), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs failed: %w", err)
	}
	defer rows.Close()

	var records []*job.Record
	for rows.Next() {
		rec := job.Record{State: job.StateBuried}
		var name string
		var attempt, priority int64
		if err := rows.Scan(&rec.ID, &name, &rec.Data, &attempt, &priority); err != nil {
			return nil, fmt.Errorf("list archived jobs scan failed: %w", err)
		}
		rec.Name = job.Name(name)
		rec.Attempt = uint32(attempt)
		rec.Priority = job.Priority(priority)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list archived jobs rows error: %w", err)
	}
	return records, nil
}
