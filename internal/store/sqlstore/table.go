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

var _ store.Table = (*Table)(nil)

const jobColumns = "id, state, name, data, attempt, priority, until_at, reserved_at, reserved_until"

// eligibleWhere is the selection predicate shared by Next, Reserve and CountProcessable.
// It takes the current time twice.
const eligibleWhere = `(
	(state = 'ready' AND (until_at IS NULL OR until_at <= ?))
	OR
	(state = 'reserved' AND reserved_until <= ?)
)`

// Table implements store.Table on the queue_job table
type Table struct {
	s *Store
}

// Insert adds a ready job and returns its id.
func (t *Table) Insert(ctx context.Context, rec *job.Record) (int64, error) {
	query := `
		INSERT INTO ` + jobTable + ` (state, name, data, attempt, priority, until_at)
		VALUES ('ready', ?, ?, ?, ?, ?)
		RETURNING id
	`

	data := rec.Data
	if data == nil {
		data = []byte{}
	}

	var id int64
	err := t.s.db.QueryRowContext(ctx, t.s.rebind(query),
		string(rec.Name), data, rec.Attempt, int(rec.Priority), nullMillis(rec.Until),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job %s: %w", rec.Name, err)
	}
	return id, nil
}

// Next selects the best-ranked eligible job without claiming it.
func (t *Table) Next(ctx context.Context, now time.Time) (*job.Record, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ` + jobTable + `
		WHERE ` + eligibleWhere + `
		ORDER BY priority DESC, COALESCE(until_at, 0) ASC, id ASC
		LIMIT 1
	`

	row := t.s.db.QueryRowContext(ctx, t.s.rebind(query), millis(now), millis(now))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select processable job failed: %w", err)
	}
	return rec, nil
}

// Reserve claims job id if it is still eligible. Exactly one affected row means
// this caller won the claim.
func (t *Table) Reserve(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	query := `
		UPDATE ` + jobTable + `
		SET state = 'reserved', reserved_at = ?, reserved_until = ?, attempt = attempt + 1
		WHERE id = ? AND ` + eligibleWhere

	result, err := t.s.db.ExecContext(ctx, t.s.rebind(query),
		millis(now), millis(until), id, millis(now), millis(now),
	)
	if err != nil {
		return false, fmt.Errorf("reserve job %d failed: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve job %d failed: %w", id, err)
	}
	return n == 1, nil
}

func (t *Table) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM ` + jobTable + ` WHERE id = ?`
	if _, err := t.s.db.ExecContext(ctx, t.s.rebind(query), id); err != nil {
		return fmt.Errorf("delete job %d failed: %w", id, err)
	}
	return nil
}

func (t *Table) Bury(ctx context.Context, id int64) error {
	query := `
		UPDATE ` + jobTable + `
		SET state = 'buried', reserved_at = NULL, reserved_until = NULL
		WHERE id = ?
	`
	if _, err := t.s.db.ExecContext(ctx, t.s.rebind(query), id); err != nil {
		return fmt.Errorf("bury job %d failed: %w", id, err)
	}
	return nil
}

func (t *Table) Reanimate(ctx context.Context, id int64, until *time.Time) error {
	query := `
		UPDATE ` + jobTable + `
		SET state = 'ready', until_at = ?, reserved_at = NULL, reserved_until = NULL
		WHERE id = ? AND state = 'buried'
	`
	if _, err := t.s.db.ExecContext(ctx, t.s.rebind(query), nullMillis(until), id); err != nil {
		return fmt.Errorf("reanimate job %d failed: %w", id, err)
	}
	return nil
}

func (t *Table) CountReserved(ctx context.Context, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ` + jobTable + ` WHERE state = 'reserved' AND reserved_until > ?`
	n, err := t.s.count(ctx, query, millis(now))
	if err != nil {
		return 0, fmt.Errorf("count reserved jobs failed: %w", err)
	}
	return n, nil
}

func (t *Table) CountProcessable(ctx context.Context, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ` + jobTable + ` WHERE ` + eligibleWhere
	n, err := t.s.count(ctx, query, millis(now), millis(now))
	if err != nil {
		return 0, fmt.Errorf("count processable jobs failed: %w", err)
	}
	return n, nil
}

func (t *Table) CountBuried(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM ` + jobTable + ` WHERE state = 'buried'`
	n, err := t.s.count(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count buried jobs failed: %w", err)
	}
	return n, nil
}

func (t *Table) ListBuried(ctx context.Context, offset, limit int) ([]*job.Record, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ` + jobTable + `
		WHERE state = 'buried'
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := t.s.db.QueryContext(ctx, t.s.rebind(query), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list buried jobs failed: %w", err)
	}
	defer rows.Close()

	var records []*job.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list buried jobs scan failed: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list buried jobs rows error: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*job.Record, error) {
	var rec job.Record
	var state, name string
	var attempt, priority int64
	var until, reservedAt, reservedUntil sql.NullInt64
	if err := row.Scan(&rec.ID, &state, &name, &rec.Data, &attempt, &priority, &until, &reservedAt, &reservedUntil); err != nil {
		return nil, err
	}

	rec.State = job.State(state)
	rec.Name = job.Name(name)
	rec.Attempt = uint32(attempt)
	rec.Priority = job.Priority(priority)
	rec.Until = fromNullMillis(until)
	rec.ReservedAt = fromNullMillis(reservedAt)
	rec.ReservedUntil = fromNullMillis(reservedUntil)
	return &rec, nil
}
