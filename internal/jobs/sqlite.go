package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triptimer/internal/clock"
	logx "triptimer/pkg/logx"
)

const jobColumns = `job_key, subject_id, COALESCE(target_id, ''), variant, due_time, status, created_at, updated_at`

// SQLiteStore implements Store on the scheduled_jobs table.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
	log   logx.Logger
}

func NewSQLiteStore(db *sql.DB, clk clock.Clock, log logx.Logger) *SQLiteStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &SQLiteStore{db: db, clock: clk, log: log.With(logx.String("comp", "jobstore"))}
}

func (s *SQLiteStore) Create(ctx context.Context, j Job) (Job, error) {
	if err := j.validate(); err != nil {
		return Job{}, err
	}
	now := s.clock.Now().UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO scheduled_jobs(job_key, subject_id, target_id, variant, due_time, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(job_key) DO UPDATE SET
		   due_time = excluded.due_time,
		   status = excluded.status,
		   updated_at = excluded.updated_at
		 RETURNING `+jobColumns,
		j.Key, j.SubjectID, nullStr(j.TargetID), string(j.Variant), j.DueTime.UnixMilli(), string(StatusPending), now, now,
	)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("create job %s: %w", j.Key, err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE job_key = ?`, key)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", key, err)
	}
	return j, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]Job, error) {
	return s.ListByStatus(ctx, StatusPending, 0)
}

// ListByStatus orders by due time; limit <= 0 means no limit.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE status = ? ORDER BY due_time, job_key LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, key string, status Status) (bool, error) {
	return s.UpdateStatusIfDue(ctx, key, time.Time{}, status)
}

// UpdateStatusIfDue skips the due time check when due is zero.
func (s *SQLiteStore) UpdateStatusIfDue(ctx context.Context, key string, due time.Time, status Status) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: pending -> %s", ErrInvalidStatus, status)
	}
	q := `UPDATE scheduled_jobs SET status = ?, updated_at = ? WHERE job_key = ? AND status = ?`
	args := []any{string(status), s.clock.Now().UnixMilli(), key, string(StatusPending)}
	if !due.IsZero() {
		q += ` AND due_time = ?`
		args = append(args, due.UnixMilli())
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update job %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	cur, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if cur.Status == StatusPending {
		s.log.Info("job was rescheduled; status update ignored",
			logx.String("job_key", key),
			logx.Time("due", cur.DueTime),
		)
		return false, nil
	}
	s.log.Warn("job already terminal; status update ignored",
		logx.String("job_key", key),
		logx.String("current", string(cur.Status)),
		logx.String("requested", string(status)),
	)
	return false, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(r scanner) (Job, error) {
	var (
		j                     Job
		variant, status       string
		due, created, updated int64
	)
	if err := r.Scan(&j.Key, &j.SubjectID, &j.TargetID, &variant, &due, &status, &created, &updated); err != nil {
		return Job{}, err
	}
	j.Variant = Variant(variant)
	j.Status = Status(status)
	j.DueTime = time.UnixMilli(due)
	j.CreatedAt = time.UnixMilli(created)
	j.UpdatedAt = time.UnixMilli(updated)
	return j, nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
