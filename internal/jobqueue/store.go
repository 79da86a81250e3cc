package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"maxxit/apps/worker/internal/middleware"
)

type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time

	onConflict func(kind string)
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

// WithClock replaces the time source used for claim and reclaim timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithConflictHook registers fn to be called whenever a claim loses the race
// for a row to another worker.
func (s *Store) WithConflictHook(fn func(kind string)) *Store {
	s.onConflict = fn
	return s
}

// ClaimBatch selects up to limit idle jobs of kind, oldest first, and claims
// each one with its own conditional update. Jobs taken by another worker
// between the select and the update are dropped silently. The returned ids are
// in fetch order; when some updates fail with a database error the ids claimed
// so far are still returned together with the error.
func (s *Store) ClaimBatch(ctx context.Context, kind Kind, workerID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := s.sb.Select(kind.column("id")).
		From(kind.Table).
		Where(sq.Eq{kind.column("status"): string(StatusIdle)}).
		OrderBy(kind.column("created_at") + " ASC").
		Limit(uint64(limit))
	if kind.Eligible != nil {
		q = kind.Eligible(q)
	}

	candidates, err := s.selectIDs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select %s candidates: %w", kind.Name, err)
	}

	claimed := make([]string, 0, len(candidates))
	var errs []error
	for _, id := range candidates {
		now := s.now()
		ok, err := s.guardedUpdate(ctx, kind, id, StatusIdle, func(u sq.UpdateBuilder) sq.UpdateBuilder {
			return u.Set("status", string(StatusInProgress)).
				Set("claimed_at", now).
				Set("claimed_by", workerID).
				Set("attempts", sq.Expr("attempts + 1")).
				Set("updated_at", now)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s %s: %w", kind.Name, id, err))
			continue
		}
		if !ok {
			slog.DebugContext(ctx, "claim lost to another worker", "kind", kind.Name, "job_id", id)
			if s.onConflict != nil {
				s.onConflict(kind.Name)
			}
			continue
		}
		claimed = append(claimed, id)
	}
	return claimed, errors.Join(errs...)
}

// ReclaimStale resets up to limit jobs that have been in progress since before
// now-staleAfter back to idle and returns how many were reset. The update is
// guarded on both status and claim time, so a job that finished or was claimed
// again after the select is left alone.
func (s *Store) ReclaimStale(ctx context.Context, kind Kind, staleAfter time.Duration, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-staleAfter)

	q := s.sb.Select(kind.column("id")).
		From(kind.Table).
		Where(sq.Eq{kind.column("status"): string(StatusInProgress)}).
		Where(sq.Lt{kind.column("claimed_at"): cutoff}).
		OrderBy(kind.column("claimed_at") + " ASC").
		Limit(uint64(limit))

	stale, err := s.selectIDs(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("select stale %s: %w", kind.Name, err)
	}

	reclaimed := 0
	var errs []error
	for _, id := range stale {
		now := s.now()
		ok, err := s.guardedUpdate(ctx, kind, id, StatusInProgress, func(u sq.UpdateBuilder) sq.UpdateBuilder {
			return u.Set("status", string(StatusIdle)).
				Set("claimed_at", nil).
				Set("claimed_by", nil).
				Set("updated_at", now).
				Where(sq.Lt{"claimed_at": cutoff})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reclaim %s %s: %w", kind.Name, id, err))
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, errors.Join(errs...)
}

// Complete moves an in-progress job to DONE. Extra result columns are written
// in the same guarded statement.
func (s *Store) Complete(ctx context.Context, kind Kind, id string, result map[string]interface{}) error {
	now := s.now()
	return s.finish(ctx, kind, id, func(u sq.UpdateBuilder) sq.UpdateBuilder {
		u = u.Set("status", string(StatusDone)).
			Set("finished_at", now).
			Set("updated_at", now)
		if len(result) > 0 {
			u = u.SetMap(result)
		}
		return u
	})
}

// Skip moves an in-progress job to SKIPPED with a permanent reason.
func (s *Store) Skip(ctx context.Context, kind Kind, id, reason string) error {
	now := s.now()
	return s.finish(ctx, kind, id, func(u sq.UpdateBuilder) sq.UpdateBuilder {
		return u.Set("status", string(StatusSkipped)).
			Set("skip_reason", reason).
			Set("finished_at", now).
			Set("updated_at", now)
	})
}

// Fail moves an in-progress job to FAILED with a reason for the operator.
func (s *Store) Fail(ctx context.Context, kind Kind, id, reason string) error {
	now := s.now()
	return s.finish(ctx, kind, id, func(u sq.UpdateBuilder) sq.UpdateBuilder {
		return u.Set("status", string(StatusFailed)).
			Set("fail_reason", reason).
			Set("finished_at", now).
			Set("updated_at", now)
	})
}

// Release returns an in-progress job to IDLE after a transient failure so the
// next cycle claims it again. lastErr is kept for diagnostics only.
func (s *Store) Release(ctx context.Context, kind Kind, id, lastErr string) error {
	now := s.now()
	return s.finish(ctx, kind, id, func(u sq.UpdateBuilder) sq.UpdateBuilder {
		return u.Set("status", string(StatusIdle)).
			Set("claimed_at", nil).
			Set("claimed_by", nil).
			Set("last_error", lastErr).
			Set("updated_at", now)
	})
}

// CountByStatus returns the number of jobs of kind per status.
func (s *Store) CountByStatus(ctx context.Context, kind Kind) (map[Status]int, error) {
	query, args, err := s.sb.Select("status", "COUNT(*)").
		From(kind.Table).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", kind.Name, err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// finish applies a transition out of IN_PROGRESS. When ctx carries a worker
// id the update is also guarded on claimed_by, so a worker whose job was
// reclaimed and claimed again elsewhere cannot finish it.
func (s *Store) finish(ctx context.Context, kind Kind, id string, set func(sq.UpdateBuilder) sq.UpdateBuilder) error {
	owner := middleware.GetWorkerID(ctx)
	ok, err := s.guardedUpdate(ctx, kind, id, StatusInProgress, func(u sq.UpdateBuilder) sq.UpdateBuilder {
		u = set(u)
		if owner != "" {
			u = u.Where(sq.Eq{"claimed_by": owner})
		}
		return u
	})
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind.Name, id, err)
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", kind.Name, id, ErrNotInProgress)
	}
	return nil
}

// guardedUpdate runs UPDATE ... WHERE id = ? AND status = from and reports
// whether exactly one row changed.
func (s *Store) guardedUpdate(ctx context.Context, kind Kind, id string, from Status, set func(sq.UpdateBuilder) sq.UpdateBuilder) (bool, error) {
	u := s.sb.Update(kind.Table)
	u = set(u).Where("id = ?", id).Where("status = ?", string(from))

	query, args, err := u.ToSql()
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) selectIDs(ctx context.Context, q sq.SelectBuilder) ([]string, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
