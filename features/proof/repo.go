package proof

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Repository interface {
	Get(ctx context.Context, id string) (*Request, error)
	ListFailed(ctx context.Context) ([]Request, error)
	Enqueue(ctx context.Context, from *Request) (string, error)
	ActiveRequeue(ctx context.Context, id string) (string, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const requestColumns = `id, subject_wallet, mode, featured_trade_id, status, attempts, COALESCE(fail_reason, ''), COALESCE(requeued_from::text, ''), created_at, finished_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*Request, error) {
	r := &Request{}
	var featured sql.NullInt64
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.SubjectWallet, &r.Mode, &featured, &r.Status, &r.Attempts, &r.FailReason, &r.RequeuedFrom, &r.CreatedAt, &finished); err != nil {
		return nil, err
	}
	if featured.Valid {
		r.FeaturedTradeID = &featured.Int64
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM proof_requests WHERE id = $1`
	return scanRequest(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) ListFailed(ctx context.Context) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM proof_requests WHERE status = 'FAILED' ORDER BY finished_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// Enqueue inserts a new idle request carrying the same payload as from.
func (r *PostgresRepo) Enqueue(ctx context.Context, from *Request) (string, error) {
	var featured sql.NullInt64
	if from.FeaturedTradeID != nil {
		featured = sql.NullInt64{Int64: *from.FeaturedTradeID, Valid: true}
	}
	var id string
	query := `INSERT INTO proof_requests (subject_wallet, mode, featured_trade_id, requeued_from) VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, from.SubjectWallet, from.Mode, featured, from.ID).Scan(&id)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRequeued, from.ID)
	}
	return id, err
}

// ActiveRequeue returns the id of a request requeued from id that has not
// failed, or "" when there is none.
func (r *PostgresRepo) ActiveRequeue(ctx context.Context, id string) (string, error) {
	var newID string
	query := `SELECT id FROM proof_requests WHERE requeued_from = $1 AND status <> 'FAILED' ORDER BY created_at DESC LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&newID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return newID, err
}
