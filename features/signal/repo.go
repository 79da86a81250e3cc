package signal

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

type Repository interface {
	Get(ctx context.Context, id string) (*Signal, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get loads a signal together with its agent's venue policy. It returns
// sql.ErrNoRows when either row is gone.
func (r *PostgresRepo) Get(ctx context.Context, id string) (*Signal, error) {
	s := &Signal{}
	var size sql.NullFloat64
	var venue sql.NullString
	query := `SELECT s.id, s.agent_id, s.token_symbol, s.side, s.venue, s.size, s.attempts, s.created_at, a.venue_policy
		FROM trade_signals s JOIN agents a ON a.id = s.agent_id WHERE s.id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.AgentID, &s.TokenSymbol, &s.Side, &venue, &size, &s.Attempts, &s.CreatedAt, pq.Array(&s.AgentVenues),
	)
	if err != nil {
		return nil, err
	}
	s.Venue = venue.String
	s.Size = size.Float64
	return s, nil
}
