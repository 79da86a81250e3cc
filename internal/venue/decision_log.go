package venue

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresDecisionLog appends to venue_routing_decisions. Rows are never
// updated or deleted.
type PostgresDecisionLog struct {
	db *sql.DB
}

func NewPostgresDecisionLog(db *sql.DB) *PostgresDecisionLog {
	return &PostgresDecisionLog{db: db}
}

func (l *PostgresDecisionLog) Append(ctx context.Context, d Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	checked, err := json.Marshal(d.Checked)
	if err != nil {
		return err
	}

	var selected sql.NullString
	if d.Selected != "" {
		selected = sql.NullString{String: d.Selected, Valid: true}
	}

	query := `INSERT INTO venue_routing_decisions (id, signal_id, token_symbol, candidates, selected_venue, checked, reason, elapsed_ms) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = l.db.ExecContext(ctx, query, d.ID, d.SignalID, d.Token, pq.Array(d.Candidates), selected, checked, d.Reason, d.Elapsed.Milliseconds())
	return err
}
