package signal

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"maxxit/apps/worker/internal/jobqueue"
)

// Signal is a trade instruction produced for an agent, executed at most once
// per deployment.
type Signal struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	TokenSymbol string    `json:"token_symbol"`
	Side        string    `json:"side"`
	Venue       string    `json:"venue"`
	Size        float64   `json:"size"`
	AgentVenues []string  `json:"agent_venues"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
}

// Kind is the trade_signals job table. A signal is only claimable while its
// agent is active, at least one deployment is active and ready on a venue, and
// no position has been opened for it yet.
var Kind = jobqueue.Kind{
	Name:     "trade_signal",
	Table:    "trade_signals",
	Eligible: eligible,
}

func eligible(q sq.SelectBuilder) sq.SelectBuilder {
	return q.Join("agents a ON a.id = trade_signals.agent_id").
		Where(sq.Eq{"a.status": "ACTIVE"}).
		Where("EXISTS (SELECT 1 FROM agent_deployments d WHERE d.agent_id = a.id AND d.status = 'ACTIVE' AND d.venue_ready)").
		Where("NOT EXISTS (SELECT 1 FROM positions p WHERE p.signal_id = trade_signals.id)")
}
