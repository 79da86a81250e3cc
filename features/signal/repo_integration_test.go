package signal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxxit/apps/worker/features/signal"
	"maxxit/apps/worker/internal/jobqueue"
	"maxxit/apps/worker/internal/testutils"
)

func TestSignal_Integration_Eligibility(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	active := s.QueryString(`INSERT INTO agents (name, status, venue_policy) VALUES ('alpha', 'ACTIVE', '{OSTIUM,HYPERLIQUID}') RETURNING id`)
	paused := s.QueryString(`INSERT INTO agents (name, status) VALUES ('beta', 'PAUSED') RETURNING id`)
	idle := s.QueryString(`INSERT INTO agents (name, status) VALUES ('gamma', 'ACTIVE') RETURNING id`)

	s.Exec(`INSERT INTO agent_deployments (agent_id, wallet, status, venue_ready) VALUES ($1, '0xa', 'ACTIVE', TRUE)`, active)
	s.Exec(`INSERT INTO agent_deployments (agent_id, wallet, status, venue_ready) VALUES ($1, '0xb', 'ACTIVE', TRUE)`, paused)
	s.Exec(`INSERT INTO agent_deployments (agent_id, wallet, status, venue_ready) VALUES ($1, '0xc', 'ACTIVE', FALSE)`, idle)

	eligible := s.QueryString(`INSERT INTO trade_signals (agent_id, token_symbol, side, venue, size) VALUES ($1, 'BTC', 'LONG', 'MULTI', 5) RETURNING id`, active)
	executed := s.QueryString(`INSERT INTO trade_signals (agent_id, token_symbol, side) VALUES ($1, 'ETH', 'SHORT') RETURNING id`, active)
	s.Exec(`INSERT INTO positions (signal_id, venue, token_symbol) VALUES ($1, 'OSTIUM', 'ETH')`, executed)
	s.Exec(`INSERT INTO trade_signals (agent_id, token_symbol, side) VALUES ($1, 'SOL', 'LONG')`, paused)
	s.Exec(`INSERT INTO trade_signals (agent_id, token_symbol, side) VALUES ($1, 'DOGE', 'LONG')`, idle)

	ctx := context.Background()
	ids, err := jobqueue.NewStore(s.DB).ClaimBatch(ctx, signal.Kind, "trade-worker-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{eligible}, ids)

	sig, err := signal.NewPostgresRepo(s.DB).Get(ctx, eligible)
	require.NoError(t, err)
	assert.Equal(t, "BTC", sig.TokenSymbol)
	assert.Equal(t, "MULTI", sig.Venue)
	assert.Equal(t, 5.0, sig.Size)
	assert.Equal(t, []string{"OSTIUM", "HYPERLIQUID"}, sig.AgentVenues)
	assert.Equal(t, 1, sig.Attempts)
}
