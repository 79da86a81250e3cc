package venue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"maxxit/apps/worker/internal/venue"
)

type MockRegistry struct{ mock.Mock }

func (m *MockRegistry) Lookup(ctx context.Context, v, token string) (venue.Market, bool, error) {
	args := m.Called(ctx, v, token)
	return args.Get(0).(venue.Market), args.Bool(1), args.Error(2)
}

type MockDecisionLog struct{ mock.Mock }

func (m *MockDecisionLog) Append(ctx context.Context, d venue.Decision) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func TestRouter_Candidates(t *testing.T) {
	r := venue.NewRouter(nil, nil, []string{"hyperliquid", "OSTIUM"})

	assert.Equal(t, []string{"OSTIUM"}, r.Candidates(venue.Request{Requested: "ostium"}))
	assert.Equal(t, []string{"OSTIUM", "HYPERLIQUID"},
		r.Candidates(venue.Request{Requested: venue.Multi, Policy: []string{"ostium", "HYPERLIQUID", "OSTIUM", ""}}))
	assert.Equal(t, []string{"HYPERLIQUID", "OSTIUM"}, r.Candidates(venue.Request{Requested: venue.Multi}))
	assert.Equal(t, []string{"HYPERLIQUID", "OSTIUM"}, r.Candidates(venue.Request{}))
}

func TestRouter_Select_FallsBackToNextVenue(t *testing.T) {
	reg := new(MockRegistry)
	log := new(MockDecisionLog)
	r := venue.NewRouter(reg, log, nil)

	reg.On("Lookup", mock.Anything, "OSTIUM", "DOGE").Return(venue.Market{}, false, nil)
	reg.On("Lookup", mock.Anything, "HYPERLIQUID", "DOGE").
		Return(venue.Market{Venue: "HYPERLIQUID", Token: "DOGE", Name: "DOGE-PERP", Active: true}, true, nil)
	log.On("Append", mock.Anything, mock.MatchedBy(func(d venue.Decision) bool {
		return d.SignalID == "sig-1" && d.Selected == "HYPERLIQUID"
	})).Return(nil).Once()

	d, err := r.Select(context.Background(), venue.Request{
		SignalID:  "sig-1",
		Token:     "doge",
		Requested: venue.Multi,
		Policy:    []string{"OSTIUM", "HYPERLIQUID"},
	})
	require.NoError(t, err)

	assert.Equal(t, "HYPERLIQUID", d.Selected)
	require.Len(t, d.Checked, 2)
	assert.Equal(t, "OSTIUM", d.Checked[0].Venue)
	assert.Equal(t, venue.RejectNotListed, d.Checked[0].Rejection)
	assert.True(t, d.Checked[1].Available)
	assert.Contains(t, d.Reason, "OSTIUM: not listed")
	reg.AssertExpectations(t)
	log.AssertExpectations(t)
}

func TestRouter_Select_StopsAtFirstMatch(t *testing.T) {
	reg := new(MockRegistry)
	log := new(MockDecisionLog)
	r := venue.NewRouter(reg, log, nil)

	reg.On("Lookup", mock.Anything, "OSTIUM", "BTC").
		Return(venue.Market{Venue: "OSTIUM", Token: "BTC", Name: "BTC/USD", Active: true}, true, nil)
	log.On("Append", mock.Anything, mock.Anything).Return(nil)

	d, err := r.Select(context.Background(), venue.Request{SignalID: "sig-2", Token: "BTC", Policy: []string{"OSTIUM", "HYPERLIQUID"}})
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", d.Selected)
	assert.Len(t, d.Checked, 1)
	reg.AssertNotCalled(t, "Lookup", mock.Anything, "HYPERLIQUID", "BTC")
}

func TestRouter_Select_NoVenueRecordsEveryRejection(t *testing.T) {
	reg := new(MockRegistry)
	log := new(MockDecisionLog)
	r := venue.NewRouter(reg, log, nil)

	reg.On("Lookup", mock.Anything, "OSTIUM", "ETH").
		Return(venue.Market{Venue: "OSTIUM", Token: "ETH", Active: false}, true, nil)
	reg.On("Lookup", mock.Anything, "HYPERLIQUID", "ETH").
		Return(venue.Market{Venue: "HYPERLIQUID", Token: "ETH", Active: true, MinSize: 10}, true, nil)
	log.On("Append", mock.Anything, mock.MatchedBy(func(d venue.Decision) bool { return !d.HasVenue() })).Return(nil)

	d, err := r.Select(context.Background(), venue.Request{SignalID: "sig-3", Token: "ETH", Policy: []string{"OSTIUM", "HYPERLIQUID"}, Size: 5})
	require.NoError(t, err)

	assert.False(t, d.HasVenue())
	assert.Equal(t, "no venue available for ETH (OSTIUM: inactive; HYPERLIQUID: below minimum size)", d.Reason)
	log.AssertExpectations(t)
}

func TestRouter_Select_IsDeterministic(t *testing.T) {
	reg := new(MockRegistry)
	log := new(MockDecisionLog)
	r := venue.NewRouter(reg, log, nil)

	reg.On("Lookup", mock.Anything, "OSTIUM", "SOL").Return(venue.Market{}, false, nil)
	reg.On("Lookup", mock.Anything, "HYPERLIQUID", "SOL").
		Return(venue.Market{Venue: "HYPERLIQUID", Token: "SOL", Active: true}, true, nil)
	log.On("Append", mock.Anything, mock.Anything).Return(nil)

	req := venue.Request{SignalID: "sig-4", Token: "SOL", Policy: []string{"OSTIUM", "HYPERLIQUID"}}
	first, err := r.Select(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Select(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Selected, second.Selected)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, first.Checked, second.Checked)
	log.AssertNumberOfCalls(t, "Append", 2)
}

func TestRouter_Select_RegistryErrorIsLoggedAndReturned(t *testing.T) {
	reg := new(MockRegistry)
	log := new(MockDecisionLog)
	r := venue.NewRouter(reg, log, nil)

	reg.On("Lookup", mock.Anything, "OSTIUM", "BTC").Return(venue.Market{}, false, errors.New("db down"))
	log.On("Append", mock.Anything, mock.MatchedBy(func(d venue.Decision) bool {
		return d.Reason != "" && !d.HasVenue()
	})).Return(nil)

	_, err := r.Select(context.Background(), venue.Request{SignalID: "sig-5", Token: "BTC", Requested: "OSTIUM"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	log.AssertExpectations(t)
}

func TestRouter_Select_LogFailureDoesNotBlockRouting(t *testing.T) {
	reg := new(MockRegistry)
	log := new(MockDecisionLog)
	r := venue.NewRouter(reg, log, nil)

	reg.On("Lookup", mock.Anything, "OSTIUM", "BTC").
		Return(venue.Market{Venue: "OSTIUM", Token: "BTC", Active: true}, true, nil)
	log.On("Append", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

	d, err := r.Select(context.Background(), venue.Request{SignalID: "sig-6", Token: "BTC", Requested: "OSTIUM"})
	assert.NoError(t, err)
	assert.Equal(t, "OSTIUM", d.Selected)
}
