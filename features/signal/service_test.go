package signal_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"maxxit/apps/worker/features/signal"
	"maxxit/apps/worker/internal/adapter/executor"
	"maxxit/apps/worker/internal/config"
	"maxxit/apps/worker/internal/events"
	"maxxit/apps/worker/internal/jobqueue"
	"maxxit/apps/worker/internal/venue"
)

type MockQueue struct{ mock.Mock }

func (m *MockQueue) ClaimBatch(ctx context.Context, kind jobqueue.Kind, workerID string, limit int) ([]string, error) {
	args := m.Called(ctx, kind.Name, workerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockQueue) ReclaimStale(ctx context.Context, kind jobqueue.Kind, staleAfter time.Duration, limit int) (int, error) {
	args := m.Called(ctx, kind.Name, staleAfter, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, kind jobqueue.Kind, id string, result map[string]interface{}) error {
	args := m.Called(ctx, kind.Name, id, result)
	return args.Error(0)
}

func (m *MockQueue) Skip(ctx context.Context, kind jobqueue.Kind, id, reason string) error {
	args := m.Called(ctx, kind.Name, id, reason)
	return args.Error(0)
}

func (m *MockQueue) Release(ctx context.Context, kind jobqueue.Kind, id, lastErr string) error {
	args := m.Called(ctx, kind.Name, id, lastErr)
	return args.Error(0)
}

func (m *MockQueue) CountByStatus(ctx context.Context, kind jobqueue.Kind) (map[jobqueue.Status]int, error) {
	args := m.Called(ctx, kind.Name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[jobqueue.Status]int), args.Error(1)
}

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Get(ctx context.Context, id string) (*signal.Signal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*signal.Signal), args.Error(1)
}

type MockRouter struct{ mock.Mock }

func (m *MockRouter) Select(ctx context.Context, req venue.Request) (venue.Decision, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(venue.Decision), args.Error(1)
}

type MockExecutor struct{ mock.Mock }

func (m *MockExecutor) Execute(ctx context.Context, signalID, v string) (*executor.Result, error) {
	args := m.Called(ctx, signalID, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*executor.Result), args.Error(1)
}

type MockMetrics struct{ mock.Mock }

func (m *MockMetrics) Outcome(kind, action string, elapsed time.Duration) { m.Called(kind, action) }
func (m *MockMetrics) Routed(v string)                                    { m.Called(v) }

type MockProducer struct{ mock.Mock }

func (m *MockProducer) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type fixture struct {
	queue    *MockQueue
	repo     *MockRepo
	router   *MockRouter
	exec     *MockExecutor
	metrics  *MockMetrics
	producer *MockProducer
	svc      *signal.Service
}

func newFixture() *fixture {
	f := &fixture{
		queue:    new(MockQueue),
		repo:     new(MockRepo),
		router:   new(MockRouter),
		exec:     new(MockExecutor),
		metrics:  new(MockMetrics),
		producer: new(MockProducer),
	}
	f.metrics.On("Routed", mock.Anything).Return()
	f.metrics.On("Outcome", "trade_signal", mock.Anything).Return()
	f.producer.On("Publish", config.TopicSignalOutcome, mock.Anything).Return(nil)
	f.svc = signal.NewService(f.queue, f.repo, f.router, f.exec, events.NewPublisher(f.producer), f.metrics)
	return f
}

func dogeSignal() *signal.Signal {
	return &signal.Signal{
		ID:          "sig-1",
		AgentID:     "agent-1",
		TokenSymbol: "DOGE",
		Side:        "LONG",
		Venue:       venue.Multi,
		Size:        25,
		AgentVenues: []string{"OSTIUM", "HYPERLIQUID"},
	}
}

func routedTo(v string) venue.Decision {
	return venue.Decision{SignalID: "sig-1", Selected: v, Reason: v + " selected"}
}

func TestService_Execute_InsufficientBalanceSkips(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).Return(routedTo("OSTIUM"), nil)
	f.exec.On("Execute", mock.Anything, "sig-1", "OSTIUM").Return(&executor.Result{
		Errors: []executor.DeploymentError{
			{DeploymentID: "d1", Error: "not enough USDC", Reason: "insufficient balance"},
		},
	}, nil)
	f.queue.On("Skip", mock.Anything, "trade_signal", "sig-1", mock.MatchedBy(func(r string) bool {
		return assert.Contains(t, r, "insufficient balance")
	})).Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))

	f.queue.AssertExpectations(t)
	f.metrics.AssertCalled(t, "Outcome", "trade_signal", "SKIP")
	f.producer.AssertCalled(t, "Publish", config.TopicSignalOutcome, mock.Anything)
}

func TestService_Execute_NetworkTimeoutReleasesForRetry(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).Return(routedTo("HYPERLIQUID"), nil)
	f.exec.On("Execute", mock.Anything, "sig-1", "HYPERLIQUID").Return(&executor.Result{
		Errors: []executor.DeploymentError{{DeploymentID: "d1", Reason: "network timeout"}},
	}, nil)
	f.queue.On("Release", mock.Anything, "trade_signal", "sig-1", mock.Anything).Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))

	f.queue.AssertExpectations(t)
	f.queue.AssertNotCalled(t, "Skip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Execute_TransportErrorRetries(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).Return(routedTo("OSTIUM"), nil)
	f.exec.On("Execute", mock.Anything, "sig-1", "OSTIUM").Return(nil, errors.New("dial tcp: connection refused"))
	f.queue.On("Release", mock.Anything, "trade_signal", "sig-1", "dial tcp: connection refused").Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))
	f.queue.AssertExpectations(t)
}

func TestService_Execute_SuccessRecordsRoutedVenue(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.MatchedBy(func(r venue.Request) bool {
		return r.Token == "DOGE" && r.Requested == venue.Multi && len(r.Policy) == 2 && r.Size == 25
	})).Return(routedTo("HYPERLIQUID"), nil)
	f.exec.On("Execute", mock.Anything, "sig-1", "HYPERLIQUID").Return(&executor.Result{
		Success:          true,
		PositionsCreated: 1,
		Errors:           []executor.DeploymentError{{DeploymentID: "d2", Error: "insufficient funds"}},
	}, nil)
	f.queue.On("Complete", mock.Anything, "trade_signal", "sig-1", map[string]interface{}{"routed_venue": "HYPERLIQUID"}).Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))

	f.queue.AssertExpectations(t)
	f.metrics.AssertCalled(t, "Routed", "HYPERLIQUID")
	f.metrics.AssertCalled(t, "Outcome", "trade_signal", "DONE")
}

func TestService_Execute_NoVenueSkipsWithoutCallingExecutor(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).Return(venue.Decision{
		SignalID: "sig-1",
		Reason:   "no venue available for DOGE (OSTIUM: not listed; HYPERLIQUID: inactive)",
	}, nil)
	f.queue.On("Skip", mock.Anything, "trade_signal", "sig-1", mock.MatchedBy(func(r string) bool {
		return assert.Contains(t, r, "OSTIUM: not listed")
	})).Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))

	f.exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	f.metrics.AssertCalled(t, "Routed", "")
}

func TestService_Execute_RegistryErrorRetries(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).
		Return(venue.Decision{Reason: "routing aborted: lookup OSTIUM/DOGE: db down"}, errors.New("db down"))
	f.queue.On("Release", mock.Anything, "trade_signal", "sig-1", "routing aborted: lookup OSTIUM/DOGE: db down").Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))
	f.exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Execute_MissingSignalSkips(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(nil, sql.ErrNoRows)
	f.queue.On("Skip", mock.Anything, "trade_signal", "sig-1", mock.Anything).Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))
	f.queue.AssertExpectations(t)
}

func TestService_Execute_LoadErrorRetries(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(nil, errors.New("connection reset"))
	f.queue.On("Release", mock.Anything, "trade_signal", "sig-1", "load signal: connection reset").Return(nil)

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))
	f.queue.AssertExpectations(t)
}

func TestService_Execute_ReclaimedJobIsDroppedQuietly(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).Return(routedTo("OSTIUM"), nil)
	f.exec.On("Execute", mock.Anything, "sig-1", "OSTIUM").Return(&executor.Result{PositionsCreated: 1}, nil)
	f.queue.On("Complete", mock.Anything, "trade_signal", "sig-1", mock.Anything).
		Return(fmt.Errorf("trade_signal sig-1: %w", jobqueue.ErrNotInProgress))

	require.NoError(t, f.svc.Execute(context.Background(), "sig-1"))
	f.producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_Execute_StoreErrorIsReturned(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, "sig-1").Return(dogeSignal(), nil)
	f.router.On("Select", mock.Anything, mock.Anything).Return(routedTo("OSTIUM"), nil)
	f.exec.On("Execute", mock.Anything, "sig-1", "OSTIUM").Return(&executor.Result{PositionsCreated: 1}, nil)
	f.queue.On("Complete", mock.Anything, "trade_signal", "sig-1", mock.Anything).Return(errors.New("db gone"))

	err := f.svc.Execute(context.Background(), "sig-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestService_SourceDelegatesToQueue(t *testing.T) {
	f := newFixture()
	f.queue.On("ReclaimStale", mock.Anything, "trade_signal", 10*time.Minute, 25).Return(2, nil)
	f.queue.On("ClaimBatch", mock.Anything, "trade_signal", "w-1", 10).Return([]string{"a"}, nil)
	f.queue.On("Release", mock.Anything, "trade_signal", "a", "shutdown").Return(nil)
	f.queue.On("CountByStatus", mock.Anything, "trade_signal").
		Return(map[jobqueue.Status]int{jobqueue.StatusIdle: 3, jobqueue.StatusSkipped: 1}, nil)

	ctx := context.Background()
	assert.Equal(t, "trade_signal", f.svc.Kind())

	n, err := f.svc.ReclaimStale(ctx, 10*time.Minute, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := f.svc.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	require.NoError(t, f.svc.Release(ctx, "a", "shutdown"))

	counts, err := f.svc.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"IDLE": 3, "SKIPPED": 1}, counts)
}
