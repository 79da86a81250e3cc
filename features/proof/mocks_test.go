package proof_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"maxxit/apps/worker/features/proof"
	"maxxit/apps/worker/internal/adapter/prover"
	"maxxit/apps/worker/internal/jobqueue"
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

func (m *MockQueue) Fail(ctx context.Context, kind jobqueue.Kind, id, reason string) error {
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

func (m *MockRepo) Get(ctx context.Context, id string) (*proof.Request, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*proof.Request), args.Error(1)
}

func (m *MockRepo) ListFailed(ctx context.Context) ([]proof.Request, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]proof.Request), args.Error(1)
}

func (m *MockRepo) Enqueue(ctx context.Context, from *proof.Request) (string, error) {
	args := m.Called(ctx, from)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) ActiveRequeue(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type MockProver struct{ mock.Mock }

func (m *MockProver) Generate(ctx context.Context, r prover.GenerateRequest) (*prover.Proof, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*prover.Proof), args.Error(1)
}

type MockRegistry struct{ mock.Mock }

func (m *MockRegistry) Submit(ctx context.Context, publicValues, p []byte) (string, error) {
	args := m.Called(ctx, publicValues, p)
	return args.String(0), args.Error(1)
}
