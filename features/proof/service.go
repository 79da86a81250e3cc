package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maxxit/apps/worker/internal/adapter/prover"
	"maxxit/apps/worker/internal/config"
	"maxxit/apps/worker/internal/events"
	"maxxit/apps/worker/internal/failure"
	"maxxit/apps/worker/internal/jobqueue"
)

var (
	ErrNotFailed       = errors.New("proof request is not failed")
	ErrAlreadyRequeued = errors.New("proof request already requeued")
)

type Queue interface {
	ClaimBatch(ctx context.Context, kind jobqueue.Kind, workerID string, limit int) ([]string, error)
	ReclaimStale(ctx context.Context, kind jobqueue.Kind, staleAfter time.Duration, limit int) (int, error)
	Complete(ctx context.Context, kind jobqueue.Kind, id string, result map[string]interface{}) error
	Fail(ctx context.Context, kind jobqueue.Kind, id, reason string) error
	Release(ctx context.Context, kind jobqueue.Kind, id, lastErr string) error
	CountByStatus(ctx context.Context, kind jobqueue.Kind) (map[jobqueue.Status]int, error)
}

type Prover interface {
	Generate(ctx context.Context, r prover.GenerateRequest) (*prover.Proof, error)
}

type Registry interface {
	Submit(ctx context.Context, publicValues, proof []byte) (string, error)
}

type Metrics interface {
	Outcome(kind, action string, elapsed time.Duration)
}

type Service struct {
	queue    Queue
	repo     Repository
	resolver WalletResolver
	prover   Prover
	registry Registry
	events   *events.Publisher
	metrics  Metrics
}

// NewService builds the proof executor. registry may be nil when only
// simulated proofs are produced.
func NewService(q Queue, repo Repository, resolver WalletResolver, p Prover, reg Registry, pub *events.Publisher, m Metrics) *Service {
	if resolver == nil {
		resolver = AddressResolver{}
	}
	return &Service{
		queue:    q,
		repo:     repo,
		resolver: resolver,
		prover:   p,
		registry: reg,
		events:   pub,
		metrics:  m,
	}
}

func (s *Service) Kind() string {
	return Kind.Name
}

func (s *Service) ReclaimStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	return s.queue.ReclaimStale(ctx, Kind, staleAfter, limit)
}

func (s *Service) ClaimBatch(ctx context.Context, workerID string, limit int) ([]string, error) {
	return s.queue.ClaimBatch(ctx, Kind, workerID, limit)
}

func (s *Service) Release(ctx context.Context, id, reason string) error {
	return s.queue.Release(ctx, Kind, id, reason)
}

func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts, err := s.queue.CountByStatus(ctx, Kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

// Execute generates, optionally submits, and persists the proof for one
// claimed request. Any error fails the request; there is no automatic retry.
func (s *Service) Execute(ctx context.Context, id string) error {
	start := time.Now()

	result, txHash, err := s.prove(ctx, id)
	d := failure.ClassifyProof(err)

	switch d.Action {
	case failure.ActionDone:
		err = s.queue.Complete(ctx, Kind, id, result)
	default:
		err = s.queue.Fail(ctx, Kind, id, d.Reason)
	}

	if errors.Is(err, jobqueue.ErrNotInProgress) {
		slog.WarnContext(ctx, "proof outcome discarded, job no longer in progress", "request_id", id, "action", d.Action)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s for proof request %s: %w", d.Action, id, err)
	}

	if d.Action == failure.ActionDone {
		slog.InfoContext(ctx, "proof completed", "request_id", id, "tx_hash", txHash, "simulated", result["is_simulated"])
	} else {
		slog.ErrorContext(ctx, "proof failed", "request_id", id, "reason", d.Reason)
	}
	if s.metrics != nil {
		s.metrics.Outcome(Kind.Name, string(d.Action), time.Since(start))
	}
	s.events.Emit(ctx, config.TopicProofOutcome, events.Outcome{
		Kind:   Kind.Name,
		JobID:  id,
		Action: string(d.Action),
		Reason: d.Reason,
		TxHash: txHash,
	})
	return nil
}

func (s *Service) prove(ctx context.Context, id string) (map[string]interface{}, string, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("load proof request: %w", err)
	}

	wallet, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, "", err
	}

	slog.InfoContext(ctx, "generating proof", "request_id", id, "wallet", wallet, "mode", req.Mode)
	p, err := s.prover.Generate(ctx, prover.GenerateRequest{
		Wallet:          wallet,
		Mode:            req.Mode,
		FeaturedTradeID: req.FeaturedTradeID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("generate proof: %w", err)
	}

	txHash := p.TxHash
	if !p.Simulated() && txHash == "" {
		if s.registry == nil {
			return nil, "", errors.New("proof registry is not configured")
		}
		txHash, err = s.registry.Submit(ctx, p.PublicValues, p.Proof)
		if err != nil {
			return nil, "", fmt.Errorf("submit proof: %w", err)
		}
	}

	return resultColumns(p, txHash), txHash, nil
}

// resultColumns maps a proof onto the proof_requests result columns.
func resultColumns(p *prover.Proof, txHash string) map[string]interface{} {
	m := p.Metrics()
	cols := map[string]interface{}{
		"trade_count":      int64(m.TradeCount),
		"win_count":        int64(m.WinCount),
		"total_pnl":        m.TotalPnL,
		"total_collateral": m.TotalCollateral,
		"range_start":      nullTime(m.StartTimestamp),
		"range_end":        nullTime(m.EndTimestamp),
		"is_simulated":     p.Simulated(),
	}
	if len(p.PublicValues) > 0 {
		cols["public_values"] = p.PublicValues
	}
	if p.VKeyHash != "" {
		cols["vkey_hash"] = p.VKeyHash
	}
	if txHash != "" {
		cols["tx_hash"] = txHash
	}
	return cols
}

func nullTime(unix uint64) interface{} {
	if unix == 0 {
		return nil
	}
	return time.Unix(int64(unix), 0).UTC()
}

func (s *Service) ListFailed(ctx context.Context) ([]Request, error) {
	return s.repo.ListFailed(ctx)
}

// Requeue creates a fresh idle request with the payload of a failed one. The
// failed row itself is never modified. A failed request is requeued at most
// once until that copy fails too.
func (s *Service) Requeue(ctx context.Context, id string) (string, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if jobqueue.Status(req.Status) != jobqueue.StatusFailed {
		return "", fmt.Errorf("%w: %s is %s", ErrNotFailed, id, req.Status)
	}
	pending, err := s.repo.ActiveRequeue(ctx, id)
	if err != nil {
		return "", err
	}
	if pending != "" {
		return "", fmt.Errorf("%w: %s as %s", ErrAlreadyRequeued, id, pending)
	}
	newID, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "proof request requeued", "request_id", id, "new_request_id", newID)
	return newID, nil
}
