package signal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maxxit/apps/worker/internal/adapter/executor"
	"maxxit/apps/worker/internal/config"
	"maxxit/apps/worker/internal/events"
	"maxxit/apps/worker/internal/failure"
	"maxxit/apps/worker/internal/jobqueue"
	"maxxit/apps/worker/internal/venue"
)

type Queue interface {
	ClaimBatch(ctx context.Context, kind jobqueue.Kind, workerID string, limit int) ([]string, error)
	ReclaimStale(ctx context.Context, kind jobqueue.Kind, staleAfter time.Duration, limit int) (int, error)
	Complete(ctx context.Context, kind jobqueue.Kind, id string, result map[string]interface{}) error
	Skip(ctx context.Context, kind jobqueue.Kind, id, reason string) error
	Release(ctx context.Context, kind jobqueue.Kind, id, lastErr string) error
	CountByStatus(ctx context.Context, kind jobqueue.Kind) (map[jobqueue.Status]int, error)
}

type Router interface {
	Select(ctx context.Context, req venue.Request) (venue.Decision, error)
}

type TradeExecutor interface {
	Execute(ctx context.Context, signalID, venue string) (*executor.Result, error)
}

type Metrics interface {
	Outcome(kind, action string, elapsed time.Duration)
	Routed(venue string)
}

type Service struct {
	queue    Queue
	repo     Repository
	router   Router
	executor TradeExecutor
	events   *events.Publisher
	metrics  Metrics
}

func NewService(q Queue, repo Repository, router Router, exec TradeExecutor, pub *events.Publisher, m Metrics) *Service {
	return &Service{
		queue:    q,
		repo:     repo,
		router:   router,
		executor: exec,
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

// Execute routes one claimed signal to a venue, places the trade and records
// the classified outcome.
func (s *Service) Execute(ctx context.Context, id string) error {
	start := time.Now()

	sig, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return s.apply(ctx, id, "", failure.Decision{Action: failure.ActionSkip, Reason: "signal or agent no longer exists"}, start)
	}
	if err != nil {
		return s.apply(ctx, id, "", failure.Decision{Action: failure.ActionRetry, Reason: fmt.Sprintf("load signal: %v", err)}, start)
	}

	decision, err := s.router.Select(ctx, venue.Request{
		SignalID:  sig.ID,
		Token:     sig.TokenSymbol,
		Requested: sig.Venue,
		Policy:    sig.AgentVenues,
		Size:      sig.Size,
	})
	if s.metrics != nil {
		s.metrics.Routed(decision.Selected)
	}
	if err != nil {
		return s.apply(ctx, id, "", failure.Decision{Action: failure.ActionRetry, Category: failure.CategoryVenueUnavailable, Reason: decision.Reason}, start)
	}
	if !decision.HasVenue() {
		return s.apply(ctx, id, "", failure.ClassifyNoVenue(decision.Reason), start)
	}

	slog.InfoContext(ctx, "executing signal",
		"signal_id", sig.ID,
		"token", sig.TokenSymbol,
		"side", sig.Side,
		"venue", decision.Selected,
		"attempt", sig.Attempts,
	)

	res, err := s.executor.Execute(ctx, sig.ID, decision.Selected)
	outcome := executor.Outcome(res, err)
	d := failure.ClassifyTrade(outcome)
	if d.Partial {
		slog.WarnContext(ctx, "signal executed partially",
			"signal_id", sig.ID,
			"venue", decision.Selected,
			"positions_created", outcome.PositionsCreated,
			"failed_deployments", len(outcome.Failures),
		)
	}
	return s.apply(ctx, id, decision.Selected, d, start)
}

func (s *Service) apply(ctx context.Context, id, routed string, d failure.Decision, start time.Time) error {
	var err error
	switch d.Action {
	case failure.ActionDone:
		var result map[string]interface{}
		if routed != "" {
			result = map[string]interface{}{"routed_venue": routed}
		}
		err = s.queue.Complete(ctx, Kind, id, result)
	case failure.ActionSkip:
		err = s.queue.Skip(ctx, Kind, id, d.Reason)
	default:
		// Trade signals have no FAILED state; anything not final retries.
		err = s.queue.Release(ctx, Kind, id, d.Reason)
	}

	if errors.Is(err, jobqueue.ErrNotInProgress) {
		slog.WarnContext(ctx, "signal outcome discarded, job no longer in progress", "signal_id", id, "action", d.Action)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s for signal %s: %w", d.Action, id, err)
	}

	slog.InfoContext(ctx, "signal outcome recorded",
		"signal_id", id,
		"action", d.Action,
		"category", d.Category,
		"reason", d.Reason,
		"venue", routed,
	)
	if s.metrics != nil {
		s.metrics.Outcome(Kind.Name, string(d.Action), time.Since(start))
	}
	s.events.Emit(ctx, config.TopicSignalOutcome, events.Outcome{
		Kind:     Kind.Name,
		JobID:    id,
		Action:   string(d.Action),
		Reason:   d.Reason,
		Category: string(d.Category),
		Venue:    routed,
		Partial:  d.Partial,
	})
	return nil
}
