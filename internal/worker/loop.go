// Package worker runs the poll loop shared by every job kind: reclaim stale
// jobs, claim a batch, execute it sequentially, sleep, repeat.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maxxit/apps/worker/internal/middleware"
)

// Source is one job kind as seen by the loop. Execute applies the job's
// outcome itself; an error means the outcome could not be recorded.
type Source interface {
	Kind() string
	ReclaimStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]string, error)
	Execute(ctx context.Context, id string) error
	Release(ctx context.Context, id, reason string) error
}

// StatusCounter is implemented by sources that can report their queue depth.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type Recorder interface {
	Claimed(kind string, n int)
	Reclaimed(kind string, n int)
	QueueDepth(kind string, counts map[string]int)
}

type Config struct {
	WorkerID     string
	Interval     time.Duration
	BatchSize    int
	StaleAfter   time.Duration
	ReclaimLimit int
}

type CycleReport struct {
	Reclaimed int
	Claimed   int
	Executed  int
	Released  int
	Errors    int
}

const shutdownReason = "worker shutting down before execution"

type Loop struct {
	source    Source
	cfg       Config
	recorder  Recorder
	lifecycle *Lifecycle
}

func NewLoop(source Source, cfg Config, recorder Recorder) *Loop {
	if cfg.ReclaimLimit <= 0 {
		cfg.ReclaimLimit = cfg.BatchSize
	}
	return &Loop{
		source:    source,
		cfg:       cfg,
		recorder:  recorder,
		lifecycle: NewLifecycle(),
	}
}

func (l *Loop) Kind() string {
	return l.source.Kind()
}

func (l *Loop) Lifecycle() *Lifecycle {
	return l.lifecycle
}

// Run repeats cycles until ctx is cancelled. A cycle in flight when ctx is
// cancelled finishes its current job before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.lifecycle.Advance(StateRunning)
	defer l.lifecycle.Advance(StateStopped)

	slog.InfoContext(ctx, "worker loop started",
		"kind", l.source.Kind(),
		"worker_id", l.cfg.WorkerID,
		"interval", l.cfg.Interval,
		"batch_size", l.cfg.BatchSize,
		"stale_after", l.cfg.StaleAfter,
	)

	for {
		l.RunCycle(ctx)
		if !sleep(ctx, l.cfg.Interval) {
			break
		}
	}

	l.lifecycle.Advance(StateDraining)
	slog.InfoContext(ctx, "worker loop stopped", "kind", l.source.Kind(), "worker_id", l.cfg.WorkerID)
	return nil
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunCycle performs one reclaim, claim and execute pass.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	ctx = middleware.NewCycleContext(middleware.WithWorkerID(ctx, l.cfg.WorkerID))
	kind := l.source.Kind()
	var report CycleReport

	// A failed reclaim must not stop fresh jobs from being claimed.
	n, err := l.source.ReclaimStale(ctx, l.cfg.StaleAfter, l.cfg.ReclaimLimit)
	if err != nil {
		slog.WarnContext(ctx, "stale reclaim failed", "kind", kind, "error", err)
	}
	if n > 0 {
		report.Reclaimed = n
		slog.InfoContext(ctx, "reclaimed stale jobs", "kind", kind, "count", n)
		if l.recorder != nil {
			l.recorder.Reclaimed(kind, n)
		}
	}

	if ctx.Err() != nil {
		return report
	}

	ids, err := l.source.ClaimBatch(ctx, l.cfg.WorkerID, l.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "claim failed", "kind", kind, "claimed", len(ids), "error", err)
		report.Errors++
	}
	report.Claimed = len(ids)
	if l.recorder != nil && len(ids) > 0 {
		l.recorder.Claimed(kind, len(ids))
	}
	if len(ids) > 0 {
		slog.InfoContext(ctx, "claimed jobs", "kind", kind, "count", len(ids))
	}

	// Jobs run detached from ctx so a shutdown does not abort a call already
	// made to an external service.
	runCtx := context.WithoutCancel(ctx)
	for i, id := range ids {
		if ctx.Err() != nil {
			l.lifecycle.Advance(StateDraining)
			report.Released += l.release(runCtx, ids[i:])
			break
		}

		jobCtx := middleware.WithJobID(runCtx, id)
		if err := l.execute(jobCtx, id); err != nil {
			slog.ErrorContext(jobCtx, "job execution failed", "kind", kind, "error", err)
			report.Errors++
		}
		report.Executed++
	}

	l.recordDepth(runCtx)
	return report
}

func (l *Loop) execute(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing %s %s: %v", l.source.Kind(), id, r)
		}
	}()
	return l.source.Execute(ctx, id)
}

func (l *Loop) release(ctx context.Context, ids []string) int {
	released := 0
	for _, id := range ids {
		if err := l.source.Release(ctx, id, shutdownReason); err != nil {
			slog.WarnContext(ctx, "failed to release job on shutdown", "kind", l.source.Kind(), "job_id", id, "error", err)
			continue
		}
		released++
	}
	slog.InfoContext(ctx, "released unstarted jobs", "kind", l.source.Kind(), "count", released)
	return released
}

func (l *Loop) recordDepth(ctx context.Context) {
	counter, ok := l.source.(StatusCounter)
	if !ok || l.recorder == nil {
		return
	}
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to count jobs by status", "kind", l.source.Kind(), "error", err)
		return
	}
	l.recorder.QueueDepth(l.source.Kind(), counts)
}
