package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"maxxit/apps/worker/features/proof"
	"maxxit/apps/worker/features/signal"
	"maxxit/apps/worker/features/stats"
	"maxxit/apps/worker/internal/adapter/executor"
	"maxxit/apps/worker/internal/adapter/prover"
	"maxxit/apps/worker/internal/adapter/registry"
	"maxxit/apps/worker/internal/config"
	"maxxit/apps/worker/internal/events"
	"maxxit/apps/worker/internal/jobqueue"
	"maxxit/apps/worker/internal/metrics"
	"maxxit/apps/worker/internal/middleware"
	"maxxit/apps/worker/internal/venue"
	"maxxit/apps/worker/internal/worker"
)

// Role selects which job kind a process executes.
type Role string

const (
	RoleTrade Role = "trade-worker"
	RoleProof Role = "proof-worker"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Handler http.Handler
	Loops   []*worker.Loop
	Metrics *metrics.Collector

	SignalService *signal.Service
	ProofService  *proof.Service

	port int
}

// New wires the store, services and loops for the given roles and the ops
// server that exposes them.
func New(cfg *config.Config, db *sql.DB, pub *events.Publisher, workerID string, roles ...Role) (*App, error) {
	if pub == nil {
		pub = events.Noop()
	}
	collector := metrics.NewCollector()
	store := jobqueue.NewStore(db).WithConflictHook(collector.ClaimConflict)

	loopCfg := worker.Config{
		WorkerID:     workerID,
		Interval:     cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		StaleAfter:   cfg.StaleAfter,
		ReclaimLimit: cfg.ReclaimLimit,
	}

	a := &App{Metrics: collector, port: cfg.OpsPort}
	var counters []stats.Counter

	for _, role := range roles {
		switch role {
		case RoleTrade:
			router := venue.NewRouter(marketRegistry(cfg, db), venue.NewPostgresDecisionLog(db), cfg.VenueDefaultPriority)
			exec := executor.NewClient(cfg.ExecutorURL, cfg.ExecutorAPIKey, cfg.ExecutorTimeout, cfg.ExecutorRatePerSec)
			a.SignalService = signal.NewService(store, signal.NewPostgresRepo(db), router, exec, pub, collector)
			a.Loops = append(a.Loops, worker.NewLoop(a.SignalService, loopCfg, collector))
			counters = append(counters, a.SignalService)
		case RoleProof:
			var reg proof.Registry
			if cfg.RegistryURL != "" {
				reg = registry.NewClient(cfg.RegistryURL, cfg.RegistryAPIKey)
			}
			p := prover.NewClient(cfg.ProverURL, cfg.ProverAPIKey, cfg.ProverMode, cfg.ProverTimeout)
			a.ProofService = proof.NewService(store, proof.NewPostgresRepo(db), nil, p, reg, pub, collector)
			a.Loops = append(a.Loops, worker.NewLoop(a.ProofService, loopCfg, collector))
			counters = append(counters, a.ProofService)
		default:
			return nil, fmt.Errorf("unknown worker role %q", role)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health)
	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /stats", stats.NewHandler(counters...).GetStats)
	if a.ProofService != nil {
		proof.NewHandler(a.ProofService).Register(mux)
	}
	a.Handler = middleware.CorrelationID(mux)

	return a, nil
}

// marketRegistry reads venue_markets, falling back to the static catalog when
// one is configured and the table cannot be read.
func marketRegistry(cfg *config.Config, db *sql.DB) venue.MarketRegistry {
	primary := venue.NewPostgresRegistry(db)
	if cfg.VenueCatalogPath == "" {
		return primary
	}
	catalog, err := venue.LoadCatalog(cfg.VenueCatalogPath)
	if err != nil {
		slog.Warn("venue catalog not loaded, using database only", "path", cfg.VenueCatalogPath, "error", err)
		return primary
	}
	return venue.NewFallbackRegistry(primary, catalog)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	states := make(map[string]string, len(a.Loops))
	for _, l := range a.Loops {
		s := l.Lifecycle().State()
		states[l.Kind()] = s.String()
		if s != worker.StateRunning {
			status = http.StatusServiceUnavailable
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"status": overall, "loops": states}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode health response", "error", err)
	}
}

// Run starts the ops server and every loop, and blocks until ctx is cancelled
// and the loops have drained.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("ops server starting", "port", a.port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, l := range a.Loops {
		wg.Add(1)
		go func(l *worker.Loop) {
			defer wg.Done()
			if err := l.Run(loopCtx); err != nil {
				slog.Error("worker loop exited", "kind", l.Kind(), "error", err)
			}
		}(l)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("ops server failed: %w", err)
		}
	}
	cancel()
	wg.Wait()

	slog.Info("shutting down ops server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", "error", err)
	}
	return runErr
}
