package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	WorkerKey
	JobKey
)

// quietPaths are polled by health checks and scrapers and are not logged per request.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationKey, id)
		w.Header().Set("X-Correlation-ID", id)

		if quietPaths[r.URL.Path] {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// NewCycleContext starts a poll cycle with a fresh correlation id.
func NewCycleContext(ctx context.Context) context.Context {
	return WithCorrelationID(ctx, uuid.New().String())
}

func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, WorkerKey, id)
}

func GetWorkerID(ctx context.Context) string {
	id, _ := ctx.Value(WorkerKey).(string)
	return id
}

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, JobKey, id)
}

func GetJobID(ctx context.Context) string {
	id, _ := ctx.Value(JobKey).(string)
	return id
}
