package logger

import (
	"context"
	"log/slog"
	"os"

	"maxxit/apps/worker/internal/middleware"
)

// ContextHandler copies the correlation, worker and job ids carried by the
// context onto every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id := middleware.GetWorkerID(ctx); id != "" {
		r.AddAttrs(slog.String("worker_id", id))
	}
	if id := middleware.GetJobID(ctx); id != "" {
		r.AddAttrs(slog.String("job_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// New builds the process logger: JSON to stdout, context ids attached.
func New(level slog.Level) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
