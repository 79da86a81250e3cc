package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"maxxit/apps/worker/internal/jobqueue"
	"maxxit/apps/worker/internal/middleware"
)

// Counter reports the number of jobs per status for one job kind.
type Counter interface {
	Kind() string
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type Handler struct {
	counters []Counter
}

func NewHandler(counters ...Counter) *Handler {
	return &Handler{counters: counters}
}

// KindStats always lists every status, zero when no job has it.
type KindStats map[string]int

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	resp := make(map[string]KindStats, len(h.counters))
	for _, c := range h.counters {
		counts, err := c.CountByStatus(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count jobs", "kind", c.Kind(), "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count "+c.Kind()+" jobs", http.StatusInternalServerError)
			return
		}
		ks := KindStats{}
		for _, s := range jobqueue.Statuses {
			ks[string(s)] = counts[string(s)]
		}
		resp[c.Kind()] = ks
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
