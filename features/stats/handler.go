package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"feedport/internal/middleware"
)

type JobRepo interface {
	Count(ctx context.Context) (int, error)
	SumProcessed(ctx context.Context) (int, error)
}

type ProductStore interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	jobRepo  JobRepo
	products ProductStore
}

func NewHandler(j JobRepo, p ProductStore) *Handler {
	return &Handler{jobRepo: j, products: p}
}

type StatsResponse struct {
	Jobs             int `json:"jobs"`
	Products         int `json:"products"`
	ProcessedRecords int `json:"processed_records"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	processed, err := h.jobRepo.SumProcessed(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sum processed records", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to sum processed records", http.StatusInternalServerError)
		return
	}

	pCount, err := h.products.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count products", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count products", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Jobs:             jCount,
		Products:         pCount,
		ProcessedRecords: processed,
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
