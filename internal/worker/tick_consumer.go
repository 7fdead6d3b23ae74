package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"feedport/internal/middleware"
)

// Scheduler starts whichever jobs are due at the tick time.
type Scheduler interface {
	StartDue(ctx context.Context, now time.Time) error
}

type TickConsumer struct {
	scheduler Scheduler
}

func NewTickConsumer(s Scheduler) *TickConsumer {
	return &TickConsumer{scheduler: s}
}

func (h *TickConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload TickPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	now := time.Now().UTC()
	if payload.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Now); err == nil {
			now = parsed
		}
	}

	tickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := h.scheduler.StartDue(tickCtx, now); err != nil {
		slog.ErrorContext(ctx, "scheduler tick failed", "error", err)
		return err // Retry
	}

	return nil
}
