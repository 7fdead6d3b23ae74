package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"feedport/internal/middleware"
)

// ChunkProcessor is the slice of the executor the consumer needs.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, task ChunkTask) (*ChunkResult, error)
}

var errLocked = errors.New("job locked by another worker")

type ChunkConsumer struct {
	processor ChunkProcessor
	timeout   time.Duration
}

func NewChunkConsumer(p ChunkProcessor) *ChunkConsumer {
	return &ChunkConsumer{processor: p, timeout: 10 * time.Minute}
}

func (h *ChunkConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ChunkTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.processor.ProcessChunk(runCtx, task)
	if err != nil {
		slog.ErrorContext(ctx, "chunk processing failed", "error", err, "job_id", task.JobID, "offset", task.Offset)
		return err // Retry
	}

	if res.Locked {
		// Another worker holds the lock; requeue with backoff instead
		// of processing the same offset twice.
		slog.InfoContext(ctx, "chunk requeued, job locked", "job_id", task.JobID, "offset", task.Offset)
		return errLocked
	}

	if res.Stopped {
		slog.InfoContext(ctx, "chunk dropped", "job_id", task.JobID, "offset", task.Offset, "epoch", task.Epoch)
		return nil
	}

	slog.InfoContext(ctx, "chunk processed", "job_id", task.JobID, "offset", task.Offset)
	return nil
}
