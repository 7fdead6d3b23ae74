package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedport/internal/config"
	"feedport/internal/middleware"
	"feedport/internal/parser"
	"feedport/internal/record"
	"feedport/internal/schedule"
	"feedport/internal/worker"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type LockStore interface {
	Release(ctx context.Context, jobID string) error
}

type SettingsService interface {
	DefaultBatchSize(ctx context.Context) int
}

type Service struct {
	repo  Repository
	pub   EventPublisher
	locks LockStore
	cfg   SettingsService
}

func NewService(repo Repository, pub EventPublisher, locks LockStore, cfg SettingsService) *Service {
	return &Service{repo: repo, pub: pub, locks: locks, cfg: cfg}
}

func (s *Service) Create(ctx context.Context, j *Job) error {
	if err := s.validate(ctx, j); err != nil {
		return err
	}
	return s.repo.Save(ctx, j)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, j *Job) error {
	current, err := s.repo.Get(ctx, j.ID)
	if err != nil {
		return err
	}
	if current.Status == StatusProcessing {
		return fmt.Errorf("%w: cannot edit a job while it is processing", ErrInvalidTransition)
	}
	if err := s.validate(ctx, j); err != nil {
		return err
	}
	return s.repo.Update(ctx, j)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == StatusProcessing {
		return fmt.Errorf("%w: cannot delete a job while it is processing", ErrInvalidTransition)
	}
	return s.repo.Delete(ctx, id)
}

// Start begins a fresh run from record zero. Allowed from pending,
// completed and failed. The epoch bump invalidates any chunk triggers
// still queued from a previous run.
func (s *Service) Start(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch j.Status {
	case StatusPending, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, j.Status)
	}

	epoch, err := s.repo.IncrementEpoch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateProgress(ctx, id, StatusProcessing, 0, j.TotalRecords); err != nil {
		return err
	}
	if err := s.repo.MarkRun(ctx, id, time.Now().UTC()); err != nil {
		slog.WarnContext(ctx, "failed to record run time", "job_id", id, "error", err)
	}

	return s.publishChunk(ctx, j, 0, epoch)
}

// Pause halts a processing job after the current chunk. The lock is
// released so a later resume (possibly on another node) can proceed
// immediately.
func (s *Service) Pause(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, j.Status)
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusPaused, ""); err != nil {
		return err
	}
	if err := s.locks.Release(ctx, id); err != nil {
		slog.WarnContext(ctx, "failed to release lock on pause", "job_id", id, "error", err)
	}
	return nil
}

// Resume continues a paused job from its persisted offset.
func (s *Service) Resume(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != StatusPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, j.Status)
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusProcessing, ""); err != nil {
		return err
	}
	return s.publishChunk(ctx, j, j.ProcessedRecords, j.RunEpoch)
}

// Stop abandons the run: the job lands in failed so a later retry can
// resume from the persisted offset, the lock is released and the epoch
// bump cancels any pending chunk triggers.
func (s *Service) Stop(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch j.Status {
	case StatusProcessing, StatusPaused:
	default:
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, j.Status)
	}

	if _, err := s.repo.IncrementEpoch(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusFailed, "stopped by operator"); err != nil {
		return err
	}
	if err := s.locks.Release(ctx, id); err != nil {
		slog.WarnContext(ctx, "failed to release lock on stop", "job_id", id, "error", err)
	}
	return nil
}

// Retry picks a failed run back up from the last persisted offset.
func (s *Service) Retry(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != StatusFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, j.Status)
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusProcessing, ""); err != nil {
		return err
	}
	return s.publishChunk(ctx, j, j.ProcessedRecords, j.RunEpoch)
}

// StartDue starts every scheduled job whose interval has elapsed.
// Called by the tick consumer.
func (s *Service) StartDue(ctx context.Context, now time.Time) error {
	jobs, err := s.repo.ListScheduled(ctx)
	if err != nil {
		return err
	}

	for i := range jobs {
		j := &jobs[i]
		if !j.Schedule.Due(j.LastRun, now) {
			continue
		}
		if err := s.Start(ctx, j.ID); err != nil {
			slog.ErrorContext(ctx, "failed to start scheduled job", "job_id", j.ID, "error", err)
		} else {
			slog.InfoContext(ctx, "scheduled job started", "job_id", j.ID, "schedule", j.Schedule)
		}
	}
	return nil
}

// Preview parses one page of the feed's structure for the mapping UI.
func (s *Service) Preview(ctx context.Context, id string, page, pageSize int) (*parser.Structure, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	feed, err := openFeed(j)
	if err != nil {
		return nil, err
	}
	return feed.ParseStructure(page, pageSize)
}

// Feed is the slice of parser behaviour the import path needs.
type Feed interface {
	ParseStructure(page, pageSize int) (*parser.Structure, error)
	ExtractRecords(offset, limit int) ([]*record.Record, error)
	CountRecords() (int, error)
}

func openFeed(j *Job) (Feed, error) {
	switch j.Format {
	case FormatDelimited, "":
		return parser.NewDelimited(j.SourcePath), nil
	case FormatHierarchical:
		return parser.NewHierarchical(j.SourcePath, j.Wrapper), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrValidation, j.Format)
	}
}

func (s *Service) publishChunk(ctx context.Context, j *Job, offset, epoch int) error {
	limit := j.BatchSize
	if limit <= 0 {
		limit = s.cfg.DefaultBatchSize(ctx)
	}

	task := worker.ChunkTask{
		JobID:         j.ID,
		Offset:        offset,
		Limit:         limit,
		Epoch:         epoch,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicImportChunk, body); err != nil {
		return fmt.Errorf("failed to publish chunk task: %w", err)
	}

	slog.InfoContext(ctx, "chunk task published", "job_id", j.ID, "offset", offset, "limit", limit, "epoch", epoch)
	return nil
}

func (s *Service) validate(ctx context.Context, j *Job) error {
	if j.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if j.SourcePath == "" {
		return fmt.Errorf("%w: source_path is required", ErrValidation)
	}
	switch j.Format {
	case FormatDelimited, FormatHierarchical:
	case "":
		j.Format = FormatDelimited
	default:
		return fmt.Errorf("%w: unknown format %q", ErrValidation, j.Format)
	}
	if j.Format == FormatHierarchical && j.Wrapper == "" {
		return fmt.Errorf("%w: wrapper is required for hierarchical feeds", ErrValidation)
	}
	if _, err := schedule.Parse(string(j.Schedule)); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if j.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size cannot be negative", ErrValidation)
	}
	switch j.FilterLogic {
	case "", FilterLogicAnd, FilterLogicOr:
	default:
		return fmt.Errorf("%w: filter_logic must be %q or %q", ErrValidation, FilterLogicAnd, FilterLogicOr)
	}
	for _, f := range j.Filters {
		switch f.Operator {
		case "", "eq", "ne", "contains", "gt", "lt":
		default:
			return fmt.Errorf("%w: unknown filter operator %q", ErrValidation, f.Operator)
		}
		if f.Field == "" {
			return fmt.Errorf("%w: filter field is required", ErrValidation)
		}
	}
	return nil
}
