package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedport/features/catalog"
	"feedport/features/job"
	"feedport/internal/config"
	"feedport/internal/lock"
	"feedport/internal/mapping"
	"feedport/internal/parser"
	"feedport/internal/processor"
	"feedport/internal/record"
	"feedport/internal/worker"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Settings interface {
	LockTTL(ctx context.Context) time.Duration
}

// Executor processes one chunk of an import run at a time. Progress is
// persisted after every chunk so a crashed worker loses at most one
// chunk of work.
type Executor struct {
	jobs   job.Repository
	writer catalog.Writer
	locks  lock.Store
	proc   *processor.Processor
	pub    EventPublisher
	cfg    Settings
}

func New(jobs job.Repository, writer catalog.Writer, locks lock.Store, proc *processor.Processor, pub EventPublisher, cfg Settings) *Executor {
	return &Executor{jobs: jobs, writer: writer, locks: locks, proc: proc, pub: pub, cfg: cfg}
}

func (e *Executor) ProcessChunk(ctx context.Context, task worker.ChunkTask) (*worker.ChunkResult, error) {
	res := &worker.ChunkResult{JobID: task.JobID, Offset: task.Offset}

	j, err := e.jobs.Get(ctx, task.JobID)
	if errors.Is(err, sql.ErrNoRows) {
		slog.WarnContext(ctx, "chunk task for unknown job dropped", "job_id", task.JobID)
		res.Stopped = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	// A stop or restart bumps the epoch; triggers from the old run are
	// dropped here.
	if task.Epoch != j.RunEpoch {
		slog.InfoContext(ctx, "stale chunk task dropped", "job_id", j.ID, "task_epoch", task.Epoch, "run_epoch", j.RunEpoch)
		res.Stopped = true
		return res, nil
	}

	if j.Status != job.StatusProcessing {
		slog.InfoContext(ctx, "chunk task for inactive job dropped", "job_id", j.ID, "status", j.Status)
		res.Stopped = true
		return res, nil
	}

	ok, err := e.locks.Acquire(ctx, j.ID, e.cfg.LockTTL(ctx))
	if err != nil {
		return nil, err
	}
	if !ok {
		res.Locked = true
		return res, nil
	}
	defer func() {
		if err := e.locks.Release(context.WithoutCancel(ctx), j.ID); err != nil {
			slog.WarnContext(ctx, "failed to release job lock", "job_id", j.ID, "error", err)
		}
	}()

	feed, err := openFeed(j)
	if err != nil {
		return nil, e.fail(ctx, j, err)
	}

	total := j.TotalRecords
	if total == 0 {
		if total, err = countRecords(feed, j); err != nil {
			return nil, e.fail(ctx, j, err)
		}
	}

	records, err := extract(feed, j, task.Offset, task.Limit)
	if err != nil {
		return nil, e.fail(ctx, j, err)
	}

	flags := catalog.WriteFlags{
		JobID:          j.ID,
		UpdateExisting: j.UpdateExisting,
		SkipUnchanged:  j.SkipUnchanged,
		SyncFields:     syncTargets(j.Mapping),
	}
	for i, rec := range records {
		e.processRecord(ctx, j, rec, task.Offset+i, flags, res)
	}

	res.Processed = len(records)
	res.TotalProcessed = task.Offset + len(records)
	res.Completed = len(records) < task.Limit || res.TotalProcessed >= total

	status := job.StatusProcessing
	if res.Completed {
		status = job.StatusCompleted
	}

	// The guarded write leaves an operator's pause or stop issued while
	// this chunk was in flight untouched; the run halts here.
	advanced, err := e.jobs.AdvanceProgress(ctx, j.ID, status, res.TotalProcessed, total)
	if err != nil {
		return nil, err
	}
	if !advanced {
		slog.InfoContext(ctx, "job left processing mid-chunk, run halted", "job_id", j.ID)
		res.Completed = false
		res.Stopped = true
		e.publishResult(ctx, task, res)
		return res, nil
	}

	if res.Completed {
		e.finishRun(ctx, j)
	} else if err := e.publishNext(ctx, j, task, res.TotalProcessed); err != nil {
		return nil, err
	}

	e.publishResult(ctx, task, res)
	return res, nil
}

func (e *Executor) processRecord(ctx context.Context, j *job.Job, rec *record.Record, rowIndex int, flags catalog.WriteFlags, res *worker.ChunkResult) {
	if !j.Matches(filterValues(j, rec)) {
		res.Skipped++
		return
	}

	out := e.transform(ctx, j, rec, rowIndex)
	for _, v := range rec.Variants {
		child := e.transform(ctx, j, v, rowIndex)
		out.Variants = append(out.Variants, child)
	}

	outcome, err := e.writer.Write(ctx, out, flags)
	if err != nil {
		slog.WarnContext(ctx, "record write failed", "job_id", j.ID, "row", rowIndex, "error", err)
		res.Errors = append(res.Errors, worker.ChunkError{
			Row:     rowIndex,
			SKU:     out.GetString("sku"),
			Message: err.Error(),
		})
		return
	}

	switch outcome {
	case catalog.OutcomeCreated:
		res.Created++
	case catalog.OutcomeUpdated:
		res.Updated++
	case catalog.OutcomeSkipped:
		res.Skipped++
	}
}

// transform maps a raw feed record onto the configured target fields,
// emitting them in the mapping's authored order.
func (e *Executor) transform(ctx context.Context, j *job.Job, rec *record.Record, rowIndex int) *record.Record {
	mctx := mapping.Context{RowIndex: rowIndex, SourceName: j.Name}

	values := make(map[string]any, j.Mapping.Len())
	j.Mapping.Each(func(target string, entry mapping.Entry) {
		if v, ok := mapping.Resolve(entry, rec, mctx); ok {
			values[target] = v
		}
	})

	processed := e.proc.ProcessBatch(ctx, values, j.Mapping, rec)

	out := record.New()
	j.Mapping.Each(func(target string, _ mapping.Entry) {
		if v, ok := processed[target]; ok {
			out.Set(target, v)
		}
	})
	return out
}

// syncTargets lists the mapped fields whose update_on_sync flag lets a
// re-import overwrite stored values. Nil when no mapping is configured,
// which leaves the writer's overwrite-all behaviour in place.
func syncTargets(cfg mapping.Config) []string {
	if cfg.Len() == 0 {
		return nil
	}
	out := []string{}
	cfg.Each(func(target string, e mapping.Entry) {
		if e.UpdateOnSync {
			out = append(out, target)
		}
	})
	return out
}

func (e *Executor) finishRun(ctx context.Context, j *job.Job) {
	if !j.DraftNonMatching {
		return
	}
	since := j.LastRun
	if since.IsZero() {
		return
	}
	n, err := e.writer.DemoteUnseen(ctx, j.ID, since)
	if err != nil {
		slog.ErrorContext(ctx, "failed to demote unmatched products", "job_id", j.ID, "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "unmatched products demoted to draft", "job_id", j.ID, "count", n)
	}
}

func (e *Executor) publishNext(ctx context.Context, j *job.Job, task worker.ChunkTask, offset int) error {
	next := worker.ChunkTask{
		JobID:         j.ID,
		Offset:        offset,
		Limit:         task.Limit,
		Epoch:         task.Epoch,
		CorrelationID: task.CorrelationID,
	}
	body, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := e.pub.Publish(config.TopicImportChunk, body); err != nil {
		return fmt.Errorf("failed to publish next chunk: %w", err)
	}
	return nil
}

func (e *Executor) publishResult(ctx context.Context, task worker.ChunkTask, res *worker.ChunkResult) {
	event := worker.ChunkResultEvent{
		JobID:         res.JobID,
		Offset:        res.Offset,
		Processed:     res.Processed,
		Completed:     res.Completed,
		Errors:        res.Errors,
		CorrelationID: task.CorrelationID,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.pub.Publish(config.TopicImportResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish chunk result", "job_id", res.JobID, "error", err)
	}
}

// fail marks the job failed so a retry can pick up from the persisted
// offset. The original error propagates to the caller.
func (e *Executor) fail(ctx context.Context, j *job.Job, cause error) error {
	if err := e.jobs.UpdateStatus(ctx, j.ID, job.StatusFailed, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to mark job failed", "job_id", j.ID, "error", err)
	}
	return cause
}

type feedSource interface {
	CountRecords() (int, error)
	ExtractRecords(offset, limit int) ([]*record.Record, error)
}

func openFeed(j *job.Job) (feedSource, error) {
	switch j.Format {
	case job.FormatDelimited, "":
		return parser.NewDelimited(j.SourcePath), nil
	case job.FormatHierarchical:
		return parser.NewHierarchical(j.SourcePath, j.Wrapper), nil
	default:
		return nil, fmt.Errorf("unknown feed format %q", j.Format)
	}
}

func groupOptions(j *job.Job) parser.GroupOptions {
	return parser.GroupOptions{
		ParentKey:  j.Grouping.ParentKey,
		TypeColumn: j.Grouping.TypeColumn,
		IDColumn:   j.Grouping.IDColumn,
		Heuristic:  j.Grouping.Heuristic,
	}
}

// countRecords totals the feed in the same units extraction advances in:
// groups for grouped delimited feeds, rows otherwise. Hierarchical feeds
// already count one record per wrapper element.
func countRecords(feed feedSource, j *job.Job) (int, error) {
	if j.Grouping.Enabled {
		if f, ok := feed.(*parser.Delimited); ok {
			return f.CountGrouped(groupOptions(j))
		}
	}
	return feed.CountRecords()
}

func extract(feed feedSource, j *job.Job, offset, limit int) ([]*record.Record, error) {
	if !j.Grouping.Enabled {
		return feed.ExtractRecords(offset, limit)
	}

	switch f := feed.(type) {
	case *parser.Delimited:
		return f.ExtractGrouped(groupOptions(j), offset, limit)
	case *parser.Hierarchical:
		return f.ExtractGrouped(j.Grouping.ContainerPath, offset, limit)
	default:
		return feed.ExtractRecords(offset, limit)
	}
}

// filterValues gathers only the fields the job's filters reference.
func filterValues(j *job.Job, rec *record.Record) map[string]string {
	if len(j.Filters) == 0 {
		return nil
	}
	values := make(map[string]string, len(j.Filters))
	for _, f := range j.Filters {
		values[f.Field] = rec.GetString(f.Field)
	}
	return values
}

