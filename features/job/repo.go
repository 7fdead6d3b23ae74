package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"feedport/internal/schedule"
)

type Repository interface {
	Save(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]Job, error)
	Update(ctx context.Context, j *Job) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)

	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	// UpdateProgress persists status and processed count in one
	// statement so a crash between the two cannot skew resume offsets.
	UpdateProgress(ctx context.Context, id, status string, processed, total int) error
	// AdvanceProgress persists chunk progress only while the job is
	// still processing. Returns false without writing when an operator
	// moved the job out of processing mid-chunk.
	AdvanceProgress(ctx context.Context, id, status string, processed, total int) (bool, error)
	IncrementEpoch(ctx context.Context, id string) (int, error)
	MarkRun(ctx context.Context, id string, at time.Time) error
	ListScheduled(ctx context.Context) ([]Job, error)
	SumProcessed(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, name, source_path, format, wrapper, mapping, filters, filter_logic, grouping,
	update_existing, skip_unchanged, draft_non_matching, batch_size, schedule,
	status, total_records, processed_records, run_epoch, last_run, error, created_at, updated_at`

func (r *PostgresRepo) Save(ctx context.Context, j *Job) error {
	mappingJSON, filtersJSON, groupingJSON, err := marshalJobBlobs(j)
	if err != nil {
		return err
	}

	query := `INSERT INTO import_jobs (name, source_path, format, wrapper, mapping, filters, filter_logic, grouping,
		update_existing, skip_unchanged, draft_non_matching, batch_size, schedule, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, status, run_epoch, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		j.Name, j.SourcePath, j.Format, j.Wrapper, mappingJSON, filtersJSON, j.FilterLogic, groupingJSON,
		j.UpdateExisting, j.SkipUnchanged, j.DraftNonMatching, j.BatchSize, string(j.Schedule), StatusPending,
	).Scan(&j.ID, &j.Status, &j.RunEpoch, &j.CreatedAt, &j.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanJob(row)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs ORDER BY created_at DESC`
	return r.queryJobs(ctx, query)
}

func (r *PostgresRepo) ListScheduled(ctx context.Context) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE schedule <> '' AND status NOT IN ('processing', 'paused')`
	return r.queryJobs(ctx, query)
}

func (r *PostgresRepo) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, j *Job) error {
	mappingJSON, filtersJSON, groupingJSON, err := marshalJobBlobs(j)
	if err != nil {
		return err
	}

	query := `UPDATE import_jobs SET name = $1, source_path = $2, format = $3, wrapper = $4, mapping = $5,
		filters = $6, filter_logic = $7, grouping = $8, update_existing = $9, skip_unchanged = $10,
		draft_non_matching = $11, batch_size = $12, schedule = $13, updated_at = NOW()
		WHERE id = $14`
	res, err := r.db.ExecContext(ctx, query,
		j.Name, j.SourcePath, j.Format, j.Wrapper, mappingJSON, filtersJSON, j.FilterLogic, groupingJSON,
		j.UpdateExisting, j.SkipUnchanged, j.DraftNonMatching, j.BatchSize, string(j.Schedule), j.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_jobs`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) SumProcessed(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(processed_records), 0) FROM import_jobs`).Scan(&total)
	return total, err
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	query := `UPDATE import_jobs SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, errMsg, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, id, status string, processed, total int) error {
	query := `UPDATE import_jobs SET status = $1, processed_records = $2, total_records = $3, updated_at = NOW() WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, status, processed, total, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) AdvanceProgress(ctx context.Context, id, status string, processed, total int) (bool, error) {
	query := `UPDATE import_jobs SET status = $1, processed_records = $2, total_records = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'processing'`
	res, err := r.db.ExecContext(ctx, query, status, processed, total, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepo) IncrementEpoch(ctx context.Context, id string) (int, error) {
	var epoch int
	query := `UPDATE import_jobs SET run_epoch = run_epoch + 1, updated_at = NOW() WHERE id = $1 RETURNING run_epoch`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&epoch)
	return epoch, err
}

func (r *PostgresRepo) MarkRun(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE import_jobs SET last_run = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var mappingJSON, filtersJSON, groupingJSON []byte
	var wrapper, filterLogic, scheduleStr, errMsg sql.NullString
	var lastRun sql.NullTime

	err := row.Scan(&j.ID, &j.Name, &j.SourcePath, &j.Format, &wrapper, &mappingJSON, &filtersJSON,
		&filterLogic, &groupingJSON, &j.UpdateExisting, &j.SkipUnchanged, &j.DraftNonMatching,
		&j.BatchSize, &scheduleStr, &j.Status, &j.TotalRecords, &j.ProcessedRecords, &j.RunEpoch,
		&lastRun, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Wrapper = wrapper.String
	j.FilterLogic = filterLogic.String
	j.Schedule = schedule.Interval(scheduleStr.String)
	j.Error = errMsg.String
	if lastRun.Valid {
		j.LastRun = lastRun.Time
	}

	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &j.Mapping); err != nil {
			return nil, fmt.Errorf("decode mapping for job %s: %w", j.ID, err)
		}
	}
	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &j.Filters); err != nil {
			return nil, fmt.Errorf("decode filters for job %s: %w", j.ID, err)
		}
	}
	if len(groupingJSON) > 0 {
		if err := json.Unmarshal(groupingJSON, &j.Grouping); err != nil {
			return nil, fmt.Errorf("decode grouping for job %s: %w", j.ID, err)
		}
	}

	return j, nil
}

func marshalJobBlobs(j *Job) (mappingJSON, filtersJSON, groupingJSON []byte, err error) {
	if j.Filters == nil {
		j.Filters = []Filter{}
	}

	mappingJSON, err = json.Marshal(j.Mapping)
	if err != nil {
		return nil, nil, nil, err
	}
	filtersJSON, err = json.Marshal(j.Filters)
	if err != nil {
		return nil, nil, nil, err
	}
	groupingJSON, err = json.Marshal(j.Grouping)
	if err != nil {
		return nil, nil, nil, err
	}
	return mappingJSON, filtersJSON, groupingJSON, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
