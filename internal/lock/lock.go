package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DefaultTTL is the staleness horizon after which a held lock is considered
// abandoned by a crashed worker and may be reclaimed.
const DefaultTTL = 5 * time.Minute

// Store is the keyed lease abstraction guarding chunk processing: one lock
// per import job, owned by the durable store so correctness holds across
// process restarts.
type Store interface {
	// Acquire takes the job's lock. It returns false without error when
	// the lock is held and not yet stale; a stale lock is reclaimed.
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobID string) error
	// IsStale reports whether a currently held lock has outlived ttl.
	IsStale(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO import_locks (job_id, acquired_at) VALUES ($1, NOW())
		ON CONFLICT (job_id) DO UPDATE SET acquired_at = NOW()
		WHERE import_locks.acquired_at < NOW() - make_interval(secs => $2)
	`
	res, err := s.db.ExecContext(ctx, query, jobID, ttl.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM import_locks WHERE job_id = $1`, jobID)
	return err
}

func (s *PostgresStore) IsStale(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	var stale bool
	query := `SELECT acquired_at < NOW() - make_interval(secs => $2) FROM import_locks WHERE job_id = $1`
	err := s.db.QueryRowContext(ctx, query, jobID, ttl.Seconds()).Scan(&stale)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stale, nil
}
