package lock_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"feedport/internal/lock"
)

const acquireQuery = `INSERT INTO import_locks (job_id, acquired_at) VALUES ($1, NOW())`

func TestPostgresStore_Acquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := lock.NewPostgresStore(db)

	t.Run("Free", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(acquireQuery)).
			WithArgs("job-1", float64(300)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.Acquire(context.Background(), "job-1", 5*time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("HeldNotStale", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(acquireQuery)).
			WithArgs("job-1", float64(300)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := store.Acquire(context.Background(), "job-1", 5*time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPostgresStore_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := lock.NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM import_locks WHERE job_id = $1`)).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.Release(context.Background(), "job-1"))
}

func TestPostgresStore_IsStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := lock.NewPostgresStore(db)

	t.Run("Stale", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT acquired_at < NOW() - make_interval(secs => $2) FROM import_locks WHERE job_id = $1`)).
			WithArgs("job-1", float64(300)).
			WillReturnRows(sqlmock.NewRows([]string{"stale"}).AddRow(true))

		stale, err := store.IsStale(context.Background(), "job-1", 5*time.Minute)
		assert.NoError(t, err)
		assert.True(t, stale)
	})

	t.Run("NoLockIsNotStale", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT acquired_at`)).
			WithArgs("job-1", float64(300)).
			WillReturnRows(sqlmock.NewRows([]string{"stale"}))

		stale, err := store.IsStale(context.Background(), "job-1", 5*time.Minute)
		assert.NoError(t, err)
		assert.False(t, stale)
	})
}
