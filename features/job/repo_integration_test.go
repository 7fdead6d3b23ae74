package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedport/features/job"
	"feedport/internal/lock"
	"feedport/internal/mapping"
	"feedport/internal/schedule"
	"feedport/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	m := mapping.NewConfig()
	m.Set("name", mapping.Entry{Source: "title", Mode: mapping.ModeDirect})
	m.Set("price", mapping.Entry{Source: "cost", Mode: mapping.ModeFormula, Formula: "value * 1.19"})

	j := &job.Job{
		Name:       "integration feed",
		SourcePath: "/feeds/integration.csv",
		Format:     job.FormatDelimited,
		Mapping:    m,
		Filters:        []job.Filter{{Field: "status", Operator: "eq", Value: "active"}},
		Grouping:       job.Grouping{Enabled: true, ParentKey: "group_id", Heuristic: true},
		UpdateExisting: true,
		BatchSize:      50,
		Schedule:       schedule.Daily,
	}
	require.NoError(t, repo.Save(ctx, j))
	require.NotEmpty(t, j.ID)
	assert.Equal(t, job.StatusPending, j.Status)

	// Round-trip
	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "integration feed", got.Name)
	assert.Equal(t, mapping.ModeFormula, got.Mapping.Entry("price").Mode)
	assert.Len(t, got.Filters, 1)
	assert.True(t, got.Grouping.Enabled)
	assert.Equal(t, schedule.Daily, got.Schedule)

	// Progress persistence survives reload
	require.NoError(t, repo.UpdateProgress(ctx, j.ID, job.StatusProcessing, 150, 1000))
	got, err = repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, got.ProcessedRecords)
	assert.Equal(t, 1000, got.TotalRecords)
	assert.Equal(t, job.StatusProcessing, got.Status)

	// Guarded advance refuses once the job leaves processing
	require.NoError(t, repo.UpdateStatus(ctx, j.ID, job.StatusPaused, ""))
	advanced, err := repo.AdvanceProgress(ctx, j.ID, job.StatusCompleted, 1000, 1000)
	require.NoError(t, err)
	assert.False(t, advanced)
	got, err = repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPaused, got.Status)
	assert.Equal(t, 150, got.ProcessedRecords)

	require.NoError(t, repo.UpdateStatus(ctx, j.ID, job.StatusProcessing, ""))
	advanced, err = repo.AdvanceProgress(ctx, j.ID, job.StatusProcessing, 300, 1000)
	require.NoError(t, err)
	assert.True(t, advanced)

	// Epoch fencing increments monotonically
	e1, err := repo.IncrementEpoch(ctx, j.ID)
	require.NoError(t, err)
	e2, err := repo.IncrementEpoch(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, e1+1, e2)

	// Scheduled listing excludes jobs mid-run
	scheduled, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, scheduled)

	require.NoError(t, repo.UpdateStatus(ctx, j.ID, job.StatusCompleted, ""))
	scheduled, err = repo.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, j.ID, scheduled[0].ID)
}

func TestLockStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	locks := lock.NewPostgresStore(s.DB)
	ctx := context.Background()

	j := &job.Job{Name: "lock test", SourcePath: "/feeds/a.csv", Format: job.FormatDelimited}
	require.NoError(t, repo.Save(ctx, j))

	ok, err := locks.Acquire(ctx, j.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquire within the TTL fails
	ok, err = locks.Acquire(ctx, j.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale lock is taken over
	ok, err = locks.Acquire(ctx, j.ID, time.Nanosecond)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locks.Release(ctx, j.ID))
	ok, err = locks.Acquire(ctx, j.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
