package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/testutil"
)

func TestJobRepo_KillStalePendingJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	clock := testutil.NewTestTimeProvider(testutil.TestTime)
	repo := newTestRepo(t, RepoConfig{TimeProvider: clock})
	ctx := context.Background()

	stale, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh, err := repo.Create(ctx, testutil.ExportRequest("owner-2", "figures"))
	require.NoError(t, err)

	// A pending preview older than the cutoff is untouched: kinds reap
	// independently.
	_, err = repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/p"))
	require.NoError(t, err)

	cutoff := testutil.TestTime.Add(15 * time.Minute)
	killed, err := repo.KillStalePendingJobs(ctx, core.ReapParams{
		Kind:      model.JobKindExport,
		Cutoff:    cutoff,
		BatchSize: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, killed)

	got, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateKilled, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "job timed out waiting for a worker", *got.FailureReason)
	require.NotNil(t, got.CompletedAt)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, got.State)

	previews, err := repo.Stats(ctx, model.JobKindPreview)
	require.NoError(t, err)
	assert.Equal(t, 1, previews.Pending)

	// Idempotent on a second pass.
	killed, err = repo.KillStalePendingJobs(ctx, core.ReapParams{
		Kind:      model.JobKindExport,
		Cutoff:    cutoff,
		BatchSize: 100,
	})
	require.NoError(t, err)
	assert.Zero(t, killed)
}

func TestJobRepo_KillStaleInProgressJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	clock := testutil.NewTestTimeProvider(testutil.TestTime)
	repo := newTestRepo(t, RepoConfig{TimeProvider: clock})
	ctx := context.Background()

	job, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)
	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	// Cutoff before started_at: job still within its runtime budget.
	killed, err := repo.KillStaleInProgressJobs(ctx, core.ReapParams{
		Kind:      model.JobKindExport,
		Cutoff:    testutil.TestTime.Add(-time.Minute),
		BatchSize: 100,
	})
	require.NoError(t, err)
	assert.Zero(t, killed)

	killed, err = repo.KillStaleInProgressJobs(ctx, core.ReapParams{
		Kind:      model.JobKindExport,
		Cutoff:    testutil.TestTime.Add(time.Minute),
		BatchSize: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, killed)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateKilled, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "job timed out while running", *got.FailureReason)
}

func TestJobRepo_KillStaleJobs_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	_, err := repo.KillStalePendingJobs(ctx, core.ReapParams{
		Kind:      "bogus",
		Cutoff:    time.Now(),
		BatchSize: 10,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job kind")

	_, err = repo.KillStalePendingJobs(ctx, core.ReapParams{
		Kind:   model.JobKindExport,
		Cutoff: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size")
}

func TestJobRepo_KillStaleJobs_BatchSize(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	clock := testutil.NewTestTimeProvider(testutil.TestTime)
	repo := newTestRepo(t, RepoConfig{TimeProvider: clock})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, testutil.BulkRequest("owner-1", "event-1", "figure-1"))
		require.NoError(t, err)
	}

	params := core.ReapParams{
		Kind:      model.JobKindBulk,
		Cutoff:    testutil.TestTime.Add(time.Minute),
		BatchSize: 2,
	}
	killed, err := repo.KillStalePendingJobs(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, killed)

	killed, err = repo.KillStalePendingJobs(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, killed)

	killed, err = repo.KillStalePendingJobs(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, killed)
}

func TestJobRepo_DeleteOldJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	clock := testutil.NewTestTimeProvider(testutil.TestTime)
	repo := newTestRepo(t, RepoConfig{TimeProvider: clock})
	ctx := context.Background()

	// Terminal job with an artifact, finished long ago.
	old, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)
	_, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	_, err = repo.Complete(ctx, old.ID, &model.Artifact{Data: []byte("csv")})
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)

	// Recent terminal job.
	recent, err := repo.Create(ctx, testutil.ExportRequest("owner-2", "figures"))
	require.NoError(t, err)
	_, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	_, err = repo.Fail(ctx, recent.ID, "boom")
	require.NoError(t, err)

	// Non-terminal job older than the cutoff must survive.
	pending, err := repo.Create(ctx, testutil.ExportRequest("owner-3", "figures"))
	require.NoError(t, err)

	_, err = repo.DeleteOldJobs(ctx, time.Now(), 0)
	require.Error(t, err)

	deleted, err := repo.DeleteOldJobs(ctx, testutil.TestTime.Add(24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.GetByID(ctx, old.ID)
	require.ErrorIs(t, err, core.ErrJobNotFound)

	// The artifact went with the job by cascade.
	artifacts := NewArtifactRepo(repo.DB, nil)
	_, err = artifacts.GetByJobID(ctx, old.ID)
	require.ErrorIs(t, err, core.ErrArtifactNotFound)

	_, err = repo.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	_, err = repo.GetByID(ctx, pending.ID)
	require.NoError(t, err)
}
