package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/testutil"
)

// completeWithArtifact drives a fresh job through the lifecycle so the
// artifact read paths have something to find.
func completeWithArtifact(t *testing.T, repo *JobRepo, artifact *model.Artifact) *model.Job {
	t.Helper()
	ctx := context.Background()

	job, err := repo.Create(ctx, testutil.BulkRequest("owner-art", "event-1", "figure-1"))
	require.NoError(t, err)
	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindBulk})
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	ok, err := repo.Complete(ctx, job.ID, artifact)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func TestArtifactRepo_GetByID(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	artifacts := NewArtifactRepo(repo.DB, nil)
	ctx := context.Background()

	job := completeWithArtifact(t, repo, &model.Artifact{
		ContentType: "application/json",
		Filename:    "outcome.json",
		SizeBytes:   2,
		Data:        []byte("{}"),
	})
	require.NotNil(t, job.ArtifactID)

	got, err := artifacts.GetByID(ctx, *job.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.JobID)
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, "outcome.json", got.Filename)
	assert.Equal(t, int64(2), got.SizeBytes)
	assert.Equal(t, []byte("{}"), got.Data)
	assert.Nil(t, got.Outcome)

	_, err = artifacts.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, core.ErrArtifactNotFound)
}

func TestArtifactRepo_OutcomeRoundTrip(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	artifacts := NewArtifactRepo(repo.DB, nil)
	ctx := context.Background()

	outcome := &model.BulkOutcome{
		Succeeded: []model.ItemSuccess{{ItemID: "figure-1"}},
		Failed:    []model.ItemFailure{{ItemID: "figure-2", Reason: "not found"}},
	}
	job := completeWithArtifact(t, repo, &model.Artifact{Outcome: outcome})

	got, err := artifacts.GetByJobID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	require.Len(t, got.Outcome.Succeeded, 1)
	assert.Equal(t, "figure-1", got.Outcome.Succeeded[0].ItemID)
	require.Len(t, got.Outcome.Failed, 1)
	assert.Equal(t, "not found", got.Outcome.Failed[0].Reason)
}
