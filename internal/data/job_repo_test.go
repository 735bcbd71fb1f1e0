package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/testutil"
)

func newTestRepo(t *testing.T, cfg RepoConfig) *JobRepo {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewJobRepo(db, cfg)
}

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name    string
		req     *model.SubmitJobRequest
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid export",
			req:  testutil.ExportRequest("owner-1", "figures"),
		},
		{
			name: "valid preview with fingerprint",
			req:  testutil.PreviewRequest("owner-1", "https://example.org/report"),
		},
		{
			name: "valid report generation",
			req:  testutil.ReportRequest("owner-1", "report-42"),
		},
		{
			name: "valid bulk operation",
			req:  testutil.BulkRequest("owner-1", "event-1", "figure-1", "figure-2"),
		},
		{
			name:    "invalid kind",
			req:     testutil.NewRequest().WithKind("invalid").Build(),
			wantErr: true,
			errMsg:  "invalid job kind",
		},
		{
			name:    "missing owner",
			req:     testutil.NewRequest().WithOwner("  ").Build(),
			wantErr: true,
			errMsg:  "owner is required",
		},
		{
			name:    "missing payload",
			req:     testutil.NewRequest().WithPayload("").Build(),
			wantErr: true,
			errMsg:  "payload is required",
		},
		{
			name: "preview without fingerprint",
			req: testutil.NewRequest().
				WithKind(model.JobKindPreview).
				WithPayload(`{"url":"https://example.org"}`).
				Build(),
			wantErr: true,
			errMsg:  "preview jobs require a fingerprint",
		},
		{
			name: "report without parent id",
			req: testutil.NewRequest().
				WithKind(model.JobKindReport).
				WithPayload(`{"report_id":"r-1"}`).
				Build(),
			wantErr: true,
			errMsg:  "report generation jobs require a parent id",
		},
	}

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := repo.Create(ctx, tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, tt.req.Kind, job.Kind)
			assert.Equal(t, model.JobStatePending, job.State)
			assert.Equal(t, tt.req.Owner, job.Owner)
			assert.False(t, job.SubmittedAt.IsZero())
			assert.Nil(t, job.StartedAt)
		})
	}
}

func TestJobRepo_Create_ExportCap(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{
		Admission: AdmissionConfig{MaxExportsPerOwner: 2},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := repo.Create(ctx, testutil.ExportRequest("capped", "figures"))
		require.NoError(t, err)
	}

	_, err := repo.Create(ctx, testutil.ExportRequest("capped", "figures"))
	var concErr *core.OwnerConcurrencyError
	require.ErrorAs(t, err, &concErr)
	assert.Equal(t, "capped", concErr.Owner)
	assert.Equal(t, 2, concErr.Limit)

	// Another owner is not affected by the first owner's cap.
	_, err = repo.Create(ctx, testutil.ExportRequest("other", "figures"))
	require.NoError(t, err)

	// Completing a job frees a slot.
	job, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	_, err = repo.Complete(ctx, job.ID, &model.Artifact{Data: []byte("x")})
	require.NoError(t, err)

	if job.Owner == "capped" {
		_, err = repo.Create(ctx, testutil.ExportRequest("capped", "figures"))
		require.NoError(t, err)
	}
}

func TestJobRepo_Create_ExportCapRace(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{
		Admission: AdmissionConfig{MaxExportsPerOwner: 3},
	})
	ctx := context.Background()

	const attempts = 10
	var runner testutil.ConcurrentTestRunner
	for i := 0; i < attempts; i++ {
		runner.Go(func() error {
			_, err := repo.Create(ctx, testutil.ExportRequest("racer", "figures"))
			return err
		})
	}
	errs := runner.Wait()

	// The advisory lock serializes admission, so exactly the cap is admitted.
	assert.Len(t, errs, attempts-3)
	for _, err := range errs {
		var concErr *core.OwnerConcurrencyError
		assert.ErrorAs(t, err, &concErr)
	}

	count, err := repo.CountNonTerminalByOwner(ctx, "racer", model.JobKindExport)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestJobRepo_Create_PreviewDedupe(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{
		Admission: AdmissionConfig{PreviewFreshness: time.Hour},
	})
	ctx := context.Background()

	first, err := repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/a"))
	require.NoError(t, err)

	// Same owner and URL produce the same fingerprint.
	_, err = repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/a"))
	var dupErr *core.DuplicateJobError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, first.ID, dupErr.Existing.ID)

	// A different owner gets a different fingerprint and is admitted.
	_, err = repo.Create(ctx, testutil.PreviewRequest("owner-2", "https://example.org/a"))
	require.NoError(t, err)

	// Completion ends the dedupe window. A repeat submission gets a new job.
	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindPreview})
	require.NoError(t, err)
	for claimed.ID != first.ID {
		_, err = repo.Fail(ctx, claimed.ID, "wrong pick")
		require.NoError(t, err)
		claimed, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindPreview})
		require.NoError(t, err)
	}
	_, err = repo.Complete(ctx, first.ID, &model.Artifact{Data: []byte("pdf")})
	require.NoError(t, err)

	resubmitted, err := repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/a"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, resubmitted.ID)
	assert.Equal(t, model.JobStatePending, resubmitted.State)
}

func TestJobRepo_Create_PreviewStalePendingReadmits(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	clock := testutil.NewTestTimeProvider(testutil.TestTime)
	repo := newTestRepo(t, RepoConfig{
		Admission:    AdmissionConfig{PreviewFreshness: 10 * time.Minute},
		TimeProvider: clock,
	})
	ctx := context.Background()

	first, err := repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/stale"))
	require.NoError(t, err)

	// Inside the window the pending job absorbs the repeat.
	var dupErr *core.DuplicateJobError
	_, err = repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/stale"))
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, first.ID, dupErr.Existing.ID)

	// Past the freshness window a still-pending job no longer coalesces.
	clock.Advance(11 * time.Minute)
	second, err := repo.Create(ctx, testutil.PreviewRequest("owner-1", "https://example.org/stale"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestJobRepo_Create_SingleActiveGeneration(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	first, err := repo.Create(ctx, testutil.ReportRequest("owner-1", "report-7"))
	require.NoError(t, err)

	// Any owner is rejected while the generation is active.
	_, err = repo.Create(ctx, testutil.ReportRequest("owner-2", "report-7"))
	require.ErrorIs(t, err, core.ErrGenerationInProgress)

	// A different report is independent.
	_, err = repo.Create(ctx, testutil.ReportRequest("owner-2", "report-8"))
	require.NoError(t, err)

	// Terminal state frees the slot.
	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindReport})
	require.NoError(t, err)
	for claimed.ID != first.ID {
		_, err = repo.Fail(ctx, claimed.ID, "wrong pick")
		require.NoError(t, err)
		claimed, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindReport})
		require.NoError(t, err)
	}
	_, err = repo.Fail(ctx, first.ID, "renderer crashed")
	require.NoError(t, err)

	_, err = repo.Create(ctx, testutil.ReportRequest("owner-1", "report-7"))
	require.NoError(t, err)
}

func TestJobRepo_AcquireNext(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	_, err := repo.AcquireNext(ctx, nil)
	require.Error(t, err)

	_, err = repo.AcquireNext(ctx, []model.JobKind{"bogus"})
	require.Error(t, err)

	_, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.ErrorIs(t, err, model.ErrNoJobsAvailable)

	older, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)
	newer, err := repo.Create(ctx, testutil.ExportRequest("owner-2", "events"))
	require.NoError(t, err)

	// Oldest pending job of the requested kinds wins.
	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport, model.JobKindBulk})
	require.NoError(t, err)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, model.JobStateInProgress, claimed.State)
	require.NotNil(t, claimed.StartedAt)

	claimed, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, claimed.ID)

	// A kind with no pending jobs does not yield jobs of other kinds.
	_, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindPreview})
	require.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestJobRepo_Complete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	job, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)
	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	artifact := &model.Artifact{
		ContentType: "text/csv",
		Filename:    "figures.csv",
		SizeBytes:   42,
		Data:        []byte("id,households\n"),
	}
	ok, err := repo.Complete(ctx, job.ID, artifact)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ArtifactID)

	artifacts := NewArtifactRepo(repo.DB, nil)
	stored, err := artifacts.GetByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.ArtifactID, stored.ID)
	assert.Equal(t, "text/csv", stored.ContentType)
	assert.Equal(t, []byte("id,households\n"), stored.Data)
}

func TestJobRepo_Complete_LateResultDiscarded(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	job, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)
	_, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)

	// The reaper kills the job while the worker is still running it.
	killed, err := repo.KillStaleInProgressJobs(ctx, core.ReapParams{
		Kind:      model.JobKindExport,
		Cutoff:    time.Now().Add(time.Minute),
		BatchSize: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 1, killed)

	ok, err := repo.Complete(ctx, job.ID, &model.Artifact{Data: []byte("late")})
	require.NoError(t, err)
	assert.False(t, ok)

	// The killed job keeps its state and never gains an artifact.
	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateKilled, got.State)
	assert.Nil(t, got.ArtifactID)

	artifacts := NewArtifactRepo(repo.DB, nil)
	_, err = artifacts.GetByJobID(ctx, job.ID)
	require.ErrorIs(t, err, core.ErrArtifactNotFound)
}

func TestJobRepo_Complete_RequiresArtifact(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	_, err := repo.Complete(context.Background(), "any", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact is required")
}

func TestJobRepo_Fail(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	job, err := repo.Create(ctx, testutil.ExportRequest("owner-1", "figures"))
	require.NoError(t, err)

	// Fail only applies to in_progress jobs.
	ok, err := repo.Fail(ctx, job.ID, "too early")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)

	ok, err = repo.Fail(ctx, job.ID, "source unavailable")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "source unavailable", *got.FailureReason)
	require.NotNil(t, got.CompletedAt)
}

func TestJobRepo_GetByID_NotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestJobRepo_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, testutil.NewRequest().
			WithOwner("owner-stats").
			WithPayload(`{"entity":"figures"}`).
			Build())
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, testutil.BulkRequest("owner-stats", "event-1", "figure-1"))
	require.NoError(t, err)

	claimed, err := repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	_, err = repo.Fail(ctx, claimed.ID, "boom")
	require.NoError(t, err)

	claimed, err = repo.AcquireNext(ctx, []model.JobKind{model.JobKindExport})
	require.NoError(t, err)
	_, err = repo.Complete(ctx, claimed.ID, &model.Artifact{Data: []byte("x")})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx, model.JobKindExport)
	require.NoError(t, err)
	assert.Equal(t, &model.JobStats{Pending: 1, Completed: 1, Failed: 1}, stats)

	// Bulk jobs are counted under their own kind.
	stats, err = repo.Stats(ctx, model.JobKindBulk)
	require.NoError(t, err)
	assert.Equal(t, &model.JobStats{Pending: 1}, stats)
}

func TestJobRepo_ListRecentByKind(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	clock := testutil.NewTestTimeProvider(testutil.TestTime)
	repo := newTestRepo(t, RepoConfig{TimeProvider: clock})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		owner := "owner-a"
		if i%2 == 1 {
			owner = "owner-b"
		}
		job, err := repo.Create(ctx, testutil.ExportRequest(owner, "figures"))
		require.NoError(t, err)
		ids = append(ids, job.ID)
		clock.Advance(time.Second)
	}

	_, err := repo.ListRecentByKind(ctx, core.ListRecentParams{Kind: "bogus"})
	require.Error(t, err)

	jobs, err := repo.ListRecentByKind(ctx, core.ListRecentParams{Kind: model.JobKindExport})
	require.NoError(t, err)
	require.Len(t, jobs, 5)
	// Newest first.
	assert.Equal(t, ids[4], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[4].ID)

	jobs, err = repo.ListRecentByKind(ctx, core.ListRecentParams{
		Kind:  model.JobKindExport,
		Owner: testutil.StringPtr("owner-b"),
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, "owner-b", j.Owner)
	}

	jobs, err = repo.ListRecentByKind(ctx, core.ListRecentParams{
		Kind:  model.JobKindExport,
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = repo.ListRecentByKind(ctx, core.ListRecentParams{
		Kind:   model.JobKindExport,
		Limit:  2,
		Offset: 4,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, ids[0], jobs[0].ID)
}

func TestJobRepo_FindInFlightByFingerprint(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	req := testutil.PreviewRequest("owner-1", "https://example.org/find")
	job, err := repo.Create(ctx, req)
	require.NoError(t, err)

	found, err := repo.FindInFlightByFingerprint(ctx, core.FingerprintLookupParams{
		Fingerprint: *req.Fingerprint,
		FreshAfter:  time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.ID, found.ID)

	missing, err := repo.FindInFlightByFingerprint(ctx, core.FingerprintLookupParams{
		Fingerprint: "no-such-fingerprint",
		FreshAfter:  time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJobRepo_HasActiveGeneration(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	active, err := repo.HasActiveGeneration(ctx, "report-x")
	require.NoError(t, err)
	assert.False(t, active)

	_, err = repo.Create(ctx, testutil.ReportRequest("owner-1", "report-x"))
	require.NoError(t, err)

	active, err = repo.HasActiveGeneration(ctx, "report-x")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestJobRepo_PayloadRoundTrip(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	repo := newTestRepo(t, RepoConfig{})
	ctx := context.Background()

	req := testutil.BulkRequest("owner-1", "event-9", "figure-3")
	job, err := repo.Create(ctx, req)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)

	var payload model.BulkPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, model.BulkOperationUpdate, payload.Operation)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "figure-3", payload.Items[0].ID)
	assert.Equal(t, "event-9", payload.Items[0].ParentID)
}
