package core

import (
	"context"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job lifecycle data operations.
type JobRepository interface {
	// Create admits a new job inside one transaction: the admission policy for
	// req.Kind is evaluated and the row inserted atomically, serialized against
	// concurrent submissions for the same owner and kind.
	Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// AcquireNext atomically claims the oldest pending job of one of the given
	// kinds, moving it to in_progress. Returns model.ErrNoJobsAvailable when
	// nothing is pending.
	AcquireNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error)

	// WaitForNotification blocks until a job of one of the given kinds is
	// announced, or ctx is done.
	WaitForNotification(ctx context.Context, kinds []model.JobKind) error

	// Complete persists the artifact and flips the job to completed in one
	// transaction. The flip is guarded on state=in_progress; a false return
	// means the job was reaped meanwhile and the artifact was discarded.
	Complete(ctx context.Context, jobID string, artifact *model.Artifact) (bool, error)

	// Fail flips the job to failed with the given reason, guarded on
	// state=in_progress.
	Fail(ctx context.Context, jobID, reason string) (bool, error)

	Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	ListRecentByKind(ctx context.Context, params ListRecentParams) ([]*model.Job, error)

	// CountNonTerminalByOwner counts pending plus in_progress jobs for one
	// owner and kind. Backs the per-owner concurrency cap.
	CountNonTerminalByOwner(ctx context.Context, owner string, kind model.JobKind) (int, error)

	// FindInFlightByFingerprint returns the newest non-terminal job carrying
	// the fingerprint that was submitted after freshAfter. Nil with no error
	// means no dedupe hit.
	FindInFlightByFingerprint(ctx context.Context, params FingerprintLookupParams) (*model.Job, error)

	// HasActiveGeneration reports whether a non-terminal report-generation job
	// exists for the parent.
	HasActiveGeneration(ctx context.Context, parentID string) (bool, error)
}

// ListRecentParams groups parameters for JobRepository.ListRecentByKind.
type ListRecentParams struct {
	Kind   model.JobKind
	Owner  *string
	Limit  int
	Offset int
}

// FingerprintLookupParams groups parameters for FindInFlightByFingerprint.
type FingerprintLookupParams struct {
	Fingerprint string
	FreshAfter  time.Time
}

// ArtifactRepository defines the interface for artifact data operations.
// Artifacts are written by JobRepository.Complete inside the completion
// transaction; this port covers the read side.
type ArtifactRepository interface {
	GetByID(ctx context.Context, id string) (*model.Artifact, error)
	GetByJobID(ctx context.Context, jobID string) (*model.Artifact, error)
}

// ReaperRepository defines the interface for reaper data operations. All
// operations are idempotent and serialized via advisory locks so overlapping
// reaper instances cannot double-kill.
type ReaperRepository interface {
	// KillStalePendingJobs kills pending jobs of the kind older than the
	// cutoff and returns how many rows changed.
	KillStalePendingJobs(ctx context.Context, params ReapParams) (int, error)

	// KillStaleInProgressJobs kills in_progress jobs of the kind started
	// before the cutoff and returns how many rows changed.
	KillStaleInProgressJobs(ctx context.Context, params ReapParams) (int, error)

	// DeleteOldJobs removes terminal jobs (and their artifacts, by cascade)
	// that reached a terminal state before the cutoff.
	DeleteOldJobs(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// ReapParams groups parameters for the kill operations.
type ReapParams struct {
	Kind      model.JobKind
	Cutoff    time.Time
	BatchSize int
}

// FingerprintCache is a fast-path guard in front of the durable dedupe query.
// A miss is never authoritative; the repository query decides.
type FingerprintCache interface {
	// SetIfAbsent stores the fingerprint -> job id mapping only when no entry
	// exists, returning true when this call won the slot.
	SetIfAbsent(ctx context.Context, fingerprint, jobID string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, fingerprint string) (string, error)
	Delete(ctx context.Context, fingerprint string) error
}
