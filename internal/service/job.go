package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/core"
	domainjob "github.com/Streamweaver/helix-jobs/internal/domain/job"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/observability/metrics"
	"github.com/Streamweaver/helix-jobs/internal/observability/statsd"
	"github.com/Streamweaver/helix-jobs/internal/service/failurenotifier"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Artifacts       core.ArtifactRepository   // Required: artifact repository
	Cache           core.FingerprintCache     // Optional: fast-path dedupe cache
	CacheTTL        time.Duration             // Optional: fingerprint cache entry TTL
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         statsd.Sink               // Optional: metrics sink (StatsD-compatible)
	FailureNotifier *failurenotifier.Service  // Optional: failure notification fan-out
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService provides business logic for job submission and inspection.
//
// This service manages:
// - Payload decoding and admission for new jobs
// - Status polling and artifact retrieval
// - Pub/sub notification system for job availability
// - Graceful shutdown of all listeners.
type JobService struct {
	repo            core.JobRepository
	artifacts       core.ArtifactRepository
	cache           core.FingerprintCache
	cacheTTL        time.Duration
	notifier        domainjob.Notifier
	logger          *slog.Logger
	metrics         statsd.Sink
	failureNotifier *failurenotifier.Service
}

// ErrArtifactNotReady is returned when an artifact is requested for a job
// that has not completed.
var ErrArtifactNotReady = errors.New("job has not completed, artifact not available")

const defaultFingerprintTTL = 30 * time.Minute

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactRepository is required")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultFingerprintTTL
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:            opts.Repo,
		artifacts:       opts.Artifacts,
		cache:           opts.Cache,
		cacheTTL:        cacheTTL,
		notifier:        notifier,
		logger:          logger,
		metrics:         opts.Metrics,
		failureNotifier: opts.FailureNotifier,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Submit validates, decodes, and admits a new job. For preview submissions
// that collide with an in-flight job, the existing job is returned
// so callers share one handle. Policy rejections (export cap, active report
// generation) surface as typed errors from the core package.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("submit job request is required")
	}

	if err := model.DecodePayload(req); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	if existing, ok := s.cachedDuplicate(ctx, req); ok {
		s.logDuplicate(ctx, existing, "cache")
		return existing, nil
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		var dup *core.DuplicateJobError
		if errors.As(err, &dup) {
			s.logDuplicate(ctx, dup.Existing, "repository")
			return dup.Existing, nil
		}
		s.emitSubmit(req.Kind, metrics.ResultError, err)
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.rememberFingerprint(ctx, job)
	s.emitSubmit(job.Kind, metrics.ResultSuccess, nil)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted",
			"id", job.ID,
			"kind", job.Kind,
			"owner", job.Owner,
		)
	}
	return job, nil
}

// cachedDuplicate consults the fingerprint cache for preview submissions.
// A cache hit is verified against the repository before being trusted; a
// stale entry must never suppress a legitimate submission.
func (s *JobService) cachedDuplicate(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, bool) {
	if s.cache == nil || req.Kind != model.JobKindPreview || req.Fingerprint == nil {
		return nil, false
	}

	jobID, err := s.cache.Get(ctx, *req.Fingerprint)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "fingerprint cache lookup failed", "error", err)
		}
		return nil, false
	}
	if jobID == "" {
		return nil, false
	}

	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil || job.State.Terminal() {
		// Entry is stale; drop it and let admission decide.
		if delErr := s.cache.Delete(ctx, *req.Fingerprint); delErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "fingerprint cache delete failed", "error", delErr)
		}
		return nil, false
	}
	return job, true
}

func (s *JobService) rememberFingerprint(ctx context.Context, job *model.Job) {
	if s.cache == nil || job.Kind != model.JobKindPreview || job.Fingerprint == nil {
		return
	}
	if _, err := s.cache.SetIfAbsent(ctx, *job.Fingerprint, job.ID, s.cacheTTL); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "fingerprint cache store failed",
			"job_id", job.ID,
			"error", err,
		)
	}
}

func (s *JobService) logDuplicate(ctx context.Context, existing *model.Job, source string) {
	s.emitSubmit(model.JobKindPreview, metrics.ResultNoop, nil)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "preview submission coalesced",
			"existing_id", existing.ID,
			"source", source,
		)
	}
}

func (s *JobService) emitSubmit(kind model.JobKind, result string, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Kind:       string(kind),
		Transition: "submit",
		Result:     result,
		Err:        err,
	})
}

// GetByID retrieves a job by ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetStatus returns the poll view of a job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}

	return &model.JobStatusResponse{
		State:         job.State,
		SubmittedAt:   job.SubmittedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		FailureReason: job.FailureReason,
		ArtifactID:    job.ArtifactID,
	}, nil
}

// GetArtifact returns the artifact of a completed job. Jobs in any other
// state have no retrievable artifact.
func (s *JobService) GetArtifact(ctx context.Context, jobID string) (*model.Artifact, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.State != model.JobStateCompleted {
		return nil, ErrArtifactNotReady
	}

	artifact, err := s.artifacts.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// Stats returns per-state counts for one kind.
func (s *JobService) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// ListRecentByKind lists recent jobs of one kind, optionally scoped to an owner.
func (s *JobService) ListRecentByKind(ctx context.Context, params core.ListRecentParams) ([]*model.Job, error) {
	jobs, err := s.repo.ListRecentByKind(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Subscribe returns an unsubscribe func and a channel that receives a token
// whenever a job of the kind may be available.
func (s *JobService) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	return s.notifier.Subscribe(kind)
}

// StopAllListeners shuts down all notification listeners.
func (s *JobService) StopAllListeners() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
