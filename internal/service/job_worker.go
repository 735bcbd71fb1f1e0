package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/observability/metrics"
	"github.com/Streamweaver/helix-jobs/internal/observability/notify"
)

// AcquireNext claims the oldest pending job of any of the given kinds and
// moves it to in_progress. Returns model.ErrNoJobsAvailable when the queue
// is empty.
func (s *JobService) AcquireNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error) {
	job, err := s.repo.AcquireNext(ctx, kinds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("acquire next job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job acquired",
			"id", job.ID,
			"kind", job.Kind,
		)
	}

	return job, nil
}

// Complete stores the artifact and moves the job to completed in one
// transaction. Returns false when the job is no longer in_progress, in
// which case the artifact is discarded.
func (s *JobService) Complete(ctx context.Context, jobID string, artifact *model.Artifact) (bool, error) {
	completed, err := s.repo.Complete(ctx, jobID, artifact)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", jobID, err)
	}

	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "job completed", "id", jobID)
	}

	return completed, nil
}

// Fail marks a job as failed with the given error message.
func (s *JobService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	return s.FailWithDetails(ctx, id, errMsg, JobFailureDetails{})
}

// JobFailureDetails captures optional context for failure notifications.
type JobFailureDetails struct {
	ErrorClass string
	Metadata   map[string]string
	Severity   string
	OccurredAt time.Time
}

// FailWithDetails marks a job as failed and propagates optional metadata to
// the failure notifier. For preview jobs the fingerprint cache entry is
// dropped so a resubmission is admitted immediately.
func (s *JobService) FailWithDetails(
	ctx context.Context,
	id, errMsg string,
	details JobFailureDetails,
) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		job = nil
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load job for failure handling", "job_id", id, "error", err)
		}
	}

	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "job failed", "id", id, "error", errMsg)
	}

	if failed {
		s.forgetFingerprint(ctx, job)
		if s.failureNotifier != nil {
			payload := buildJobFailurePayload(jobFailurePayloadInput{
				ID:      id,
				Job:     job,
				ErrMsg:  errMsg,
				Details: details,
			})
			s.failureNotifier.NotifyJobFailure(ctx, payload)
		}
	}

	s.emitFail(job, failed, nil)
	return failed, nil
}

// forgetFingerprint drops the dedupe entry for a failed preview so the next
// identical submission creates a fresh job.
func (s *JobService) forgetFingerprint(ctx context.Context, job *model.Job) {
	if s.cache == nil || job == nil || job.Kind != model.JobKindPreview || job.Fingerprint == nil {
		return
	}
	if err := s.cache.Delete(ctx, *job.Fingerprint); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "fingerprint cache delete failed",
			"job_id", job.ID,
			"error", err,
		)
	}
}

func (s *JobService) emitFail(job *model.Job, failed bool, err error) {
	kind := ""
	if job != nil {
		kind = string(job.Kind)
	}
	result := metrics.ResultSuccess
	if !failed {
		result = metrics.ResultNoop
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Kind:       kind,
		Transition: "fail",
		Result:     result,
		Err:        err,
	})
}

type jobFailurePayloadInput struct {
	ID      string
	Job     *model.Job
	ErrMsg  string
	Details JobFailureDetails
}

func buildJobFailurePayload(input jobFailurePayloadInput) notify.JobFailurePayload {
	payload := notify.JobFailurePayload{
		JobID:      input.ID,
		Error:      input.ErrMsg,
		ErrorClass: input.Details.ErrorClass,
		Severity:   input.Details.Severity,
		OccurredAt: input.Details.OccurredAt,
		Metadata:   copyMetadata(input.Details.Metadata),
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now()
	}

	if input.Job != nil {
		payload.Kind = string(input.Job.Kind)
		payload.Owner = input.Job.Owner
	}

	if payload.ErrorClass != "" {
		payload.Metadata = mergeMetadata(payload.Metadata, map[string]string{
			"error_class": payload.ErrorClass,
		})
	}
	if len(payload.Metadata) == 0 {
		payload.Metadata = nil
	}

	return payload
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		dst[k] = v
	}
	return dst
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := copyMetadata(base)
	if out == nil && len(extra) == 0 {
		return nil
	}
	if out == nil {
		out = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}
