// Package model defines the core data types for the helix-jobs managed-job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind identifies which job type a record belongs to. The kind selects the
// admission policy, the reaper timeouts, and the work function.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobState is the lifecycle state of a job record.
type JobState string

const (
	// JobKindExport produces an Excel extract of filtered figure records.
	JobKindExport JobKind = "export"
	// JobKindPreview produces a PDF snapshot of a source URL.
	JobKindPreview JobKind = "preview"
	// JobKindReport builds a new generation of a report from aggregated figures.
	JobKindReport JobKind = "report_generation"
	// JobKindBulk applies a mutation to a list of figure records with itemized outcomes.
	JobKindBulk JobKind = "bulk_operation"

	// JobStatePending indicates the job was admitted and is waiting for a worker.
	JobStatePending JobState = "pending"
	// JobStateInProgress indicates a worker has claimed the job.
	JobStateInProgress JobState = "in_progress"
	// JobStateCompleted indicates the job finished and its artifact is durable.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the work function errored; the reason is captured.
	JobStateFailed JobState = "failed"
	// JobStateKilled indicates the reaper force-terminated the job on timeout.
	JobStateKilled JobState = "killed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// ErrNoJobsAvailable is returned when no pending jobs are available to claim.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobKind is one of the known kinds.
func (k JobKind) Valid() bool {
	return k == JobKindExport || k == JobKindPreview || k == JobKindReport || k == JobKindBulk
}

// AllJobKinds returns every known kind, in a stable order.
func AllJobKinds() []JobKind {
	return []JobKind{JobKindExport, JobKindPreview, JobKindReport, JobKindBulk}
}

// Valid returns true if the JobState is one of the known states.
func (s JobState) Valid() bool {
	return s == JobStatePending || s == JobStateInProgress || s == JobStateCompleted ||
		s == JobStateFailed || s == JobStateKilled
}

// Terminal reports whether the state permits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateKilled
}

// CanTransition reports whether the edge from -> to exists in the lifecycle
// state machine. Terminal states have no outgoing edges.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobStatePending:
		return to == JobStateInProgress || to == JobStateKilled
	case JobStateInProgress:
		return to == JobStateCompleted || to == JobStateFailed || to == JobStateKilled
	default:
		return false
	}
}

// Job is one submitted unit of asynchronous work with its persisted lifecycle record.
type Job struct {
	ID            string          `json:"id"                       db:"id"`
	Kind          JobKind         `json:"kind"                     db:"kind"`
	State         JobState        `json:"state"                    db:"state"`
	Owner         string          `json:"owner"                    db:"owner"`
	Payload       json.RawMessage `json:"payload"                  db:"payload"`
	Fingerprint   *string         `json:"fingerprint,omitempty"    db:"fingerprint"`
	ParentID      *string         `json:"parent_id,omitempty"      db:"parent_id"`
	SubmittedAt   time.Time       `json:"submitted_at"             db:"submitted_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"     db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"   db:"completed_at"`
	FailureReason *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	ArtifactID    *string         `json:"artifact_id,omitempty"    db:"artifact_id"`
	CreatedAt     time.Time       `json:"created_at"               db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"               db:"updated_at"`
}

// SubmitJobRequest carries a caller's request to admit a new job.
type SubmitJobRequest struct {
	Kind    JobKind         `json:"kind"`
	Owner   string          `json:"owner"`
	Payload json.RawMessage `json:"payload"`

	// Fingerprint is the single-flight dedupe key, derived from the payload
	// during submission. Only set for the preview kind.
	Fingerprint *string `json:"fingerprint,omitempty"`

	// ParentID is the parent entity whose active generation is being built.
	// Only set for the report-generation kind.
	ParentID *string `json:"parent_id,omitempty"`
}

// Validate validates Kind, Owner, and Payload. Fingerprint and ParentID are
// derived fields and are checked per kind.
func (r *SubmitJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if strings.TrimSpace(r.Owner) == "" {
		return errors.New("owner is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Kind == JobKindPreview && (r.Fingerprint == nil || *r.Fingerprint == "") {
		return errors.New("preview jobs require a fingerprint")
	}
	if r.Kind == JobKindReport && (r.ParentID == nil || *r.ParentID == "") {
		return errors.New("report generation jobs require a parent id")
	}
	return nil
}

// JobStats counts jobs of one kind by state.
type JobStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Killed     int `json:"killed"`
}

// JobStatusResponse is the poll result for a single job.
type JobStatusResponse struct {
	State         JobState   `json:"state"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	ArtifactID    *string    `json:"artifact_id,omitempty"`
}
