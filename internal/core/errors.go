package core

import (
	"errors"
	"fmt"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrArtifactNotFound is returned when an artifact is not found.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrGenerationInProgress is returned when a report generation is rejected
	// because the parent report already has a non-terminal generation job.
	ErrGenerationInProgress = errors.New("a generation is already running for this report")
)

// OwnerConcurrencyError is returned when an export submission would exceed
// the per-owner cap on concurrent non-terminal jobs.
type OwnerConcurrencyError struct {
	Owner string
	Limit int
}

func (e *OwnerConcurrencyError) Error() string {
	return fmt.Sprintf("owner %s already has %d running or queued exports", e.Owner, e.Limit)
}

// DuplicateJobError is returned when a preview submission collides with an
// in-flight or fresh job carrying the same fingerprint. Existing is the job
// whose handle the caller should reuse.
type DuplicateJobError struct {
	Existing *model.Job
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("duplicate preview submission, existing job %s", e.Existing.ID)
}
