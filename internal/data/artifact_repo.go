package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// ArtifactRepo provides read access to persisted artifacts. Writes happen
// inside JobRepo.Complete so an artifact can never outlive, or precede, its
// job's completed state.
type ArtifactRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewArtifactRepo creates a new ArtifactRepo.
func NewArtifactRepo(db *sql.DB, logger *slog.Logger) *ArtifactRepo {
	return &ArtifactRepo{DB: db, logger: logger}
}

const artifactColumns = `
  id,
  job_id,
  content_type,
  filename,
  size_bytes,
  data,
  outcome,
  created_at
`

// GetByID retrieves an artifact by its ID.
func (r *ArtifactRepo) GetByID(ctx context.Context, id string) (*model.Artifact, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE id = $1
	`, id)
	return scanArtifact(row)
}

// GetByJobID retrieves the artifact produced by a job.
func (r *ArtifactRepo) GetByJobID(ctx context.Context, jobID string) (*model.Artifact, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE job_id = $1
	`, jobID)
	return scanArtifact(row)
}

func scanArtifact(row *sql.Row) (*model.Artifact, error) {
	a := &model.Artifact{}
	var contentType, filename sql.NullString
	var outcome []byte

	err := row.Scan(
		&a.ID,
		&a.JobID,
		&contentType,
		&filename,
		&a.SizeBytes,
		&a.Data,
		&outcome,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}

	a.ContentType = contentType.String
	a.Filename = filename.String

	if len(outcome) > 0 {
		var bo model.BulkOutcome
		if uerr := json.Unmarshal(outcome, &bo); uerr != nil {
			return nil, fmt.Errorf("decode artifact outcome: %w", uerr)
		}
		a.Outcome = &bo
	}

	return a, nil
}

// marshalOutcome encodes a bulk outcome for storage. File artifacts carry no
// outcome and store NULL.
func marshalOutcome(outcome *model.BulkOutcome) ([]byte, error) {
	if outcome == nil {
		return nil, nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("encode artifact outcome: %w", err)
	}
	return raw, nil
}
