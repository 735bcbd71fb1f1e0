package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// AdmissionConfig holds the policy knobs evaluated inside the creation
// transaction.
type AdmissionConfig struct {
	// MaxExportsPerOwner caps non-terminal export jobs per owner.
	MaxExportsPerOwner int
	// PreviewFreshness bounds how long an in-flight preview keeps absorbing
	// repeat submissions with the same fingerprint.
	PreviewFreshness time.Duration
}

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Admission    AdmissionConfig
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job lifecycle management.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  kind,
  state,
  owner,
  payload,
  fingerprint,
  parent_id,
  submitted_at,
  started_at,
  completed_at,
  failure_reason,
  artifact_id,
  created_at,
  updated_at
`

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload                              []byte
	fingerprint, parentID, failureReason sql.NullString
	artifactID                           sql.NullString
	startedAt, completedAt               sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.State,
		&job.Owner,
		&d.payload,
		&d.fingerprint,
		&d.parentID,
		&job.SubmittedAt,
		&d.startedAt,
		&d.completedAt,
		&d.failureReason,
		&d.artifactID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.Fingerprint = cloneNullableString(d.fingerprint)
	job.ParentID = cloneNullableString(d.parentID)
	job.FailureReason = cloneNullableString(d.failureReason)
	job.ArtifactID = cloneNullableString(d.artifactID)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
