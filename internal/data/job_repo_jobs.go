package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/data/pgxutil"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

const defaultMaxExportsPerOwner = 3

func (r *JobRepo) maxExportsPerOwner() int {
	if r.cfg.Admission.MaxExportsPerOwner > 0 {
		return r.cfg.Admission.MaxExportsPerOwner
	}
	return defaultMaxExportsPerOwner
}

// Advisory lock namespace for admission checks. Serializes submissions for
// the same owner and kind so policy check plus insert is race-free.
const advisoryLockAdmissionMajor int64 = 1002

func advisoryLockAdmissionMinor(owner string, kind model.JobKind) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(kind))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// SQL used by AcquireNext to atomically claim the oldest pending job.
const acquireNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE kind = ANY($1) AND state = 'pending'
    ORDER BY submitted_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    state = 'in_progress',
    started_at = $2,
    updated_at = $2
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.kind, j.state, j.owner, j.payload, j.fingerprint, j.parent_id, j.submitted_at, j.started_at, j.completed_at, j.failure_reason, j.artifact_id, j.created_at, j.updated_at`

// Create admits a new job. Admission policy for the kind is evaluated inside
// the same transaction as the insert, serialized per owner and kind by an
// advisory lock, so two racing submissions cannot both pass a policy that
// admits at most one of them.
func (r *JobRepo) Create(
	ctx context.Context,
	req *model.SubmitJobRequest,
) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("submit job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			minor := advisoryLockAdmissionMinor(req.Owner, req.Kind)
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockAdmissionMajor, minor); err != nil {
				return fmt.Errorf("acquire admission lock: %w", err)
			}

			if err := r.checkAdmission(ctx, tx, req); err != nil {
				return err
			}

			var insertErr error
			job, insertErr = r.insertJobInTx(ctx, tx, req)
			return insertErr
		},
	})
	if txErr != nil {
		return nil, mapInsertError(txErr)
	}

	return job, nil
}

// checkAdmission runs the kind-specific policy query against the locked
// transaction. Bulk jobs have no admission policy.
func (r *JobRepo) checkAdmission(ctx context.Context, tx pgx.Tx, req *model.SubmitJobRequest) error {
	switch req.Kind {
	case model.JobKindExport:
		var active int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM jobs
			WHERE owner = $1 AND kind = $2 AND state IN ('pending', 'in_progress')
		`, req.Owner, req.Kind).Scan(&active)
		if err != nil {
			return fmt.Errorf("count active exports: %w", err)
		}
		if limit := r.maxExportsPerOwner(); active >= limit {
			return &core.OwnerConcurrencyError{Owner: req.Owner, Limit: limit}
		}
		return nil

	case model.JobKindPreview:
		freshAfter := r.timeProvider.Now().Add(-r.cfg.Admission.PreviewFreshness)
		existing, err := r.findInFlightByFingerprintTx(ctx, tx, *req.Fingerprint, freshAfter)
		if err != nil {
			return err
		}
		if existing != nil {
			return &core.DuplicateJobError{Existing: existing}
		}
		return nil

	case model.JobKindReport:
		var active bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM jobs
				WHERE kind = 'report_generation'
				  AND parent_id = $1
				  AND state IN ('pending', 'in_progress')
			)
		`, *req.ParentID).Scan(&active)
		if err != nil {
			return fmt.Errorf("check active generation: %w", err)
		}
		if active {
			return core.ErrGenerationInProgress
		}
		return nil

	case model.JobKindBulk:
		return nil

	default:
		return fmt.Errorf("invalid job kind: %q", req.Kind)
	}
}

// insertJobInTx inserts a job within a pgx.Tx and announces it on the kind channel.
func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, req *model.SubmitJobRequest) (*model.Job, error) {
	now := r.timeProvider.Now().UTC()

	rows, err := tx.Query(ctx, `
      INSERT INTO jobs(id, kind, state, owner, payload, fingerprint, parent_id, submitted_at)
      VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7)
      RETURNING `+jobColumns,
		uuid.NewString(),
		req.Kind,
		req.Owner,
		[]byte(req.Payload),
		req.Fingerprint,
		req.ParentID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job, collectErr := collectJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	channel := "job_added_" + string(req.Kind)
	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, job.ID); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}

	return job, nil
}

// mapInsertError translates the partial-unique-index backstop on report
// generations into the admission error. The index catches the window the
// advisory lock cannot cover, such as a second node with a different lock
// hash configuration.
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return core.ErrGenerationInProgress
	}
	return err
}

// AcquireNext atomically claims the oldest pending job of one of the given
// kinds and moves it to in_progress.
func (r *JobRepo) AcquireNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error) {
	if len(kinds) == 0 {
		return nil, errors.New("at least one kind is required")
	}
	kindStrings := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("invalid job kind: %q", k)
		}
		kindStrings = append(kindStrings, string(k))
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now().UTC()

			rows, qerr := tx.Query(ctx, acquireNextUpdateSQL, kindStrings, currentTime)
			if qerr != nil {
				return fmt.Errorf("acquire job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("acquire job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Complete persists the artifact and flips the job to completed in one
// transaction. The flip is guarded on state = in_progress; when the guard
// misses (the reaper killed the job meanwhile) the transaction is rolled
// back so the artifact of a killed job is never visible.
func (r *JobRepo) Complete(ctx context.Context, jobID string, artifact *model.Artifact) (bool, error) {
	if artifact == nil {
		return false, errors.New("artifact is required")
	}

	completed := false
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now().UTC()

			artifactID, insertErr := insertArtifactInTx(ctx, tx, jobID, artifact, currentTime)
			if insertErr != nil {
				return insertErr
			}

			res, updErr := tx.Exec(ctx, `
				UPDATE jobs
				SET state = 'completed',
				    completed_at = $2,
				    artifact_id = $3,
				    updated_at = $2
				WHERE id = $1 AND state = 'in_progress'
			`, jobID, currentTime, artifactID)
			if updErr != nil {
				return fmt.Errorf("complete job: %w", updErr)
			}
			if res.RowsAffected() == 0 {
				return errJobNotInProgress
			}

			completed = true
			return nil
		},
	})
	if errors.Is(err, errJobNotInProgress) {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "late result discarded, job no longer in progress",
				"job_id", jobID,
			)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return completed, nil
}

// errJobNotInProgress aborts the completion transaction so the artifact
// insert rolls back with the state flip.
var errJobNotInProgress = errors.New("job is not in progress")

func insertArtifactInTx(
	ctx context.Context,
	tx pgx.Tx,
	jobID string,
	artifact *model.Artifact,
	now time.Time,
) (string, error) {
	outcome, err := marshalOutcome(artifact.Outcome)
	if err != nil {
		return "", err
	}

	id := artifact.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO artifacts(id, job_id, content_type, filename, size_bytes, data, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, jobID, artifact.ContentType, artifact.Filename, artifact.SizeBytes, artifact.Data, outcome, now); err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

// Fail flips the job to failed with the given reason, guarded on
// state = in_progress.
func (r *JobRepo) Fail(ctx context.Context, jobID, reason string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'failed',
		    failure_reason = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND state = 'in_progress'
	`, jobID, reason, currentTime)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Stats returns counts of jobs of the given kind in each state.
func (r *JobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE state = 'pending')     AS pending,
    count(*) FILTER (WHERE state = 'in_progress') AS in_progress,
    count(*) FILTER (WHERE state = 'completed')   AS completed,
    count(*) FILTER (WHERE state = 'failed')      AS failed,
    count(*) FILTER (WHERE state = 'killed')      AS killed
  FROM jobs
  WHERE kind = $1
  `, kind).Scan(
		&s.Pending,
		&s.InProgress,
		&s.Completed,
		&s.Failed,
		&s.Killed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// ListRecentByKind lists jobs of one kind, newest first, optionally scoped to
// an owner.
func (r *JobRepo) ListRecentByKind(ctx context.Context, params core.ListRecentParams) ([]*model.Job, error) {
	if !params.Kind.Valid() {
		return nil, fmt.Errorf("invalid job kind: %q", params.Kind)
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE kind = $1
		  AND ($2::text IS NULL OR owner = $2)
		ORDER BY submitted_at DESC, created_at DESC
		LIMIT $3 OFFSET $4
	`

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, query, params.Kind, params.Owner, limit, params.Offset)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			job, serr := scanJobFromRow(rows)
			if serr != nil {
				return serr
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CountNonTerminalByOwner counts pending plus in_progress jobs for one owner and kind.
func (r *JobRepo) CountNonTerminalByOwner(ctx context.Context, owner string, kind model.JobKind) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM jobs
		WHERE owner = $1 AND kind = $2 AND state IN ('pending', 'in_progress')
	`, owner, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal jobs: %w", err)
	}
	return count, nil
}

// FindInFlightByFingerprint returns the newest non-terminal job carrying the
// fingerprint that was submitted after params.FreshAfter. Nil with no error
// means no dedupe hit.
func (r *JobRepo) FindInFlightByFingerprint(
	ctx context.Context,
	params core.FingerprintLookupParams,
) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		tx, terr := pgxConn.Begin(ctx)
		if terr != nil {
			return terr
		}
		defer func() { _ = tx.Rollback(ctx) }()

		j, ferr := r.findInFlightByFingerprintTx(ctx, tx, params.Fingerprint, params.FreshAfter)
		if ferr != nil {
			return ferr
		}
		job = j
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepo) findInFlightByFingerprintTx(
	ctx context.Context,
	tx pgx.Tx,
	fingerprint string,
	freshAfter time.Time,
) (*model.Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE fingerprint = $1
		  AND state IN ('pending', 'in_progress')
		  AND submitted_at > $2
		ORDER BY submitted_at DESC
		LIMIT 1
	`, fingerprint, freshAfter.UTC())
	if err != nil {
		return nil, fmt.Errorf("find job by fingerprint: %w", err)
	}
	defer rows.Close()

	job, collectErr := collectJobFromRows(rows)
	if errors.Is(collectErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if collectErr != nil {
		return nil, fmt.Errorf("find job by fingerprint: %w", collectErr)
	}
	return job, nil
}

// HasActiveGeneration reports whether a non-terminal report-generation job
// exists for the parent report.
func (r *JobRepo) HasActiveGeneration(ctx context.Context, parentID string) (bool, error) {
	var active bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE kind = 'report_generation'
			  AND parent_id = $1
			  AND state IN ('pending', 'in_progress')
		)
	`, parentID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active generation: %w", err)
	}
	return active, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating a new
// job of one of the given kinds is available.
func (r *JobRepo) WaitForNotification(ctx context.Context, kinds []model.JobKind) error {
	if len(kinds) == 0 {
		return errors.New("at least one kind is required")
	}

	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channels := make([]string, 0, len(kinds))
	for _, k := range kinds {
		channel := "job_added_" + string(k)
		quoted := pgx.Identifier{channel}.Sanitize()
		if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
			return fmt.Errorf("listen %s: %w", channel, execErr)
		}
		channels = append(channels, quoted)
	}
	defer func() {
		for _, quoted := range channels {
			if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
				_ = execErr
			}
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
