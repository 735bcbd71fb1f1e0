package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/data/pgxutil"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 1000 is reserved for reaper operations; the minor key encodes
// both the operation and, for the kill operations, the job kind, so reaping
// previews never blocks reaping exports.
const (
	advisoryLockReaperMajor          = 1000
	advisoryLockReaperKillPending    = 1 // minor base for KillStalePendingJobs
	advisoryLockReaperKillInProgress = 2 // minor base for KillStaleInProgressJobs
	advisoryLockReaperDelete         = 3 // minor key for DeleteOldJobs
)

func advisoryLockReaperMinor(base int64, kind model.JobKind) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(kind))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return base<<24 | (int64(hashValue) & 0xFFFFFF)
}

const killedPendingReason = "job timed out waiting for a worker"
const killedInProgressReason = "job timed out while running"

// KillStalePendingJobs kills pending jobs of the kind submitted before the
// cutoff. Processes up to BatchSize jobs per call to prevent long locks and
// I/O spikes. Uses advisory locks so overlapping reaper instances cannot
// double-kill. Returns the number of jobs killed.
func (r *JobRepo) KillStalePendingJobs(ctx context.Context, params core.ReapParams) (int, error) {
	return r.killStaleJobs(ctx, killStaleParams{
		reap:       params,
		fromState:  model.JobStatePending,
		reason:     killedPendingReason,
		lockMinor:  advisoryLockReaperMinor(advisoryLockReaperKillPending, params.Kind),
		cutoffExpr: "submitted_at",
	})
}

// KillStaleInProgressJobs kills in_progress jobs of the kind started before
// the cutoff. Same batching and locking behavior as KillStalePendingJobs.
func (r *JobRepo) KillStaleInProgressJobs(ctx context.Context, params core.ReapParams) (int, error) {
	return r.killStaleJobs(ctx, killStaleParams{
		reap:       params,
		fromState:  model.JobStateInProgress,
		reason:     killedInProgressReason,
		lockMinor:  advisoryLockReaperMinor(advisoryLockReaperKillInProgress, params.Kind),
		cutoffExpr: "started_at",
	})
}

type killStaleParams struct {
	reap       core.ReapParams
	fromState  model.JobState
	reason     string
	lockMinor  int64
	cutoffExpr string
}

func (r *JobRepo) killStaleJobs(ctx context.Context, p killStaleParams) (int, error) {
	if !p.reap.Kind.Valid() {
		return 0, fmt.Errorf("invalid job kind: %q", p.reap.Kind)
	}
	if p.reap.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, p.lockMinor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()

			//nolint:gosec // cutoffExpr is one of two fixed column names
			query := fmt.Sprintf(`
				UPDATE jobs
				SET state = 'killed',
					failure_reason = $1,
					completed_at = $2,
					updated_at = $2
				WHERE id IN (
					SELECT id FROM jobs
					WHERE kind = $3
					  AND state = $4
					  AND %s < $5
					ORDER BY %s
					LIMIT $6
					FOR UPDATE SKIP LOCKED
				)
			`, p.cutoffExpr, p.cutoffExpr)

			res, err := tx.ExecContext(ctx, query,
				p.reason, currentTime.UTC(), p.reap.Kind, p.fromState, p.reap.Cutoff.UTC(), p.reap.BatchSize)
			if err != nil {
				return fmt.Errorf("kill stale %s jobs: %w", p.fromState, err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

// DeleteOldJobs deletes terminal jobs that finished before the cutoff.
// Artifacts go with them by foreign key cascade. Processes up to batchSize
// jobs per call and is safe to run from overlapping reaper instances.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE state IN ('completed', 'failed', 'killed')
					  AND (completed_at < $1 OR (completed_at IS NULL AND updated_at < $1))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $2
				)
			`, cutoff.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}
