package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// BulkRunnerOptions groups dependencies for the bulk-operation work function.
type BulkRunnerOptions struct {
	Store     FigureStore
	Reconcile ReconcileFn // Optional: parent reconciliation after the batch
	Logger    *slog.Logger
}

// BulkRunner applies an itemized figure mutation and records per-item
// outcomes. Item failures never abort the batch; the job completes with a
// partial outcome.
type BulkRunner struct {
	store     FigureStore
	reconcile ReconcileFn
	logger    *slog.Logger
}

// NewBulkRunner constructs the bulk-operation work function.
func NewBulkRunner(opts BulkRunnerOptions) (*BulkRunner, error) {
	if opts.Store == nil {
		return nil, errors.New("FigureStore is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "bulk_work")
	}
	return &BulkRunner{
		store:     opts.Store,
		reconcile: opts.Reconcile,
		logger:    logger,
	}, nil
}

// Handle executes one bulk-operation job. An empty item list completes with
// an empty outcome.
func (b *BulkRunner) Handle(ctx context.Context, job *model.Job) (*model.Artifact, error) {
	var payload model.BulkPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode bulk payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	outcome := &model.BulkOutcome{
		Succeeded: []model.ItemSuccess{},
		Failed:    []model.ItemFailure{},
	}

	aggregator := NewAggregator(b.reconcile, b.logger)
	for _, item := range payload.Items {
		if err := b.applyItem(ctx, payload.Operation, item); err != nil {
			outcome.Failed = append(outcome.Failed, model.ItemFailure{
				ItemID: item.ID,
				Reason: err.Error(),
			})
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, model.ItemSuccess{
			ItemID: item.ID,
			Value:  item.Patch,
		})
		aggregator.Add(item.ParentID)
	}

	// Parent reconciliation is downstream bookkeeping; its failures do not
	// change the per-item outcome or the job result.
	if err := aggregator.Drain(ctx); err != nil && b.logger != nil {
		b.logger.WarnContext(ctx, "bulk reconciliation incomplete",
			"job_id", job.ID,
			"error", err,
		)
	}

	if b.logger != nil {
		b.logger.InfoContext(ctx, "bulk operation applied",
			"job_id", job.ID,
			"operation", payload.Operation,
			"succeeded", len(outcome.Succeeded),
			"failed", len(outcome.Failed),
			"parents", aggregator.Len(),
		)
	}

	return &model.Artifact{
		ContentType: "application/json",
		Outcome:     outcome,
	}, nil
}

func (b *BulkRunner) applyItem(ctx context.Context, operation string, item model.BulkItem) error {
	switch operation {
	case model.BulkOperationUpdate:
		return b.store.UpdateFigure(ctx, item.ID, item.Patch)
	case model.BulkOperationDelete:
		return b.store.DeleteFigure(ctx, item.ID)
	default:
		return fmt.Errorf("invalid bulk operation: %q", operation)
	}
}
