package work

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Aggregator collects the distinct parent ids touched during a bulk mutation
// and reconciles each exactly once on Drain. It converts per-child downstream
// fan-out into per-parent fan-out.
//
// An Aggregator is scoped to one batch and is not safe for concurrent use.
type Aggregator struct {
	reconcile ReconcileFn
	logger    *slog.Logger
	seen      map[string]struct{}
	order     []string
	drained   bool
}

// NewAggregator builds an aggregator over the given reconcile function.
func NewAggregator(reconcile ReconcileFn, logger *slog.Logger) *Aggregator {
	if logger != nil {
		logger = logger.With("component", "batch_aggregator")
	}
	return &Aggregator{
		reconcile: reconcile,
		logger:    logger,
		seen:      make(map[string]struct{}),
	}
}

// Add records a parent id for reconciliation. Duplicate and empty ids are
// ignored. Insertion order is preserved for deterministic draining.
func (a *Aggregator) Add(parentID string) {
	if parentID == "" {
		return
	}
	if _, ok := a.seen[parentID]; ok {
		return
	}
	a.seen[parentID] = struct{}{}
	a.order = append(a.order, parentID)
}

// Len returns the number of distinct parents collected so far.
func (a *Aggregator) Len() int {
	return len(a.order)
}

// Drain reconciles every collected parent once. A failing parent does not
// prevent reconciliation of the others; all failures are joined into the
// returned error. Drain is a no-op after the first call.
func (a *Aggregator) Drain(ctx context.Context) error {
	if a.drained {
		return nil
	}
	a.drained = true

	if a.reconcile == nil {
		return nil
	}

	var errs []error
	for _, parentID := range a.order {
		if err := a.reconcile(ctx, parentID); err != nil {
			errs = append(errs, fmt.Errorf("reconcile parent %s: %w", parentID, err))
			if a.logger != nil {
				a.logger.ErrorContext(ctx, "parent reconciliation failed",
					"parent_id", parentID,
					"error", err,
				)
			}
		}
	}
	return errors.Join(errs...)
}
