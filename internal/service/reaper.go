package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Streamweaver/helix-jobs/config"
	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	obserrors "github.com/Streamweaver/helix-jobs/internal/observability/errors"
	"github.com/Streamweaver/helix-jobs/internal/observability/metrics"
	"github.com/Streamweaver/helix-jobs/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService enforces job time limits and removes old terminal jobs.
//
// This service manages:
// - Killing pending jobs that were never claimed within the wait limit.
// - Killing in-progress jobs that exceeded their kind's execution limit.
// - Deleting old terminal jobs to prevent database bloat.
//
// A sweep is idempotent: the kill operations only touch jobs still in a
// non-terminal state, so running it twice with the same clock changes
// nothing the second time.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// ReapSummary reports what one sweep changed.
type ReapSummary struct {
	KilledPending    map[model.JobKind]int
	KilledInProgress map[model.JobKind]int
	Deleted          int
	Elapsed          time.Duration
}

// TotalKilled returns the number of jobs moved to killed during the sweep.
func (s *ReapSummary) TotalKilled() int {
	total := 0
	for _, n := range s.KilledPending {
		total += n
	}
	for _, n := range s.KilledInProgress {
		total += n
	}
	return total
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"terminal_max_age", opts.Config.TerminalMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs a sweep at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Sweep immediately after jitter
	if _, err := s.Reap(ctx, time.Now()); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the sweep loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.Reap(ctx, time.Now()); err != nil {
				s.logSweepError(err, "sweep")
				// Continue running despite errors
			}
		}
	}
}

// Reap performs one full sweep relative to the given clock: kill stale
// pending jobs, kill overrunning in-progress jobs, then delete old terminal
// jobs. Per-step failures are collected, not fatal, so one broken step never
// starves the others.
func (s *ReaperService) Reap(ctx context.Context, now time.Time) (*ReapSummary, error) {
	start := time.Now()
	summary := &ReapSummary{
		KilledPending:    make(map[model.JobKind]int),
		KilledInProgress: make(map[model.JobKind]int),
	}

	var (
		errs               []error
		allContextCanceled = true
	)

	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
			allContextCanceled = allContextCanceled && isContextCancellation(err)
		}
	}

	for _, kind := range model.AllJobKinds() {
		count, err := s.killStale(ctx, killStep{
			kind:   kind,
			step:   "kill_pending",
			cutoff: now.Add(-s.config.PendingMaxAge(kind)),
			fn:     s.repo.KillStalePendingJobs,
		})
		summary.KilledPending[kind] = count
		record(err)

		count, err = s.killStale(ctx, killStep{
			kind:   kind,
			step:   "kill_in_progress",
			cutoff: now.Add(-s.config.MaxRuntime(kind)),
			fn:     s.repo.KillStaleInProgressJobs,
		})
		summary.KilledInProgress[kind] = count
		record(err)
	}

	deleted, err := s.deleteOldJobs(ctx, now)
	summary.Deleted = deleted
	record(err)

	summary.Elapsed = time.Since(start)
	s.emitSweepMetrics(summary, errs)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return summary, context.Canceled
		}
		return summary, fmt.Errorf("sweep failed: %w", joined)
	}

	return summary, nil
}

type killStep struct {
	kind   model.JobKind
	step   string
	cutoff time.Time
	fn     func(context.Context, core.ReapParams) (int, error)
}

// killStale loops one kill operation until no more rows are affected to
// handle large datasets in batches.
func (s *ReaperService) killStale(ctx context.Context, step killStep) (int, error) {
	total := 0
	for {
		count, err := step.fn(ctx, core.ReapParams{
			Kind:      step.kind,
			Cutoff:    step.cutoff,
			BatchSize: s.config.BatchSize,
		})
		total += count
		if err != nil {
			s.emitStepMetric(step.kind, step.step, total, err)
			return total, fmt.Errorf("%s %s: %w", step.step, step.kind, err)
		}
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			s.emitStepMetric(step.kind, step.step, total, ctx.Err())
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "killed stale jobs",
			"kind", step.kind,
			"step", step.step,
			"count", total,
			"cutoff", step.cutoff,
		)
	}

	s.emitStepMetric(step.kind, step.step, total, nil)
	return total, nil
}

// deleteOldJobs removes terminal jobs older than the configured retention.
// Loops until no more rows are affected to handle large datasets in batches.
func (s *ReaperService) deleteOldJobs(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.config.TerminalMaxAge)
	total := 0
	for {
		count, err := s.repo.DeleteOldJobs(ctx, cutoff, s.config.BatchSize)
		total += count
		if err != nil {
			return total, fmt.Errorf("delete old jobs: %w", err)
		}
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old terminal jobs",
			"count", total,
			"max_age", s.config.TerminalMaxAge,
		)
	}
	return total, nil
}

func (s *ReaperService) emitStepMetric(kind model.JobKind, step string, affected int, err error) {
	metrics.EmitReapStep(s.metrics, metrics.ReapMetric{
		Kind:     string(kind),
		Step:     step,
		Affected: affected,
		Err:      suppressContextCancellation(err),
	})
}

func (s *ReaperService) emitSweepMetrics(summary *ReapSummary, errs []error) {
	if s.metrics == nil {
		return
	}

	firstErr := firstError(errs...)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if summary.TotalKilled() == 0 && summary.Deleted == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.sweep", 1, tags)
	if summary.Elapsed > 0 {
		s.metrics.Timing("reaper.sweep_duration", summary.Elapsed, metrics.CloneTags(tags))
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
