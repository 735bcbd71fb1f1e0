// Package worker provides the job execution pool for the helix job subsystem.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/data"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	obserrors "github.com/Streamweaver/helix-jobs/internal/observability/errors"
	"github.com/Streamweaver/helix-jobs/internal/observability/metrics"
	"github.com/Streamweaver/helix-jobs/internal/observability/statsd"
	"github.com/Streamweaver/helix-jobs/internal/service"
	"github.com/Streamweaver/helix-jobs/internal/service/failurenotifier"
)

// WorkFn executes one claimed job and returns the artifact to persist. A nil
// error with a nil artifact is invalid; handlers must produce one or the
// other.
type WorkFn func(ctx context.Context, job *model.Job) (*model.Artifact, error)

// RunnerOptions configures the worker pool adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Handlers maps each processed kind to its work function. Required.
	Handlers map[model.JobKind]WorkFn

	// Kinds restricts which kinds this pool claims. Defaults to the handler keys.
	Kinds []model.JobKind

	Concurrency  int           // number of worker goroutines; defaults to 1
	PollInterval time.Duration // idle re-check period when notifications are missed; defaults to 5s

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo        core.JobRepository
	ArtifactsRepo   core.ArtifactRepository
	JobService      *service.JobService
	Cache           core.FingerprintCache
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// Runner claims pending jobs and executes them using registered work functions.
type Runner struct {
	jobs         *service.JobService
	logger       *slog.Logger
	kinds        []model.JobKind
	workers      int
	pollInterval time.Duration
	handlers     map[model.JobKind]WorkFn
	metrics      statsd.Sink
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func buildJobService(opts RunnerOptions) (*service.JobService, error) {
	if opts.JobService != nil {
		return opts.JobService, nil
	}

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	artifactsRepo := opts.ArtifactsRepo
	if artifactsRepo == nil {
		artifactsRepo = data.NewArtifactRepo(opts.DB, opts.Logger)
	}

	return service.NewJobService(service.JobServiceOptions{
		Repo:            jobsRepo,
		Artifacts:       artifactsRepo,
		Cache:           opts.Cache,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		FailureNotifier: opts.FailureNotifier,
	})
}

// NewRunner wires repositories/services and constructs a worker pool.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil && opts.JobService == nil {
		return nil, errors.New("either DB, JobsRepo, or JobService must be provided")
	}
	if len(opts.Handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}

	logger := resolveLogger(opts.Logger)

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	kinds := opts.Kinds
	if len(kinds) == 0 {
		for _, kind := range model.AllJobKinds() {
			if _, ok := opts.Handlers[kind]; ok {
				kinds = append(kinds, kind)
			}
		}
	}
	for _, kind := range kinds {
		if _, ok := opts.Handlers[kind]; !ok {
			return nil, fmt.Errorf("kind %s has no handler", kind)
		}
	}

	jobSvc, err := buildJobService(opts)
	if err != nil {
		return nil, fmt.Errorf("build job service: %w", err)
	}

	return &Runner{
		jobs:         jobSvc,
		logger:       logger,
		kinds:        kinds,
		workers:      workers,
		pollInterval: pollInterval,
		handlers:     opts.Handlers,
		metrics:      opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker pool",
		"kinds", kindStrings(r.kinds),
		"workers", r.workers,
		"poll_interval", r.pollInterval,
	)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wake := r.subscribeAll(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, wake); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// subscribeAll merges per-kind availability notifications into one channel.
// The merged channel is buffered and sends are non-blocking; a wake-up is a
// hint to re-poll, not a unit of work.
func (r *Runner) subscribeAll(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	for _, kind := range r.kinds {
		unsub, ch := r.jobs.Subscribe(kind)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			}
		}()
	}
	return wake
}

func (r *Runner) workerLoop(ctx context.Context, wake <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.AcquireNext(ctx, r.kinds)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, wake) {
				return nil
			}
		default:
			return fmt.Errorf("acquire next: %w", err)
		}
	}
	return ctx.Err()
}

// waitForWork blocks until a notification arrives or the poll interval
// elapses. The timer fallback covers notifications dropped while every
// worker was busy.
func (r *Runner) waitForWork(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Kind:       string(job.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	fn, ok := r.handlers[job.Kind]
	if !ok {
		err := fmt.Errorf("no handler for job kind %s", job.Kind)
		r.fail(ctx, job, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	artifact, err := r.runHandler(ctx, fn, job)
	if err != nil {
		r.fail(ctx, job, err)
		emit("failed", metrics.ResultError, err)
		return
	}
	if artifact == nil {
		err := fmt.Errorf("handler for kind %s returned no artifact", job.Kind)
		r.fail(ctx, job, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	completed, err := r.jobs.Complete(ctx, job.ID, artifact)
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, err)
	case !completed:
		// The job left in_progress while we were working, typically a
		// reaper kill. The artifact was rolled back with the state flip.
		r.logger.WarnContext(ctx, "late result discarded", "job_id", job.ID, "kind", job.Kind)
		emit("completed", metrics.ResultNoop, nil)
	default:
		emit("completed", metrics.ResultSuccess, nil)
	}
}

// runHandler invokes the work function, converting a panic into an ordinary
// error so a faulty handler fails its own job instead of taking down the
// whole pool.
func (r *Runner) runHandler(ctx context.Context, fn WorkFn, job *model.Job) (artifact *model.Artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "panic in work function",
				"job_id", job.ID,
				"kind", job.Kind,
				"panic", rec,
			)
			artifact = nil
			err = fmt.Errorf("work function panic: %v", rec)
		}
	}()
	return fn(ctx, job)
}

func (r *Runner) fail(ctx context.Context, job *model.Job, cause error) {
	_, err := r.jobs.FailWithDetails(ctx, job.ID, cause.Error(), service.JobFailureDetails{
		ErrorClass: obserrors.Classify(cause),
		Metadata: map[string]string{
			"component": "worker",
		},
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", err, "original_error", cause)
	}
}

func kindStrings(kinds []model.JobKind) []string {
	out := make([]string, len(kinds))
	for i, kind := range kinds {
		out[i] = string(kind)
	}
	return out
}
