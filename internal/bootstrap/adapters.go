package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Streamweaver/helix-jobs/config"
	"github.com/Streamweaver/helix-jobs/internal/adapters/worker"
	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/data"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/observability/statsd"
	"github.com/Streamweaver/helix-jobs/internal/service"
	"github.com/Streamweaver/helix-jobs/internal/service/failurenotifier"
	"github.com/Streamweaver/helix-jobs/internal/work"
)

// WorkerPorts carries the external collaborators that back each work
// function. A nil port disables the kinds that depend on it; the worker then
// only claims kinds it can actually execute.
type WorkerPorts struct {
	Source    work.RecordSource
	Writer    work.SpreadsheetWriter
	Renderer  work.PDFRenderer
	Builder   work.ReportBuilder
	Figures   work.FigureStore
	Reconcile work.ReconcileFn
}

// BuildWorkHandlers constructs work functions for every kind whose
// collaborators are present. Kinds with missing collaborators are skipped
// with a warning rather than failing startup.
func BuildWorkHandlers(ports WorkerPorts, logger *slog.Logger) (map[model.JobKind]worker.WorkFn, error) {
	log := logger
	if log == nil {
		log = slog.Default()
	}

	handlers := make(map[model.JobKind]worker.WorkFn)

	if ports.Source != nil && ports.Writer != nil {
		exporter, err := work.NewExporter(work.ExporterOptions{
			Source: ports.Source,
			Writer: ports.Writer,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create exporter: %w", err)
		}
		handlers[model.JobKindExport] = exporter.Handle
	} else {
		log.Warn("export handler disabled", "reason", "record source or spreadsheet writer not configured")
	}

	if ports.Renderer != nil {
		previewer, err := work.NewPreviewer(work.PreviewerOptions{
			Renderer: ports.Renderer,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create previewer: %w", err)
		}
		handlers[model.JobKindPreview] = previewer.Handle
	} else {
		log.Warn("preview handler disabled", "reason", "pdf renderer not configured")
	}

	if ports.Builder != nil {
		reporter, err := work.NewReporter(work.ReporterOptions{
			Builder: ports.Builder,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create reporter: %w", err)
		}
		handlers[model.JobKindReport] = reporter.Handle
	} else {
		log.Warn("report handler disabled", "reason", "report builder not configured")
	}

	if ports.Figures != nil {
		bulk, err := work.NewBulkRunner(work.BulkRunnerOptions{
			Store:     ports.Figures,
			Reconcile: ports.Reconcile,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create bulk runner: %w", err)
		}
		handlers[model.JobKindBulk] = bulk.Handle
	} else {
		log.Warn("bulk handler disabled", "reason", "figure store not configured")
	}

	return handlers, nil
}

// WorkerRunnerConfig contains configuration for the worker pool service.
type WorkerRunnerConfig struct {
	DB              *sql.DB
	Logger          *slog.Logger
	Config          config.WorkerConfig
	Handlers        map[model.JobKind]worker.WorkFn
	JobService      *service.JobService
	Cache           core.FingerprintCache
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// enabledKinds intersects the configured kinds with the registered handlers
// so a partially wired binary still runs the kinds it can serve.
func enabledKinds(
	configured []model.JobKind,
	handlers map[model.JobKind]worker.WorkFn,
	logger *slog.Logger,
) []model.JobKind {
	kinds := make([]model.JobKind, 0, len(configured))
	for _, kind := range configured {
		if _, ok := handlers[kind]; ok {
			kinds = append(kinds, kind)
			continue
		}
		if logger != nil {
			logger.Warn("skipping configured kind without handler", "kind", kind)
		}
	}
	return kinds
}

// RunWorker starts the worker pool service.
func RunWorker(ctx context.Context, cfg WorkerRunnerConfig) error {
	kinds := enabledKinds(cfg.Config.Kinds, cfg.Handlers, cfg.Logger)
	if len(kinds) == 0 {
		return errors.New("worker enabled but no configured kind has a handler")
	}

	runner, err := worker.NewRunner(worker.RunnerOptions{
		DB:              cfg.DB,
		Logger:          cfg.Logger,
		Handlers:        cfg.Handlers,
		Kinds:           kinds,
		Concurrency:     cfg.Config.Concurrency,
		PollInterval:    cfg.Config.PollInterval,
		JobService:      cfg.JobService,
		Cache:           cfg.Cache,
		Metrics:         cfg.Metrics,
		FailureNotifier: cfg.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("create worker runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run worker pool: %w", runErr)
	}
	return nil
}

// ReaperRunnerConfig contains configuration for the reaper service.
type ReaperRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper loop.
func RunReaper(ctx context.Context, cfg ReaperRunnerConfig) error {
	repo := data.NewJobRepo(cfg.DB, data.RepoConfig{Logger: cfg.Logger})

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper service: %w", err)
	}

	return svc.Run(ctx)
}
