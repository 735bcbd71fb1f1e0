package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Streamweaver/helix-jobs/config"
	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/data"
	"github.com/Streamweaver/helix-jobs/internal/observability/notify/pagerduty"
	"github.com/Streamweaver/helix-jobs/internal/observability/notify/slack"
	"github.com/Streamweaver/helix-jobs/internal/observability/statsd"
	"github.com/Streamweaver/helix-jobs/internal/service"
	"github.com/Streamweaver/helix-jobs/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Fingerprints  core.FingerprintCache
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "helix_jobs",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// NewServices wires repositories and services from shared connections.
func NewServices(deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)

	var fingerprints core.FingerprintCache
	if deps.RedisClient != nil {
		fingerprints = data.NewRedisFingerprintCache(deps.RedisClient)
	}

	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{
		Admission: data.AdmissionConfig{
			MaxExportsPerOwner: appCfg.Admission.MaxExportsPerOwner,
			PreviewFreshness:   appCfg.Admission.PreviewFreshness,
		},
		Logger: logger,
	})
	artifactRepo := data.NewArtifactRepo(deps.DB, logger)

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:            jobRepo,
		Artifacts:       artifactRepo,
		Cache:           fingerprints,
		CacheTTL:        appCfg.Cache.FingerprintTTL,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
		FailureNotifier: observability.FailureNotifier,
	})

	return ServiceContainer{
		Jobs:          jobs,
		Fingerprints:  fingerprints,
		Observability: observability,
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Ports       WorkerPorts
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails. Graceful shutdown returns nil.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeWorker] {
		handlers, handlerErr := BuildWorkHandlers(cfg.Ports, logger)
		if handlerErr != nil {
			return handlerErr
		}
		group.Go(func() error {
			logger.Info("background service started", "service", "worker")
			return RunWorker(groupCtx, WorkerRunnerConfig{
				DB:              cfg.DB,
				Logger:          logger,
				Config:          cfg.Config.Worker,
				Handlers:        handlers,
				JobService:      cfg.Services.Jobs,
				Cache:           cfg.Services.Fingerprints,
				Metrics:         cfg.Services.Observability.MetricsSink,
				FailureNotifier: cfg.Services.Observability.FailureNotifier,
			})
		})
	}

	if enabled[config.ServiceModeReaper] {
		group.Go(func() error {
			logger.Info("background service started", "service", "reaper")
			return RunReaper(groupCtx, ReaperRunnerConfig{
				DB:      cfg.DB,
				Logger:  logger,
				Config:  cfg.Config.Reaper,
				Metrics: cfg.Services.Observability.MetricsSink,
			})
		})
	}

	waitErr := group.Wait()

	// Stop notification listeners so LISTEN connections are not leaked on
	// the way out.
	if cfg.Services.Jobs != nil {
		cfg.Services.Jobs.StopAllListeners()
	}

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		logger.Error("service error", "error", waitErr)
		return waitErr
	}

	logger.Info("services stopped")
	return nil
}
