package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the job reaper for timeouts and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// Kinds is a comma-delimited list of job kinds this worker executes.
	Kinds []model.JobKind `env:"WORKER_KINDS" envDefault:"export,preview,report_generation,bulk_operation"`

	// PollInterval is the fallback claim interval when no notification arrives.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`

	// NotifyWaitWindow bounds how long a notification listener blocks before
	// re-establishing its LISTEN connection.
	NotifyWaitWindow time.Duration `env:"WORKER_NOTIFY_WAIT_WINDOW" envDefault:"1m"`

	// ShutdownGrace is how long in-flight work may run after shutdown begins.
	ShutdownGrace time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 64 {
		w.Concurrency = 64
	}
	if len(w.Kinds) == 0 {
		w.Kinds = model.AllJobKinds()
	}
	if w.PollInterval < time.Second {
		w.PollInterval = time.Second
	}
	if w.NotifyWaitWindow < 5*time.Second {
		w.NotifyWaitWindow = 5 * time.Second
	}
	if w.ShutdownGrace < time.Second {
		w.ShutdownGrace = time.Second
	}
}

// AdmissionConfig contains admission policy configuration.
type AdmissionConfig struct {
	// MaxExportsPerOwner caps non-terminal export jobs per owner.
	MaxExportsPerOwner int `env:"ADMISSION_MAX_EXPORTS_PER_OWNER" envDefault:"3"`

	// PreviewFreshness bounds how long an in-flight preview keeps absorbing
	// repeat submissions with the same fingerprint.
	PreviewFreshness time.Duration `env:"ADMISSION_PREVIEW_FRESHNESS" envDefault:"10m"`
}

// Sanitize applies guardrails to admission configuration values.
func (a *AdmissionConfig) Sanitize() {
	if a.MaxExportsPerOwner < 1 {
		a.MaxExportsPerOwner = 1
	}
	if a.PreviewFreshness < 0 {
		a.PreviewFreshness = 0
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// Per-kind maximum queue waits. Jobs stuck in pending longer than the
	// limit for their kind are killed.
	ExportPendingMaxAge  time.Duration `env:"REAPER_EXPORT_PENDING_MAX_AGE"  envDefault:"30m"`
	PreviewPendingMaxAge time.Duration `env:"REAPER_PREVIEW_PENDING_MAX_AGE" envDefault:"10m"`
	ReportPendingMaxAge  time.Duration `env:"REAPER_REPORT_PENDING_MAX_AGE"  envDefault:"30m"`
	BulkPendingMaxAge    time.Duration `env:"REAPER_BULK_PENDING_MAX_AGE"    envDefault:"30m"`

	// Per-kind maximum execution times. Jobs in progress longer than the
	// limit for their kind are killed.
	ExportMaxRuntime  time.Duration `env:"REAPER_EXPORT_MAX_RUNTIME"  envDefault:"15m"`
	PreviewMaxRuntime time.Duration `env:"REAPER_PREVIEW_MAX_RUNTIME" envDefault:"5m"`
	ReportMaxRuntime  time.Duration `env:"REAPER_REPORT_MAX_RUNTIME"  envDefault:"30m"`
	BulkMaxRuntime    time.Duration `env:"REAPER_BULK_MAX_RUNTIME"    envDefault:"20m"`

	// TerminalMaxAge is the maximum age for terminal jobs before deletion.
	TerminalMaxAge time.Duration `env:"REAPER_TERMINAL_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// PendingMaxAge returns the queue-wait limit for a kind.
func (r ReaperConfig) PendingMaxAge(kind model.JobKind) time.Duration {
	switch kind {
	case model.JobKindExport:
		return r.ExportPendingMaxAge
	case model.JobKindPreview:
		return r.PreviewPendingMaxAge
	case model.JobKindReport:
		return r.ReportPendingMaxAge
	case model.JobKindBulk:
		return r.BulkPendingMaxAge
	default:
		return r.ExportPendingMaxAge
	}
}

// MaxRuntime returns the in-progress execution limit for a kind.
func (r ReaperConfig) MaxRuntime(kind model.JobKind) time.Duration {
	switch kind {
	case model.JobKindExport:
		return r.ExportMaxRuntime
	case model.JobKindPreview:
		return r.PreviewMaxRuntime
	case model.JobKindReport:
		return r.ReportMaxRuntime
	case model.JobKindBulk:
		return r.BulkMaxRuntime
	default:
		return r.ExportMaxRuntime
	}
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	for _, limit := range []*time.Duration{
		&r.ExportPendingMaxAge, &r.PreviewPendingMaxAge, &r.ReportPendingMaxAge, &r.BulkPendingMaxAge,
		&r.ExportMaxRuntime, &r.PreviewMaxRuntime, &r.ReportMaxRuntime, &r.BulkMaxRuntime,
	} {
		if *limit < time.Minute {
			*limit = time.Minute
		}
	}
	if r.TerminalMaxAge < time.Hour {
		r.TerminalMaxAge = time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
