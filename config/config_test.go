package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr string
	}{
		{
			name:  "worker and reaper",
			input: "worker,reaper",
			want:  map[ServiceMode]bool{ServiceModeWorker: true, ServiceModeReaper: true},
		},
		{
			name:  "single service with whitespace",
			input: " worker ",
			want:  map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:  "trailing comma",
			input: "reaper,",
			want:  map[ServiceMode]bool{ServiceModeReaper: true},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: "at least one service",
		},
		{
			name:    "only commas",
			input:   ",,",
			wantErr: "at least one valid service",
		},
		{
			name:    "unknown service",
			input:   "worker,api",
			wantErr: "invalid service name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppConfigServiceFlags(t *testing.T) {
	cfg := AppConfig{Services: "worker"}
	assert.True(t, cfg.IsWorkerEnabled())
	assert.False(t, cfg.IsReaperEnabled())

	cfg.Services = "bogus"
	assert.False(t, cfg.IsWorkerEnabled())
	assert.False(t, cfg.IsReaperEnabled())
}

func TestAppConfigDetectDevMode(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg := AppConfig{Services: "worker"}
	cfg.Sanitize()
	assert.True(t, cfg.IsDev)

	t.Setenv("APP_ENV", "production")
	cfg = AppConfig{Services: "worker"}
	cfg.Sanitize()
	assert.False(t, cfg.IsDev)

	// Explicit DEV=true wins regardless of APP_ENV.
	cfg = AppConfig{Services: "worker", IsDev: true}
	cfg.Sanitize()
	assert.True(t, cfg.IsDev)
}

func TestWorkerConfigSanitize(t *testing.T) {
	w := WorkerConfig{Concurrency: 0, PollInterval: time.Millisecond}
	w.Sanitize()
	assert.Equal(t, 1, w.Concurrency)
	assert.Equal(t, time.Second, w.PollInterval)
	assert.Equal(t, model.AllJobKinds(), w.Kinds)
	assert.Equal(t, 5*time.Second, w.NotifyWaitWindow)
	assert.Equal(t, time.Second, w.ShutdownGrace)

	w = WorkerConfig{Concurrency: 500, Kinds: []model.JobKind{model.JobKindExport}}
	w.Sanitize()
	assert.Equal(t, 64, w.Concurrency)
	assert.Equal(t, []model.JobKind{model.JobKindExport}, w.Kinds)
}

func TestAdmissionConfigSanitize(t *testing.T) {
	a := AdmissionConfig{MaxExportsPerOwner: -1, PreviewFreshness: -time.Minute}
	a.Sanitize()
	assert.Equal(t, 1, a.MaxExportsPerOwner)
	assert.Equal(t, time.Duration(0), a.PreviewFreshness)
}

func TestReaperConfigSanitize(t *testing.T) {
	r := ReaperConfig{
		Interval:            time.Second,
		ExportPendingMaxAge: time.Second,
		TerminalMaxAge:      time.Minute,
		BatchSize:           0,
	}
	r.Sanitize()
	assert.Equal(t, 10*time.Second, r.Interval)
	assert.Equal(t, time.Minute, r.ExportPendingMaxAge)
	assert.Equal(t, time.Minute, r.PreviewPendingMaxAge)
	assert.Equal(t, time.Minute, r.ExportMaxRuntime)
	assert.Equal(t, time.Hour, r.TerminalMaxAge)
	assert.Equal(t, 1, r.BatchSize)

	r.BatchSize = 100000
	r.Sanitize()
	assert.Equal(t, 10000, r.BatchSize)
}

func TestReaperConfigMaxRuntime(t *testing.T) {
	r := ReaperConfig{
		ExportMaxRuntime:  15 * time.Minute,
		PreviewMaxRuntime: 5 * time.Minute,
		ReportMaxRuntime:  30 * time.Minute,
		BulkMaxRuntime:    20 * time.Minute,
	}

	assert.Equal(t, 15*time.Minute, r.MaxRuntime(model.JobKindExport))
	assert.Equal(t, 5*time.Minute, r.MaxRuntime(model.JobKindPreview))
	assert.Equal(t, 30*time.Minute, r.MaxRuntime(model.JobKindReport))
	assert.Equal(t, 20*time.Minute, r.MaxRuntime(model.JobKindBulk))
	// Unknown kinds fall back to the export limit.
	assert.Equal(t, 15*time.Minute, r.MaxRuntime("mystery"))
}

func TestReaperConfigPendingMaxAge(t *testing.T) {
	r := ReaperConfig{
		ExportPendingMaxAge:  30 * time.Minute,
		PreviewPendingMaxAge: 10 * time.Minute,
		ReportPendingMaxAge:  45 * time.Minute,
		BulkPendingMaxAge:    20 * time.Minute,
	}

	assert.Equal(t, 30*time.Minute, r.PendingMaxAge(model.JobKindExport))
	assert.Equal(t, 10*time.Minute, r.PendingMaxAge(model.JobKindPreview))
	assert.Equal(t, 45*time.Minute, r.PendingMaxAge(model.JobKindReport))
	assert.Equal(t, 20*time.Minute, r.PendingMaxAge(model.JobKindBulk))
	assert.Equal(t, 30*time.Minute, r.PendingMaxAge("mystery"))
}
