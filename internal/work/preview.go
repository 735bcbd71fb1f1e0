package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// PreviewerOptions groups dependencies for the preview work function.
type PreviewerOptions struct {
	Renderer PDFRenderer
	Logger   *slog.Logger
}

// Previewer snapshots a source URL into a PDF artifact.
type Previewer struct {
	renderer PDFRenderer
	logger   *slog.Logger
}

// NewPreviewer constructs the preview work function.
func NewPreviewer(opts PreviewerOptions) (*Previewer, error) {
	if opts.Renderer == nil {
		return nil, errors.New("PDFRenderer is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "preview_work")
	}
	return &Previewer{renderer: opts.Renderer, logger: logger}, nil
}

// Handle executes one preview job.
func (p *Previewer) Handle(ctx context.Context, job *model.Job) (*model.Artifact, error) {
	var payload model.PreviewPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode preview payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	data, err := p.renderer.Render(ctx, payload.URL)
	if err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}

	domain := payload.RegistrableDomain()
	if p.logger != nil {
		p.logger.InfoContext(ctx, "preview rendered",
			"job_id", job.ID,
			"domain", domain,
			"bytes", len(data),
		)
	}

	return &model.Artifact{
		ContentType: "application/pdf",
		Filename:    previewFilename(domain),
		SizeBytes:   int64(len(data)),
		Data:        data,
	}, nil
}

func previewFilename(domain string) string {
	if domain == "" {
		domain = "snapshot"
	}
	return fmt.Sprintf("preview-%s.pdf", domain)
}
