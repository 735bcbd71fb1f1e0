package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// ReporterOptions groups dependencies for the report-generation work function.
type ReporterOptions struct {
	Builder ReportBuilder
	Logger  *slog.Logger
}

// Reporter builds a report generation document from aggregated figures.
type Reporter struct {
	builder ReportBuilder
	logger  *slog.Logger
}

// NewReporter constructs the report-generation work function.
func NewReporter(opts ReporterOptions) (*Reporter, error) {
	if opts.Builder == nil {
		return nil, errors.New("ReportBuilder is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "report_work")
	}
	return &Reporter{builder: opts.Builder, logger: logger}, nil
}

// Handle executes one report-generation job.
func (r *Reporter) Handle(ctx context.Context, job *model.Job) (*model.Artifact, error) {
	var payload model.ReportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode report payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	doc, err := r.builder.Build(ctx, payload.ReportID)
	if err != nil {
		return nil, fmt.Errorf("build report generation: %w", err)
	}
	if len(doc.Data) == 0 {
		return nil, errors.New("report builder produced an empty document")
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	filename := doc.Filename
	if filename == "" {
		filename = fmt.Sprintf("report-%s-generation.pdf", payload.ReportID)
	}

	if r.logger != nil {
		r.logger.InfoContext(ctx, "report generation built",
			"job_id", job.ID,
			"report_id", payload.ReportID,
			"bytes", len(doc.Data),
		)
	}

	return &model.Artifact{
		ContentType: contentType,
		Filename:    filename,
		SizeBytes:   int64(len(doc.Data)),
		Data:        doc.Data,
	}, nil
}
