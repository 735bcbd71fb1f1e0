// Package work contains the per-kind work functions executed by the worker
// pool. The rendering and persistence technologies behind them are external
// collaborators reached through small ports.
package work

import (
	"context"
	"encoding/json"
)

// RecordSource resolves the working set of records for an export entity.
type RecordSource interface {
	FetchRecords(ctx context.Context, entity string) ([]map[string]any, error)
}

// SpreadsheetWriter produces spreadsheet bytes from tabular records.
type SpreadsheetWriter interface {
	Write(ctx context.Context, entity string, records []map[string]any) ([]byte, error)
}

// PDFRenderer snapshots a source URL into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Document is a rendered report generation ready to be stored as an artifact.
type Document struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ReportBuilder assembles a report generation from the report's aggregated
// figures.
type ReportBuilder interface {
	Build(ctx context.Context, reportID string) (Document, error)
}

// FigureStore applies itemized figure mutations for bulk operations.
type FigureStore interface {
	UpdateFigure(ctx context.Context, id string, patch json.RawMessage) error
	DeleteFigure(ctx context.Context, id string) error
}

// ReconcileFn recomputes a parent event's aggregate status after its figures
// changed. Supplied by the feature that owns the parent entity.
type ReconcileFn func(ctx context.Context, parentID string) error
