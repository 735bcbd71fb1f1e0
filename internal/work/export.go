package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

const spreadsheetContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FilterEvaluator abstracts JMESPath operations for testability.
type FilterEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathEvaluator implements FilterEvaluator using go-jmespath.
type jmespathEvaluator struct{}

func (j jmespathEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// ExporterOptions groups dependencies for the export work function.
type ExporterOptions struct {
	Source    RecordSource
	Writer    SpreadsheetWriter
	Evaluator FilterEvaluator // Optional: defaults to the JMESPath library
	Logger    *slog.Logger
}

// Exporter resolves an entity's working set, applies the payload filter, and
// writes the rows to a spreadsheet artifact.
type Exporter struct {
	source    RecordSource
	writer    SpreadsheetWriter
	evaluator FilterEvaluator
	logger    *slog.Logger
}

// NewExporter constructs the export work function.
func NewExporter(opts ExporterOptions) (*Exporter, error) {
	if opts.Source == nil {
		return nil, errors.New("RecordSource is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("SpreadsheetWriter is required")
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = jmespathEvaluator{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "export_work")
	}
	return &Exporter{
		source:    opts.Source,
		writer:    opts.Writer,
		evaluator: evaluator,
		logger:    logger,
	}, nil
}

// Handle executes one export job.
func (e *Exporter) Handle(ctx context.Context, job *model.Job) (*model.Artifact, error) {
	var payload model.ExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode export payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := e.evaluator.Validate(payload.Filter); err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	records, err := e.source.FetchRecords(ctx, payload.Entity)
	if err != nil {
		return nil, fmt.Errorf("fetch %s records: %w", payload.Entity, err)
	}

	rows, err := e.filterRecords(payload.Filter, records)
	if err != nil {
		return nil, err
	}

	data, err := e.writer.Write(ctx, payload.Entity, rows)
	if err != nil {
		return nil, fmt.Errorf("write spreadsheet: %w", err)
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "export rendered",
			"job_id", job.ID,
			"entity", payload.Entity,
			"rows", len(rows),
			"bytes", len(data),
		)
	}

	return &model.Artifact{
		ContentType: spreadsheetContentType,
		Filename:    exportFilename(payload.Entity, time.Now()),
		SizeBytes:   int64(len(data)),
		Data:        data,
	}, nil
}

func (e *Exporter) filterRecords(expr string, records []map[string]any) ([]map[string]any, error) {
	if strings.TrimSpace(expr) == "" {
		return records, nil
	}

	rows := make([]map[string]any, 0, len(records))
	for i, record := range records {
		result, err := e.evaluator.Evaluate(expr, record)
		if err != nil {
			return nil, fmt.Errorf("evaluate filter on record %d: %w", i, err)
		}
		if filterMatches(result) {
			rows = append(rows, record)
		}
	}
	return rows, nil
}

// filterMatches applies JMESPath truthiness: null, false, empty strings,
// arrays and objects all exclude the record.
func filterMatches(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case []any:
		return len(value) > 0
	case map[string]any:
		return len(value) > 0
	default:
		return true
	}
}

func exportFilename(entity string, now time.Time) string {
	return fmt.Sprintf("%s-extract-%s.xlsx", entity, now.UTC().Format("2006-01-02"))
}
