// Package devseed provides development stand-ins for the external
// collaborators that back the work functions, plus sample job submissions.
// It lets a local binary execute every job kind end to end without the real
// figure store, spreadsheet writer, or rendering services.
package devseed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Streamweaver/helix-jobs/internal/bootstrap"
	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/service"
	"github.com/Streamweaver/helix-jobs/internal/work"
)

// Ports returns dev-mode implementations for every worker collaborator.
func Ports(logger *slog.Logger) bootstrap.WorkerPorts {
	log := logger
	if log == nil {
		log = slog.Default()
	}
	figures := newMemoryFigureStore()

	return bootstrap.WorkerPorts{
		Source:   &sampleRecordSource{figures: figures},
		Writer:   &csvWriter{},
		Renderer: &staticRenderer{},
		Builder:  &staticReportBuilder{},
		Figures:  figures,
		Reconcile: func(ctx context.Context, parentID string) error {
			log.InfoContext(ctx, "dev reconcile", "parent_id", parentID)
			return nil
		},
	}
}

// memoryFigureStore keeps figure records in memory for bulk operations.
type memoryFigureStore struct {
	mu      sync.Mutex
	figures map[string]map[string]any
}

func newMemoryFigureStore() *memoryFigureStore {
	store := &memoryFigureStore{figures: make(map[string]map[string]any)}
	for i := 1; i <= 6; i++ {
		id := "figure-" + strconv.Itoa(i)
		store.figures[id] = map[string]any{
			"id":         id,
			"event_id":   "event-" + strconv.Itoa((i+1)/2),
			"households": 100 * i,
			"verified":   i%2 == 0,
		}
	}
	return store
}

func (s *memoryFigureStore) UpdateFigure(_ context.Context, id string, patch json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	figure, ok := s.figures[id]
	if !ok {
		return fmt.Errorf("figure %s not found", id)
	}

	var fields map[string]any
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("decode figure patch: %w", err)
	}
	for k, v := range fields {
		figure[k] = v
	}
	return nil
}

func (s *memoryFigureStore) DeleteFigure(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.figures[id]; !ok {
		return fmt.Errorf("figure %s not found", id)
	}
	delete(s.figures, id)
	return nil
}

func (s *memoryFigureStore) snapshot() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]map[string]any, 0, len(s.figures))
	for _, figure := range s.figures {
		copied := make(map[string]any, len(figure))
		for k, v := range figure {
			copied[k] = v
		}
		records = append(records, copied)
	}
	sort.Slice(records, func(i, j int) bool {
		left, _ := records[i]["id"].(string)
		right, _ := records[j]["id"].(string)
		return left < right
	})
	return records
}

// sampleRecordSource serves the in-memory figures as the export working set.
type sampleRecordSource struct {
	figures *memoryFigureStore
}

func (s *sampleRecordSource) FetchRecords(_ context.Context, entity string) ([]map[string]any, error) {
	if entity != "figures" {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
	return s.figures.snapshot(), nil
}

// csvWriter renders records as CSV bytes. It stands in for the real
// spreadsheet writer, which lives outside this repo.
type csvWriter struct{}

func (w *csvWriter) Write(_ context.Context, _ string, records []map[string]any) ([]byte, error) {
	if len(records) == 0 {
		return []byte{}, nil
	}

	columns := make([]string, 0, len(records[0]))
	for column := range records[0] {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var buf bytes.Buffer
	buf.WriteString(strings.Join(columns, ",") + "\n")
	for _, record := range records {
		cells := make([]string, len(columns))
		for i, column := range columns {
			cells[i] = fmt.Sprint(record[column])
		}
		buf.WriteString(strings.Join(cells, ",") + "\n")
	}
	return buf.Bytes(), nil
}

// minimalPDF is a one-page empty document, enough for end-to-end plumbing.
var minimalPDF = []byte("%PDF-1.4\n1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n" +
	"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n" +
	"3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>endobj\n" +
	"trailer<</Root 1 0 R>>\n%%EOF\n")

type staticRenderer struct{}

func (r *staticRenderer) Render(_ context.Context, _ string) ([]byte, error) {
	return minimalPDF, nil
}

type staticReportBuilder struct{}

func (b *staticReportBuilder) Build(_ context.Context, reportID string) (work.Document, error) {
	return work.Document{
		Data:        minimalPDF,
		ContentType: "application/pdf",
		Filename:    "report-" + reportID + "-generation.pdf",
	}, nil
}

// Run submits one sample job per kind so a fresh dev environment has work in
// the queue. Admission rejections from earlier runs are tolerated.
func Run(ctx context.Context, jobs *service.JobService, logger *slog.Logger) error {
	if jobs == nil {
		return errors.New("job service is required")
	}
	log := logger
	if log == nil {
		log = slog.Default()
	}

	submitted := 0
	for _, req := range sampleRequests() {
		job, err := jobs.Submit(ctx, req)
		if err != nil {
			if isAdmissionRejection(err) {
				log.InfoContext(ctx, "sample job already admitted", "kind", req.Kind)
				continue
			}
			return fmt.Errorf("seed %s job: %w", req.Kind, err)
		}
		submitted++
		log.InfoContext(ctx, "sample job submitted", "kind", req.Kind, "job_id", job.ID)
	}

	log.InfoContext(ctx, "dev seeding complete", "submitted", submitted)
	return nil
}

func sampleRequests() []*model.SubmitJobRequest {
	return []*model.SubmitJobRequest{
		{
			Kind:    model.JobKindExport,
			Owner:   "dev",
			Payload: json.RawMessage(`{"entity":"figures","filter":"verified"}`),
		},
		{
			Kind:    model.JobKindPreview,
			Owner:   "dev",
			Payload: json.RawMessage(`{"url":"https://example.org/sources/field-report"}`),
		},
		{
			Kind:    model.JobKindReport,
			Owner:   "dev",
			Payload: json.RawMessage(`{"report_id":"report-dev-1"}`),
		},
		{
			Kind:  model.JobKindBulk,
			Owner: "dev",
			Payload: json.RawMessage(`{"operation":"update","items":[` +
				`{"id":"figure-1","parent_id":"event-1","patch":{"verified":true}},` +
				`{"id":"figure-2","parent_id":"event-1","patch":{"households":250}}]}`),
		},
	}
}

func isAdmissionRejection(err error) bool {
	var dup *core.DuplicateJobError
	var concurrency *core.OwnerConcurrencyError
	return errors.As(err, &dup) ||
		errors.As(err, &concurrency) ||
		errors.Is(err, core.ErrGenerationInProgress)
}
