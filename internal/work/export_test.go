package work

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

type fakeRecordSource struct {
	records []map[string]any
	err     error
	entity  string
}

func (f *fakeRecordSource) FetchRecords(_ context.Context, entity string) ([]map[string]any, error) {
	f.entity = entity
	return f.records, f.err
}

type fakeSpreadsheetWriter struct {
	data []byte
	err  error
	rows []map[string]any
}

func (f *fakeSpreadsheetWriter) Write(_ context.Context, _ string, records []map[string]any) ([]byte, error) {
	f.rows = records
	return f.data, f.err
}

func exportJob(t *testing.T, payload model.ExportPayload) *model.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &model.Job{
		ID:      "job-1",
		Kind:    model.JobKindExport,
		State:   model.JobStateInProgress,
		Owner:   "user-1",
		Payload: raw,
	}
}

func TestExporter_Handle(t *testing.T) {
	source := &fakeRecordSource{records: []map[string]any{
		{"id": "f1", "verified": true},
		{"id": "f2", "verified": false},
		{"id": "f3", "verified": true},
	}}
	writer := &fakeSpreadsheetWriter{data: []byte("xlsx-bytes")}

	exporter, err := NewExporter(ExporterOptions{Source: source, Writer: writer})
	require.NoError(t, err)

	artifact, err := exporter.Handle(context.Background(), exportJob(t, model.ExportPayload{
		Entity: "figures",
		Filter: "verified",
	}))
	require.NoError(t, err)

	assert.Equal(t, "figures", source.entity)
	assert.Len(t, writer.rows, 2)
	assert.Equal(t, spreadsheetContentType, artifact.ContentType)
	assert.Equal(t, []byte("xlsx-bytes"), artifact.Data)
	assert.Equal(t, int64(len("xlsx-bytes")), artifact.SizeBytes)
	assert.Contains(t, artifact.Filename, "figures-extract-")
	assert.Contains(t, artifact.Filename, ".xlsx")
}

func TestExporter_Handle_NoFilterKeepsAllRecords(t *testing.T) {
	source := &fakeRecordSource{records: []map[string]any{
		{"id": "f1"},
		{"id": "f2"},
	}}
	writer := &fakeSpreadsheetWriter{data: []byte("x")}

	exporter, err := NewExporter(ExporterOptions{Source: source, Writer: writer})
	require.NoError(t, err)

	_, err = exporter.Handle(context.Background(), exportJob(t, model.ExportPayload{Entity: "events"}))
	require.NoError(t, err)
	assert.Len(t, writer.rows, 2)
}

func TestExporter_Handle_InvalidFilter(t *testing.T) {
	exporter, err := NewExporter(ExporterOptions{
		Source: &fakeRecordSource{},
		Writer: &fakeSpreadsheetWriter{},
	})
	require.NoError(t, err)

	_, err = exporter.Handle(context.Background(), exportJob(t, model.ExportPayload{
		Entity: "figures",
		Filter: "][",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter expression")
}

func TestExporter_Handle_SourceError(t *testing.T) {
	boom := errors.New("db timeout")
	exporter, err := NewExporter(ExporterOptions{
		Source: &fakeRecordSource{err: boom},
		Writer: &fakeSpreadsheetWriter{},
	})
	require.NoError(t, err)

	_, err = exporter.Handle(context.Background(), exportJob(t, model.ExportPayload{Entity: "figures"}))
	require.ErrorIs(t, err, boom)
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"true", true, true},
		{"false", false, false},
		{"empty string", "", false},
		{"string", "x", true},
		{"empty array", []any{}, false},
		{"array", []any{1}, true},
		{"empty object", map[string]any{}, false},
		{"object", map[string]any{"a": 1}, true},
		{"number", 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filterMatches(tt.value))
		})
	}
}

func TestNewExporter_RequiresDependencies(t *testing.T) {
	_, err := NewExporter(ExporterOptions{Writer: &fakeSpreadsheetWriter{}})
	require.Error(t, err)

	_, err = NewExporter(ExporterOptions{Source: &fakeRecordSource{}})
	require.Error(t, err)
}
