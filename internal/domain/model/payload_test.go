package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "https url", url: "https://example.com/story"},
		{name: "http url", url: "http://example.com"},
		{name: "ftp scheme", url: "ftp://example.com/file", wantErr: "must be http or https"},
		{name: "relative path", url: "/just/a/path", wantErr: "must be http or https"},
		{name: "scheme only", url: "https://", wantErr: "must be absolute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PreviewPayload{URL: tt.url}
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPreviewPayload_Fingerprint_Normalization(t *testing.T) {
	a := PreviewPayload{URL: "HTTPS://Example.COM/Story?q=1#frag"}
	b := PreviewPayload{URL: "https://example.com/Story?q=1"}

	// Scheme/host case and fragments do not change the dedupe handle.
	assert.Equal(t, a.Fingerprint("user-1"), b.Fingerprint("user-1"))

	// Path case and query strings do.
	c := PreviewPayload{URL: "https://example.com/story?q=1"}
	assert.NotEqual(t, b.Fingerprint("user-1"), c.Fingerprint("user-1"))

	d := PreviewPayload{URL: "https://example.com/Story?q=2"}
	assert.NotEqual(t, b.Fingerprint("user-1"), d.Fingerprint("user-1"))
}

func TestPreviewPayload_Fingerprint_ScopedToOwner(t *testing.T) {
	p := PreviewPayload{URL: "https://example.com/story"}
	assert.NotEqual(t, p.Fingerprint("user-1"), p.Fingerprint("user-2"))
}

func TestPreviewPayload_Fingerprint_Stable(t *testing.T) {
	p := PreviewPayload{URL: "https://example.com/story"}
	assert.Equal(t, p.Fingerprint("user-1"), p.Fingerprint("user-1"))
	assert.Len(t, p.Fingerprint("user-1"), 64)
}

func TestPreviewPayload_RegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.co.uk",
		(&PreviewPayload{URL: "https://news.example.co.uk/a/b"}).RegistrableDomain())
	assert.Equal(t, "example.com",
		(&PreviewPayload{URL: "http://www.example.com"}).RegistrableDomain())
	assert.Equal(t, "", (&PreviewPayload{URL: "not a url"}).RegistrableDomain())
}

func TestBulkPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload BulkPayload
		wantErr string
	}{
		{
			name: "update with items",
			payload: BulkPayload{
				Operation: BulkOperationUpdate,
				Items: []BulkItem{
					{ID: "f-1", ParentID: "e-1", Patch: json.RawMessage(`{"status":"ok"}`)},
				},
			},
		},
		{
			name:    "delete with no items is valid",
			payload: BulkPayload{Operation: BulkOperationDelete},
		},
		{
			name:    "unknown operation",
			payload: BulkPayload{Operation: "upsert"},
			wantErr: "invalid bulk operation",
		},
		{
			name: "item missing id",
			payload: BulkPayload{
				Operation: BulkOperationUpdate,
				Items:     []BulkItem{{ID: " ", ParentID: "e-1"}},
			},
			wantErr: "id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodePayload_PreviewSetsFingerprint(t *testing.T) {
	req := &SubmitJobRequest{
		Kind:    JobKindPreview,
		Owner:   "user-1",
		Payload: json.RawMessage(`{"url":"https://example.com/story"}`),
	}
	require.NoError(t, DecodePayload(req))
	require.NotNil(t, req.Fingerprint)

	want := (&PreviewPayload{URL: "https://example.com/story"}).Fingerprint("user-1")
	assert.Equal(t, want, *req.Fingerprint)
	require.NoError(t, req.Validate())
}

func TestDecodePayload_ReportSetsParentID(t *testing.T) {
	req := &SubmitJobRequest{
		Kind:    JobKindReport,
		Owner:   "user-1",
		Payload: json.RawMessage(`{"report_id":"rep-42"}`),
	}
	require.NoError(t, DecodePayload(req))
	require.NotNil(t, req.ParentID)
	assert.Equal(t, "rep-42", *req.ParentID)
}

func TestDecodePayload_RejectsMalformed(t *testing.T) {
	req := &SubmitJobRequest{
		Kind:    JobKindExport,
		Owner:   "user-1",
		Payload: json.RawMessage(`{"entity":`),
	}
	err := DecodePayload(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode export payload")

	req = &SubmitJobRequest{
		Kind:    JobKindExport,
		Owner:   "user-1",
		Payload: json.RawMessage(`{"filter":"x"}`),
	}
	err = DecodePayload(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity is required")
}

func TestDecodePayload_InvalidPreviewURL(t *testing.T) {
	req := &SubmitJobRequest{
		Kind:    JobKindPreview,
		Owner:   "user-1",
		Payload: json.RawMessage(`{"url":"ftp://example.com"}`),
	}
	err := DecodePayload(req)
	require.Error(t, err)
	assert.Nil(t, req.Fingerprint)
}
