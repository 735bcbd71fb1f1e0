package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/Streamweaver/helix-jobs/internal/domain/model"
)

// RequestBuilder assembles SubmitJobRequest values for tests with a
// fluent interface. The zero builder produces an export request for
// owner "test-owner".
type RequestBuilder struct {
	req model.SubmitJobRequest
}

// NewRequest returns a builder with sensible defaults.
func NewRequest() *RequestBuilder {
	return &RequestBuilder{req: model.SubmitJobRequest{
		Kind:    model.JobKindExport,
		Owner:   "test-owner",
		Payload: json.RawMessage(`{"entity":"figures"}`),
	}}
}

// WithKind sets the job kind.
func (b *RequestBuilder) WithKind(kind model.JobKind) *RequestBuilder {
	b.req.Kind = kind
	return b
}

// WithOwner sets the submitting owner.
func (b *RequestBuilder) WithOwner(owner string) *RequestBuilder {
	b.req.Owner = owner
	return b
}

// WithPayload sets the raw payload from a JSON string.
func (b *RequestBuilder) WithPayload(payload string) *RequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithFingerprint sets the dedupe fingerprint directly, bypassing
// payload derivation.
func (b *RequestBuilder) WithFingerprint(fp string) *RequestBuilder {
	b.req.Fingerprint = &fp
	return b
}

// WithParentID sets the parent entity id directly.
func (b *RequestBuilder) WithParentID(id string) *RequestBuilder {
	b.req.ParentID = &id
	return b
}

// Build returns a copy of the assembled request.
func (b *RequestBuilder) Build() *model.SubmitJobRequest {
	req := b.req
	return &req
}

// BuildDecoded returns the assembled request with kind-derived fields
// (fingerprint, parent id) populated, as the submission path would.
func (b *RequestBuilder) BuildDecoded() *model.SubmitJobRequest {
	req := b.Build()
	if err := model.DecodePayload(req); err != nil {
		panic(fmt.Sprintf("decode payload: %v", err))
	}
	return req
}

// ExportRequest returns a valid export submission for owner.
func ExportRequest(owner, entity string) *model.SubmitJobRequest {
	return NewRequest().
		WithKind(model.JobKindExport).
		WithOwner(owner).
		WithPayload(fmt.Sprintf(`{"entity":%q}`, entity)).
		Build()
}

// PreviewRequest returns a valid preview submission for url.
func PreviewRequest(owner, url string) *model.SubmitJobRequest {
	return NewRequest().
		WithKind(model.JobKindPreview).
		WithOwner(owner).
		WithPayload(fmt.Sprintf(`{"url":%q}`, url)).
		BuildDecoded()
}

// ReportRequest returns a valid report generation submission.
func ReportRequest(owner, reportID string) *model.SubmitJobRequest {
	return NewRequest().
		WithKind(model.JobKindReport).
		WithOwner(owner).
		WithPayload(fmt.Sprintf(`{"report_id":%q}`, reportID)).
		BuildDecoded()
}

// BulkRequest returns a bulk update submission over the given item ids,
// all parented to parentID.
func BulkRequest(owner, parentID string, itemIDs ...string) *model.SubmitJobRequest {
	items := make([]model.BulkItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		items = append(items, model.BulkItem{
			ID:       id,
			ParentID: parentID,
			Patch:    json.RawMessage(`{"verified":true}`),
		})
	}
	payload, err := json.Marshal(model.BulkPayload{
		Operation: model.BulkOperationUpdate,
		Items:     items,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal bulk payload: %v", err))
	}
	return NewRequest().
		WithKind(model.JobKindBulk).
		WithOwner(owner).
		WithPayload(string(payload)).
		Build()
}
