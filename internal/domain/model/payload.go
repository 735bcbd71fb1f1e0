package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExportPayload describes an Excel extract: which entity to export and an
// optional JMESPath filter expression evaluated against each record.
type ExportPayload struct {
	Entity string `json:"entity"`
	Filter string `json:"filter,omitempty"`
}

// Validate checks the export payload fields.
func (p *ExportPayload) Validate() error {
	if strings.TrimSpace(p.Entity) == "" {
		return errors.New("entity is required")
	}
	return nil
}

// PreviewPayload describes a PDF snapshot request for a source URL.
type PreviewPayload struct {
	URL string `json:"url"`
}

// Validate checks the preview URL is absolute http(s).
func (p *PreviewPayload) Validate() error {
	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil {
		return fmt.Errorf("parse preview url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("preview url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("preview url must be absolute")
	}
	return nil
}

// Fingerprint derives the single-flight dedupe key for a preview submission.
// Two submissions collide only when both the owner and the normalized URL match.
func (p *PreviewPayload) Fingerprint(owner string) string {
	sum := sha256.Sum256([]byte(owner + "|" + normalizePreviewURL(p.URL)))
	return hex.EncodeToString(sum[:])
}

// RegistrableDomain returns the eTLD+1 of the preview URL for logging and
// metric tags. Returns the raw host when the public suffix list has no answer.
func (p *PreviewPayload) RegistrableDomain() string {
	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// normalizePreviewURL lowercases scheme/host and strips fragments so that
// trivially different spellings of the same target coalesce.
func normalizePreviewURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// ReportPayload describes a report-generation request for one parent report.
type ReportPayload struct {
	ReportID string `json:"report_id"`
}

// Validate checks the report payload fields.
func (p *ReportPayload) Validate() error {
	if strings.TrimSpace(p.ReportID) == "" {
		return errors.New("report_id is required")
	}
	return nil
}

// BulkItem is one figure-level mutation inside a bulk operation. ParentID is
// the event the figure belongs to; it drives fan-in reconciliation.
type BulkItem struct {
	ID       string          `json:"id"`
	ParentID string          `json:"parent_id"`
	Patch    json.RawMessage `json:"patch,omitempty"`
}

// Bulk operation verbs.
const (
	BulkOperationUpdate = "update"
	BulkOperationDelete = "delete"
)

// BulkPayload describes an itemized bulk mutation over figure records.
type BulkPayload struct {
	Operation string     `json:"operation"`
	Items     []BulkItem `json:"items"`
}

// Validate checks the bulk payload fields. An empty item list is valid:
// absence of work is not an error.
func (p *BulkPayload) Validate() error {
	if p.Operation != BulkOperationUpdate && p.Operation != BulkOperationDelete {
		return fmt.Errorf("invalid bulk operation: %q", p.Operation)
	}
	for i := range p.Items {
		if strings.TrimSpace(p.Items[i].ID) == "" {
			return fmt.Errorf("bulk item %d: id is required", i)
		}
	}
	return nil
}

// DecodePayload unmarshals and validates the kind-specific payload carried by
// a submit request, returning the derived fingerprint and parent id when the
// kind defines them.
func DecodePayload(req *SubmitJobRequest) error {
	switch req.Kind {
	case JobKindExport:
		var p ExportPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode export payload: %w", err)
		}
		return p.Validate()
	case JobKindPreview:
		var p PreviewPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode preview payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		fp := p.Fingerprint(req.Owner)
		req.Fingerprint = &fp
		return nil
	case JobKindReport:
		var p ReportPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode report payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		req.ParentID = &p.ReportID
		return nil
	case JobKindBulk:
		var p BulkPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode bulk payload: %w", err)
		}
		return p.Validate()
	default:
		return fmt.Errorf("invalid job kind: %q", req.Kind)
	}
}
