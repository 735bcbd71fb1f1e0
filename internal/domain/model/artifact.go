package model

import (
	"encoding/json"
	"time"
)

// Artifact is the durable output of a job. File kinds (export, preview,
// report) carry bytes plus a content descriptor; the bulk kind carries an
// itemized outcome instead. An artifact is created exactly once, at the
// terminal transition, and is owned by its job row (cascade on delete).
type Artifact struct {
	ID          string       `json:"id"                     db:"id"`
	JobID       string       `json:"job_id"                 db:"job_id"`
	ContentType string       `json:"content_type,omitempty" db:"content_type"`
	Filename    string       `json:"filename,omitempty"     db:"filename"`
	SizeBytes   int64        `json:"size_bytes"             db:"size_bytes"`
	Data        []byte       `json:"-"                      db:"data"`
	Outcome     *BulkOutcome `json:"outcome,omitempty"      db:"outcome"`
	CreatedAt   time.Time    `json:"created_at"             db:"created_at"`
}

// BulkOutcome itemizes a bulk job's result. A job with both succeeded and
// failed entries is a partial success and still counts as COMPLETED; the
// failure list is the deliverable, not an error.
type BulkOutcome struct {
	Succeeded []ItemSuccess `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
}

// ItemSuccess records one item that was mutated, with any produced value.
type ItemSuccess struct {
	ItemID string          `json:"item_id"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// ItemFailure records one item that was rejected and why.
type ItemFailure struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}
