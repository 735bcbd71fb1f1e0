package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKind_Valid(t *testing.T) {
	assert.True(t, JobKindExport.Valid())
	assert.True(t, JobKindPreview.Valid())
	assert.True(t, JobKindReport.Valid())
	assert.True(t, JobKindBulk.Valid())
	assert.False(t, JobKind("unknown").Valid())
	assert.False(t, JobKind("").Valid())
}

func TestJobKind_UnmarshalText(t *testing.T) {
	var k JobKind
	require.NoError(t, k.UnmarshalText([]byte(" Report_Generation ")))
	assert.Equal(t, JobKindReport, k)

	err := k.UnmarshalText([]byte("reports"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JobKind")
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, JobStatePending.Terminal())
	assert.False(t, JobStateInProgress.Terminal())
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
	assert.True(t, JobStateKilled.Terminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
		want bool
	}{
		{"pending to in_progress", JobStatePending, JobStateInProgress, true},
		{"pending to killed", JobStatePending, JobStateKilled, true},
		{"pending to completed skips execution", JobStatePending, JobStateCompleted, false},
		{"pending to failed skips execution", JobStatePending, JobStateFailed, false},
		{"in_progress to completed", JobStateInProgress, JobStateCompleted, true},
		{"in_progress to failed", JobStateInProgress, JobStateFailed, true},
		{"in_progress to killed", JobStateInProgress, JobStateKilled, true},
		{"in_progress back to pending", JobStateInProgress, JobStatePending, false},
		{"completed is terminal", JobStateCompleted, JobStateKilled, false},
		{"failed is terminal", JobStateFailed, JobStateInProgress, false},
		{"killed is terminal", JobStateKilled, JobStateCompleted, false},
		{"killed stays killed", JobStateKilled, JobStateKilled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_TerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	states := []JobState{
		JobStatePending, JobStateInProgress, JobStateCompleted, JobStateFailed, JobStateKilled,
	}
	for _, from := range states {
		if !from.Terminal() {
			continue
		}
		for _, to := range states {
			assert.False(t, CanTransition(from, to), "terminal %s must not reach %s", from, to)
		}
	}
}

func TestSubmitJobRequest_Validate(t *testing.T) {
	payload := json.RawMessage(`{"entity":"figure"}`)

	tests := []struct {
		name    string
		req     SubmitJobRequest
		wantErr string
	}{
		{
			name: "valid export",
			req:  SubmitJobRequest{Kind: JobKindExport, Owner: "user-1", Payload: payload},
		},
		{
			name:    "invalid kind",
			req:     SubmitJobRequest{Kind: JobKind("nope"), Owner: "user-1", Payload: payload},
			wantErr: "invalid job kind",
		},
		{
			name:    "missing owner",
			req:     SubmitJobRequest{Kind: JobKindExport, Owner: "  ", Payload: payload},
			wantErr: "owner is required",
		},
		{
			name:    "missing payload",
			req:     SubmitJobRequest{Kind: JobKindExport, Owner: "user-1"},
			wantErr: "payload is required",
		},
		{
			name:    "preview without fingerprint",
			req:     SubmitJobRequest{Kind: JobKindPreview, Owner: "user-1", Payload: payload},
			wantErr: "preview jobs require a fingerprint",
		},
		{
			name:    "report without parent id",
			req:     SubmitJobRequest{Kind: JobKindReport, Owner: "user-1", Payload: payload},
			wantErr: "report generation jobs require a parent id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAllJobKinds_StableAndValid(t *testing.T) {
	kinds := AllJobKinds()
	require.Len(t, kinds, 4)
	for _, k := range kinds {
		assert.True(t, k.Valid())
	}
}
