package pagerduty

import (
	"strings"
	"testing"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{
		RoutingKey: "key",
		Source:     "",
		Component:  "",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := notify.JobFailurePayload{
		JobID:      "123",
		Kind:       "export",
		Owner:      "analyst-1",
		Error:      "boom",
		ErrorClass: "err_class",
	}
	event := client.buildEvent(payload)

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %v", payloadSection["severity"])
	}
	if payloadSection["source"] != "helix-jobs" {
		t.Fatalf("expected default source, got %v", payloadSection["source"])
	}
	if payloadSection["component"] != "helix-jobs" {
		t.Fatalf("expected default component, got %v", payloadSection["component"])
	}

	custom, ok := payloadSection["custom_details"].(map[string]any)
	if !ok {
		t.Fatalf("expected custom details")
	}

	required := []string{"job_id", "kind", "owner", "error", "error_class"}
	for _, key := range required {
		if _, exists := custom[key]; !exists {
			t.Fatalf("expected key %s in custom details", key)
		}
	}

	dedup, _ := event["dedup_key"].(string)
	if !strings.Contains(dedup, "123") {
		t.Fatalf("expected dedup key to reference job id, got %s", dedup)
	}
	if !strings.Contains(dedup, "export") {
		t.Fatalf("expected dedup key to reference kind, got %s", dedup)
	}
}

func TestBuildEventMetadataDoesNotOverrideCore(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.JobFailurePayload{
		JobID: "123",
		Kind:  "export",
		Error: "real error",
		Metadata: map[string]string{
			"error":   "spoofed",
			"attempt": "3",
		},
	})

	payloadSection := event["payload"].(map[string]any)
	custom := payloadSection["custom_details"].(map[string]any)
	if custom["error"] != "real error" {
		t.Fatalf("expected core field to win, got %v", custom["error"])
	}
	if custom["attempt"] != "3" {
		t.Fatalf("expected metadata passthrough, got %v", custom["attempt"])
	}
}

func TestBuildEventSummary(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.JobFailurePayload{})
	payloadSection := event["payload"].(map[string]any)
	summary, _ := payloadSection["summary"].(string)
	if !strings.Contains(summary, "unknown") {
		t.Fatalf("expected unknown placeholders in summary, got %s", summary)
	}
}
