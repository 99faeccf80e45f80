package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/kickbot/events"
)

func TestDiagnosticsShape(t *testing.T) {
	h, mon, _ := newTestHandlers(t)
	mon.RecordWebhookReceived(events.EventTypeGift)
	mon.RecordParsingFailure(events.EventTypeGift, "no gifter in payload")
	mon.RecordCorrelationSuccess(1500 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/diagnostics/webhooks", nil)
	rr := httptest.NewRecorder()
	h.HandleDiagnostics(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"system_status", "metrics", "recent_errors", "performance", "pending_correlations"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}

	status, _ := resp["system_status"].(map[string]any)
	if status["status"] != "ok" {
		t.Fatalf("system status = %v, want ok", status["status"])
	}

	metrics, _ := resp["metrics"].(map[string]any)
	summary, _ := metrics["summary"].(map[string]any)
	if summary[events.MetricWebhookReceived].(float64) != 1 {
		t.Fatalf("summary webhook_received = %v, want 1", summary[events.MetricWebhookReceived])
	}

	errs, _ := resp["recent_errors"].(map[string]any)
	recent, _ := errs["recent_errors"].([]any)
	if len(recent) != 1 {
		t.Fatalf("recent errors = %d, want 1", len(recent))
	}
}

func TestDiagnosticsDegradedWhenAlertFires(t *testing.T) {
	h, mon, _ := newTestHandlers(t)
	mon.SetAlertThreshold("parsing_failure_rate", 0.1)
	for i := 0; i < 10; i++ {
		mon.RecordWebhookReceived(events.EventTypeGift)
	}
	for i := 0; i < 5; i++ {
		mon.RecordParsingFailure(events.EventTypeGift, "no gifter in payload")
	}

	req := httptest.NewRequest(http.MethodGet, "/diagnostics/webhooks", nil)
	rr := httptest.NewRecorder()
	h.HandleDiagnostics(rr, req)

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status, _ := resp["system_status"].(map[string]any)
	if status["status"] != "degraded" {
		t.Fatalf("system status = %v, want degraded", status["status"])
	}
}

func TestDiagnosticsRejectsNonGet(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/diagnostics/webhooks", nil)
	rr := httptest.NewRecorder()
	h.HandleDiagnostics(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
