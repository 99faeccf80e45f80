package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleDiagnostics serves the webhook pipeline snapshot used for debugging
// parsing and correlation behavior in production.
func (h *Handlers) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d := h.pipe.Monitor.DiagnosticData()
	resp := map[string]any{
		"system_status": d["system_health"],
		"metrics": map[string]any{
			"summary":         d["metrics_summary"],
			"recent_activity": d["recent_activity"],
		},
		"recent_errors": d["error_analysis"],
		"performance":   d["performance_stats"],
	}
	resp["pending_correlations"] = h.pipe.Correlator.PendingCount()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
