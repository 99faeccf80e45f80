package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	dbpkg "github.com/onnwee/kickbot/db"
)

// HandleHealthz responds to liveness probe requests by checking database
// connectivity. Without a database the process itself being up is enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"credentials", func() error {
			if h.db == nil {
				return nil
			}
			var count int
			err := h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider = 'kick'").Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("missing Kick OAuth token")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports a coarse operational summary: uptime, the correlation
// queue depth, counters, and any firing alerts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.pipe.Monitor.Snapshot()
	resp := map[string]any{
		"uptime_seconds":       time.Since(h.startedAt).Seconds(),
		"pending_correlations": h.pipe.Correlator.PendingCount(),
		"counters":             snap.Counters,
		"alerts":               h.pipe.Monitor.CheckAlertConditions(),
		"correlation": map[string]any{
			"window":         h.cfg.CorrelationWindow.String(),
			"sweep_interval": h.cfg.SweepInterval.String(),
		},
		"points_per_sub": h.cfg.PointsPerSub,
	}
	if h.db != nil {
		if v, err := dbpkg.GetKV(r.Context(), h.db, "webhook_subscribed_at"); err == nil && v != "" {
			resp["webhook_subscribed_at"] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
