package events

import (
	"sync"
	"time"

	"github.com/onnwee/kickbot/telemetry"
)

// Counter names tracked by the Monitor. The same names key the diagnostic
// snapshot and the alert rate rules.
const (
	MetricWebhookReceived    = "webhook_received"
	MetricParsingSuccess     = "parsing_success"
	MetricParsingFailure     = "parsing_failure"
	MetricEmptyPayloads      = "empty_payloads"
	MetricCorrelationSuccess = "correlation_success"
	MetricCorrelationTimeout = "correlation_timeout"
	MetricPointsAwarded      = "points_awarded"
	MetricAnonymousGifts     = "anonymous_gifts"
)

// latencyWindow bounds the rolling list used for the average.
const latencyWindow = 100

// recentErrorWindow bounds the retained failure reasons for diagnostics.
const recentErrorWindow = 50

// Alert is one triggered threshold rule.
type Alert struct {
	Metric    string  `json:"metric"`
	Rate      float64 `json:"rate"`
	Threshold float64 `json:"threshold"`
}

type errorRecord struct {
	At        time.Time `json:"at"`
	EventType string    `json:"event_type"`
	Reason    string    `json:"reason"`
}

// MetricsSnapshot is a read-consistent copy of the counters plus derived
// rates, taken under one lock acquisition.
type MetricsSnapshot struct {
	Counters               map[string]int64 `json:"counters"`
	ByEventType            map[string]int64 `json:"by_event_type"`
	ByStrategy             map[string]int64 `json:"by_strategy"`
	ParsingFailureRate     float64          `json:"parsing_failure_rate"`
	CorrelationTimeoutRate float64          `json:"correlation_timeout_rate"`
	AvgCorrelationLatency  time.Duration    `json:"avg_correlation_latency"`
	UptimeSeconds          float64          `json:"uptime_seconds"`
}

// Monitor counts parse and correlation outcomes, tracks per-event-type and
// per-strategy breakdowns and a rolling correlation latency average, and
// evaluates threshold alert rules. All methods are safe for concurrent use.
// Counters are additionally mirrored into Prometheus when telemetry.Init has
// run; the Monitor itself is the source of truth for /diagnostics/webhooks.
type Monitor struct {
	mu          sync.Mutex
	counters    map[string]int64
	byEventType map[string]int64
	byStrategy  map[string]int64
	latencies   []time.Duration
	recentErrs  []errorRecord
	thresholds  map[string]float64
	startedAt   time.Time
}

// NewMonitor returns an empty monitor with no alert rules configured.
func NewMonitor() *Monitor {
	return &Monitor{
		counters:    make(map[string]int64),
		byEventType: make(map[string]int64),
		byStrategy:  make(map[string]int64),
		thresholds:  make(map[string]float64),
		startedAt:   time.Now(),
	}
}

// RecordWebhookReceived counts one inbound webhook of the given type.
func (m *Monitor) RecordWebhookReceived(eventType string) {
	m.mu.Lock()
	m.counters[MetricWebhookReceived]++
	m.byEventType[eventType]++
	m.mu.Unlock()
	if telemetry.WebhooksReceived != nil {
		telemetry.WebhooksReceived.WithLabelValues(eventType).Inc()
	}
}

// RecordParsingSuccess counts a payload extraction won by the named strategy.
func (m *Monitor) RecordParsingSuccess(eventType, strategy string) {
	m.mu.Lock()
	m.counters[MetricParsingSuccess]++
	m.byStrategy[strategy]++
	m.mu.Unlock()
	if telemetry.ParsingSucceeded != nil {
		telemetry.ParsingSucceeded.WithLabelValues(eventType).Inc()
	}
}

// RecordParsingFailure counts an extraction where no strategy matched,
// keeping the reason for diagnostics.
func (m *Monitor) RecordParsingFailure(eventType, reason string) {
	m.mu.Lock()
	m.counters[MetricParsingFailure]++
	m.recentErrs = append(m.recentErrs, errorRecord{At: time.Now(), EventType: eventType, Reason: reason})
	if len(m.recentErrs) > recentErrorWindow {
		m.recentErrs = m.recentErrs[len(m.recentErrs)-recentErrorWindow:]
	}
	m.mu.Unlock()
	if telemetry.ParsingFailed != nil {
		telemetry.ParsingFailed.WithLabelValues(eventType).Inc()
	}
}

// RecordEmptyPayload counts a gift webhook that arrived with no payload body.
func (m *Monitor) RecordEmptyPayload() {
	m.mu.Lock()
	m.counters[MetricEmptyPayloads]++
	m.mu.Unlock()
	if telemetry.EmptyPayloads != nil {
		telemetry.EmptyPayloads.Inc()
	}
}

// RecordCorrelationSuccess counts a chat-confirmed gift and its latency.
func (m *Monitor) RecordCorrelationSuccess(latency time.Duration) {
	m.mu.Lock()
	m.counters[MetricCorrelationSuccess]++
	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > latencyWindow {
		m.latencies = m.latencies[len(m.latencies)-latencyWindow:]
	}
	m.mu.Unlock()
	if telemetry.CorrelationMatched != nil {
		telemetry.CorrelationMatched.Inc()
	}
	telemetry.ObserveCorrelationLatency(latency)
}

// RecordCorrelationTimeout counts a pending gift that hit its deadline.
func (m *Monitor) RecordCorrelationTimeout() {
	m.mu.Lock()
	m.counters[MetricCorrelationTimeout]++
	m.mu.Unlock()
	if telemetry.CorrelationTimedOut != nil {
		telemetry.CorrelationTimedOut.Inc()
	}
}

// RecordPointsAwarded counts points credited for a gift.
func (m *Monitor) RecordPointsAwarded(points int) {
	m.mu.Lock()
	m.counters[MetricPointsAwarded] += int64(points)
	m.mu.Unlock()
	if telemetry.PointsAwarded != nil {
		telemetry.PointsAwarded.Add(float64(points))
	}
}

// RecordAnonymousGift counts a gift attributed to an anonymous gifter.
func (m *Monitor) RecordAnonymousGift() {
	m.mu.Lock()
	m.counters[MetricAnonymousGifts]++
	m.mu.Unlock()
	if telemetry.AnonymousGifts != nil {
		telemetry.AnonymousGifts.Inc()
	}
}

// SetAlertThreshold registers a rate rule checked by CheckAlertConditions.
// Known rule names: "parsing_failure_rate", "correlation_timeout_rate".
// fraction is in [0,1].
func (m *Monitor) SetAlertThreshold(rateName string, fraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[rateName] = fraction
}

// CheckAlertConditions evaluates the configured rules against current rates
// and returns the triggered alerts. A breach never halts processing; callers
// forward alerts to whatever channel is wired up.
func (m *Monitor) CheckAlertConditions() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var alerts []Alert
	for name, threshold := range m.thresholds {
		rate, ok := m.rateLocked(name)
		if ok && rate > threshold {
			alerts = append(alerts, Alert{Metric: name, Rate: rate, Threshold: threshold})
		}
	}
	return alerts
}

// rateLocked computes a named rate; callers must hold the mutex.
func (m *Monitor) rateLocked(name string) (float64, bool) {
	switch name {
	case "parsing_failure_rate":
		total := m.counters[MetricWebhookReceived]
		if total == 0 {
			return 0, false
		}
		return float64(m.counters[MetricParsingFailure]) / float64(total), true
	case "correlation_timeout_rate":
		total := m.counters[MetricCorrelationSuccess] + m.counters[MetricCorrelationTimeout]
		if total == 0 {
			return 0, false
		}
		return float64(m.counters[MetricCorrelationTimeout]) / float64(total), true
	}
	return 0, false
}

// Snapshot returns a consistent copy of all counters and derived rates.
func (m *Monitor) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Counters:      make(map[string]int64, len(m.counters)),
		ByEventType:   make(map[string]int64, len(m.byEventType)),
		ByStrategy:    make(map[string]int64, len(m.byStrategy)),
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.byEventType {
		snap.ByEventType[k] = v
	}
	for k, v := range m.byStrategy {
		snap.ByStrategy[k] = v
	}
	snap.ParsingFailureRate, _ = m.rateLocked("parsing_failure_rate")
	snap.CorrelationTimeoutRate, _ = m.rateLocked("correlation_timeout_rate")
	snap.AvgCorrelationLatency = avgDuration(m.latencies)
	return snap
}

// DiagnosticData returns the structured snapshot served by the diagnostics
// endpoint: metrics summary, recent activity, performance, error analysis,
// and an overall health verdict.
func (m *Monitor) DiagnosticData() map[string]any {
	snap := m.Snapshot()
	alerts := m.CheckAlertConditions()

	m.mu.Lock()
	recent := make([]errorRecord, len(m.recentErrs))
	copy(recent, m.recentErrs)
	latencySamples := len(m.latencies)
	m.mu.Unlock()

	health := "ok"
	if len(alerts) > 0 {
		health = "degraded"
	}

	return map[string]any{
		"metrics_summary": snap.Counters,
		"recent_activity": map[string]any{
			"by_event_type": snap.ByEventType,
			"by_strategy":   snap.ByStrategy,
		},
		"performance_stats": map[string]any{
			"avg_correlation_latency_seconds": snap.AvgCorrelationLatency.Seconds(),
			"latency_samples":                 latencySamples,
			"uptime_seconds":                  snap.UptimeSeconds,
		},
		"error_analysis": map[string]any{
			"parsing_failure_rate":     snap.ParsingFailureRate,
			"correlation_timeout_rate": snap.CorrelationTimeoutRate,
			"recent_errors":            recent,
		},
		"system_health": map[string]any{
			"status": health,
			"alerts": alerts,
		},
	}
}

func avgDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}
