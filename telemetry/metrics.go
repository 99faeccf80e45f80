// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	WebhooksReceived    *prometheus.CounterVec
	ParsingSucceeded    *prometheus.CounterVec
	ParsingFailed       *prometheus.CounterVec
	EmptyPayloads       prometheus.Counter
	CorrelationMatched  prometheus.Counter
	CorrelationTimedOut prometheus.Counter
	PointsAwarded       prometheus.Counter
	AnonymousGifts      prometheus.Counter
	ChatMessagesSeen    prometheus.Counter
	CommandsHandled     *prometheus.CounterVec

	// Histograms (seconds)
	CorrelationLatency prometheus.Observer

	// Gauges
	PendingEventsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kickbot_webhooks_received_total", Help: "Webhook events received by type"}, []string{"event_type"})
		ParsingSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kickbot_parsing_success_total", Help: "Payload extractions that matched a strategy"}, []string{"event_type"})
		ParsingFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kickbot_parsing_failure_total", Help: "Payload extractions where no strategy matched"}, []string{"event_type"})
		EmptyPayloads = promauto.NewCounter(prometheus.CounterOpts{Name: "kickbot_empty_payloads_total", Help: "Gift webhooks that arrived with an empty payload"})
		CorrelationMatched = promauto.NewCounter(prometheus.CounterOpts{Name: "kickbot_correlation_success_total", Help: "Pending gift events resolved by a chat confirmation"})
		CorrelationTimedOut = promauto.NewCounter(prometheus.CounterOpts{Name: "kickbot_correlation_timeout_total", Help: "Pending gift events that hit the correlation deadline"})
		PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "kickbot_points_awarded_total", Help: "Points credited for gifted subscriptions"})
		AnonymousGifts = promauto.NewCounter(prometheus.CounterOpts{Name: "kickbot_anonymous_gifts_total", Help: "Gifts attributed to an anonymous gifter"})
		ChatMessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "kickbot_chat_messages_total", Help: "Chat messages fed through the dispatcher"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kickbot_commands_handled_total", Help: "Slash commands executed"}, []string{"command"})
		CorrelationLatency = promauto.NewHistogram(prometheus.HistogramOpts{Name: "kickbot_correlation_latency_seconds", Help: "Time from webhook registration to chat confirmation", Buckets: prometheus.DefBuckets})
		PendingEventsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "kickbot_pending_events", Help: "Gift webhooks currently awaiting chat correlation"})
	})
}

// SetPendingEvents records the current correlation table depth.
func SetPendingEvents(n int) {
	if PendingEventsGauge != nil {
		PendingEventsGauge.Set(float64(n))
	}
}

// ObserveCorrelationLatency records one resolution latency if metrics are up.
func ObserveCorrelationLatency(d time.Duration) {
	if CorrelationLatency != nil {
		CorrelationLatency.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
