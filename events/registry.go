package events

import (
	"log/slog"
	"strings"
	"sync"
)

// Unknown is the extractor's value when no strategy produced a username.
const Unknown = "Unknown"

// StrategyFunc inspects a decoded webhook payload and returns a candidate
// username. Returning ("", false) means the strategy did not match. Strategies
// must tolerate arbitrary payload shapes; a panicking strategy is treated as
// a non-match, never propagated.
type StrategyFunc func(payload any) (string, bool)

type namedStrategy struct {
	name string
	fn   StrategyFunc
}

// ExtractionResult describes one extraction attempt over a payload.
// Value is Unknown exactly when Success is false.
type ExtractionResult struct {
	Value         string
	Success       bool
	StrategyUsed  string
	EventType     string
	SourcePayload any
}

// Registry holds ordered, named extraction strategies keyed by event type.
// Registration order is priority order: the earliest strategy that yields a
// non-blank string wins. New payload shapes are absorbed by registering an
// additional strategy, without touching existing ones.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string][]namedStrategy
	monitor    *Monitor
}

// NewRegistry returns a registry pre-loaded with the known payload shapes for
// follow, subscription, and gift events. The monitor may be nil.
func NewRegistry(monitor *Monitor) *Registry {
	r := &Registry{strategies: make(map[string][]namedStrategy), monitor: monitor}

	r.Register(EventTypeFollow, "follower.username", FieldPath("follower", "username"))
	r.Register(EventTypeFollow, "user.username", FieldPath("user", "username"))
	r.Register(EventTypeFollow, "username", FieldPath("username"))

	r.Register(EventTypeSubscription, "subscriber.username", FieldPath("subscriber", "username"))
	r.Register(EventTypeSubscription, "user.username", FieldPath("user", "username"))
	r.Register(EventTypeSubscription, "username", FieldPath("username"))

	r.Register(EventTypeGift, "gifter.username", FieldPath("gifter", "username"))
	r.Register(EventTypeGift, "data.gifter.username", FieldPath("data", "gifter", "username"))
	r.Register(EventTypeGift, "username", FieldPath("username"))

	return r
}

// Register appends a strategy for eventType. Later registrations are tried
// after earlier ones.
func (r *Registry) Register(eventType, name string, fn StrategyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[eventType] = append(r.strategies[eventType], namedStrategy{name: name, fn: fn})
}

// Extract runs the strategies for eventType against payload in priority order
// and returns the first usable match. Blank or whitespace-only candidates are
// treated as non-matches; interior/surrounding whitespace in an otherwise
// non-empty string is preserved.
func (r *Registry) Extract(payload any, eventType string) ExtractionResult {
	r.mu.RLock()
	chain := r.strategies[eventType]
	r.mu.RUnlock()

	for _, s := range chain {
		if v, ok := tryStrategy(s, payload); ok {
			if r.monitor != nil {
				r.monitor.RecordParsingSuccess(eventType, s.name)
			}
			return ExtractionResult{
				Value:         v,
				Success:       true,
				StrategyUsed:  s.name,
				EventType:     eventType,
				SourcePayload: payload,
			}
		}
	}
	if r.monitor != nil {
		r.monitor.RecordParsingFailure(eventType, "no strategy matched")
	}
	return ExtractionResult{Value: Unknown, EventType: eventType, SourcePayload: payload}
}

// tryStrategy applies one strategy with panic containment.
func tryStrategy(s namedStrategy, payload any) (v string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Debug("extraction strategy panicked", slog.String("strategy", s.name), slog.Any("panic", rec))
			v, ok = "", false
		}
	}()
	v, ok = s.fn(payload)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// FieldPath returns a strategy that walks nested JSON objects by key and
// matches when the leaf is a non-blank string.
func FieldPath(keys ...string) StrategyFunc {
	return func(payload any) (string, bool) {
		cur := payload
		for _, k := range keys {
			m, ok := cur.(map[string]any)
			if !ok {
				return "", false
			}
			cur = m[k]
		}
		s, ok := cur.(string)
		if !ok {
			return "", false
		}
		return s, true
	}
}
