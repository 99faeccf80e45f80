package events

import (
	"strings"
)

const (
	// AnonymousGifter is returned when the payload says the gift was
	// anonymous, or names a gifter without any usable username. Distinct
	// from parse failure.
	AnonymousGifter = "Anonymous"

	// PendingChatCorrelation signals that no payload strategy found usable
	// structure (typically an empty object) and the caller should register
	// the event with the Correlator instead. This is the dominant
	// real-world case for Kick gift webhooks.
	PendingChatCorrelation = "PENDING_CHAT_CORRELATION"
)

// GifterParser resolves the gifter identity of a gifted-subscription webhook.
// It tries, in order: the flat payload shape, the data-envelope shape, the
// anonymous markers, then (when configured) transport headers. When nothing
// matches it degrades to the pending sentinel rather than failing; the parser
// never panics on malformed input.
type GifterParser struct {
	monitor *Monitor

	// HeaderKeys are transport header names checked, in order, for a
	// carried gifter identity before giving up. Empty by default.
	HeaderKeys []string
}

// NewGifterParser returns a parser reporting to monitor (which may be nil).
func NewGifterParser(monitor *Monitor) *GifterParser {
	return &GifterParser{monitor: monitor}
}

// ParseGifter returns the gifter username (or the Anonymous / pending
// sentinel) and, when the payload carries one, the gifter's numeric user id.
func (p *GifterParser) ParseGifter(payload any, headers map[string]string) (gifter string, userID *int) {
	defer func() {
		if rec := recover(); rec != nil {
			if p.monitor != nil {
				p.monitor.RecordParsingFailure(EventTypeGift, "parser panic")
			}
			gifter, userID = PendingChatCorrelation, nil
		}
	}()

	root := asObject(payload)

	// 1. Flat: gifter.username at top level.
	if g := asObject(root["gifter"]); g != nil {
		if name, ok := nonBlankString(g["username"]); ok {
			p.recordSuccess("gifter.username")
			return name, intField(g, "user_id")
		}
	}

	// 2. Nested: some deliveries wrap the event under a data envelope.
	if d := asObject(root["data"]); d != nil {
		if g := asObject(d["gifter"]); g != nil {
			if name, ok := nonBlankString(g["username"]); ok {
				p.recordSuccess("data.gifter.username")
				return name, intField(g, "user_id")
			}
		}
	}

	// 3. Anonymous: an explicit marker, or a gifter object with no usable
	// username. Not a failure.
	if g := asObject(root["gifter"]); g != nil {
		if b, ok := g["is_anonymous"].(bool); ok && b {
			p.recordSuccess("anonymous")
			return AnonymousGifter, nil
		}
		p.recordSuccess("anonymous")
		return AnonymousGifter, nil
	}

	// 4. Header fallback, when configured.
	for _, key := range p.HeaderKeys {
		if v, ok := headerLookup(headers, key); ok {
			p.recordSuccess("header:" + key)
			return v, nil
		}
	}

	// 5. Nothing usable: defer to chat correlation.
	if p.monitor != nil {
		if len(root) == 0 {
			p.monitor.RecordEmptyPayload()
		}
		p.monitor.RecordParsingFailure(EventTypeGift, "no gifter in payload")
	}
	return PendingChatCorrelation, nil
}

// ExtractQuantity counts the gift recipients in the payload, defaulting to 1
// when no recipient list is present.
func ExtractQuantity(payload any) int {
	root := asObject(payload)
	for _, key := range []string{"giftees", "recipients"} {
		if arr, ok := root[key].([]any); ok && len(arr) > 0 {
			return len(arr)
		}
	}
	if d := asObject(root["data"]); d != nil {
		if arr, ok := d["giftees"].([]any); ok && len(arr) > 0 {
			return len(arr)
		}
	}
	return 1
}

func (p *GifterParser) recordSuccess(strategy string) {
	if p.monitor != nil {
		p.monitor.RecordParsingSuccess(EventTypeGift, strategy)
	}
}

// asObject returns payload as a JSON object, or nil for any other shape.
func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func nonBlankString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// intField reads a numeric field that may arrive as float64 (JSON), int, or
// a numeric string. Returns nil when absent or unusable.
func intField(m map[string]any, key string) *int {
	switch n := m[key].(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		i := n
		return &i
	}
	return nil
}

func headerLookup(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			if s, ok := nonBlankString(v); ok {
				return s, true
			}
		}
	}
	return "", false
}
