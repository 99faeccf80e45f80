package events

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/kickbot/telemetry"
)

// DefaultCorrelationWindow is how long a webhook event stays eligible for a
// chat match. Confirmations are observed around 6s after the webhook, so 10s
// leaves comfortable margin.
const DefaultCorrelationWindow = 10 * time.Second

// DefaultSweepInterval is how often the background sweep evicts events past
// their deadline.
const DefaultSweepInterval = time.Second

// DefaultThankYouSender is Kick's automated account that posts the gift
// confirmation message in chat.
const DefaultThankYouSender = "Kicklet"

// thankYouPattern matches the platform's fixed confirmation template, e.g.
// "Thank you, eddieoz, for the gifted 1 subscriptions."
var thankYouPattern = regexp.MustCompile(`^Thank you, (.+?), for the gifted (\d+) subscriptions?\.?$`)

type pendingEvent struct {
	id           string
	registeredAt time.Time
	deadline     time.Time
	result       chan CorrelationResult
	resolved     bool
}

// resolve delivers res exactly once. Whoever enters first (chat match or
// timeout sweep) wins; a second attempt is a no-op. Callers must hold the
// correlator mutex.
func (ev *pendingEvent) resolve(res CorrelationResult) bool {
	if ev.resolved {
		return false
	}
	ev.resolved = true
	ev.result <- res
	close(ev.result)
	return true
}

// Correlator matches gift webhooks that arrived without a gifter against the
// chat confirmation messages that trail them. Pending events are held in
// registration order; a matching chat message resolves the earliest event
// still inside its correlation window (webhooks and their confirmations are
// expected to arrive in the same relative order they were sent).
type Correlator struct {
	mu      sync.Mutex
	pending []*pendingEvent
	closed  bool

	window  time.Duration
	sweep   time.Duration
	sender  string
	monitor *Monitor
}

// NewCorrelator builds a correlator. window and sweep fall back to their
// defaults when non-positive; sender falls back to DefaultThankYouSender.
// The monitor may be nil. Call Start to run the timeout sweep.
func NewCorrelator(monitor *Monitor, window, sweep time.Duration, sender string) *Correlator {
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	if sender == "" {
		sender = DefaultThankYouSender
	}
	return &Correlator{window: window, sweep: sweep, sender: sender, monitor: monitor}
}

// Start runs the background timeout sweep until ctx is canceled, then
// resolves every outstanding handle as TIMEOUT so no caller is left blocked.
func (c *Correlator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-ticker.C:
				c.sweepExpired(time.Now())
			}
		}
	}()
}

// RegisterWebhookEvent stores a pending event and returns a handle that
// receives exactly one CorrelationResult, by chat match or by timeout. It
// never blocks.
func (c *Correlator) RegisterWebhookEvent(webhookData map[string]any) <-chan CorrelationResult {
	ev := &pendingEvent{
		id:           eventID(webhookData),
		registeredAt: time.Now(),
		result:       make(chan CorrelationResult, 1),
	}
	ev.deadline = ev.registeredAt.Add(c.window)

	c.mu.Lock()
	if c.closed {
		ev.resolve(CorrelationResult{Gifter: Unknown, Status: StatusTimeout})
		c.mu.Unlock()
		return ev.result
	}
	c.pending = append(c.pending, ev)
	telemetry.SetPendingEvents(len(c.pending))
	c.mu.Unlock()

	slog.Debug("gift webhook awaiting chat correlation", slog.String("event_id", ev.id), slog.String("component", "correlator"))
	return ev.result
}

// ProcessChatMessage feeds one incoming chat message to the correlator. Only
// messages from the automated thank-you account matching the confirmation
// template have any effect; everything else is discarded cheaply.
func (c *Correlator) ProcessChatMessage(msg ChatMessage) {
	if msg.Sender != c.sender || msg.Text == "" {
		return
	}
	gifter, quantity, ok := parseThankYou(msg.Text)
	if !ok {
		return
	}
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}

	res := CorrelationResult{Gifter: gifter, Quantity: quantity, Status: StatusCorrelated}
	if gifter == AnonymousGifter {
		res.Status = StatusAnonymous
	}

	c.mu.Lock()
	var matched *pendingEvent
	for _, ev := range c.pending {
		if at.After(ev.deadline) {
			// Past its window; the sweep will evict it. Evaluate
			// the message against the next pending event.
			continue
		}
		if ev.resolve(res) {
			matched = ev
			break
		}
	}
	c.compact()
	c.mu.Unlock()

	if matched == nil {
		slog.Debug("gift confirmation had no pending event", slog.String("gifter", gifter), slog.String("component", "correlator"))
		return
	}
	latency := at.Sub(matched.registeredAt)
	if c.monitor != nil {
		c.monitor.RecordCorrelationSuccess(latency)
		if res.Status == StatusAnonymous {
			c.monitor.RecordAnonymousGift()
		}
	}
	slog.Info("gift webhook correlated",
		slog.String("event_id", matched.id),
		slog.String("gifter", gifter),
		slog.Int("quantity", quantity),
		slog.Duration("latency", latency),
		slog.String("component", "correlator"))
}

// PendingCount returns the number of events currently awaiting correlation.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close resolves all outstanding handles as TIMEOUT and rejects further
// registrations. Safe to call more than once.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ev := range c.pending {
		if ev.resolve(CorrelationResult{Gifter: Unknown, Status: StatusTimeout}) && c.monitor != nil {
			c.monitor.RecordCorrelationTimeout()
		}
	}
	c.pending = nil
	telemetry.SetPendingEvents(0)
}

// sweepExpired times out every pending event whose deadline has passed.
func (c *Correlator) sweepExpired(now time.Time) {
	c.mu.Lock()
	var timedOut []string
	for _, ev := range c.pending {
		if now.After(ev.deadline) && ev.resolve(CorrelationResult{Gifter: Unknown, Status: StatusTimeout}) {
			timedOut = append(timedOut, ev.id)
			if c.monitor != nil {
				c.monitor.RecordCorrelationTimeout()
			}
		}
	}
	c.compact()
	c.mu.Unlock()

	for _, id := range timedOut {
		slog.Warn("gift correlation timed out", slog.String("event_id", id), slog.String("component", "correlator"))
	}
}

// compact drops resolved events from the table. Callers must hold the mutex.
func (c *Correlator) compact() {
	kept := c.pending[:0]
	for _, ev := range c.pending {
		if !ev.resolved {
			kept = append(kept, ev)
		}
	}
	c.pending = kept
	telemetry.SetPendingEvents(len(c.pending))
}

// parseThankYou extracts the gifter and quantity from a confirmation message.
func parseThankYou(text string) (string, int, bool) {
	m := thankYouPattern.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return m[1], n, true
}

// eventID picks an identifier from the webhook payload, generating one when
// the payload carries none (the empty-payload case).
func eventID(webhookData map[string]any) string {
	for _, key := range []string{"id", "event_id", "message_id"} {
		if s, ok := webhookData[key].(string); ok && s != "" {
			return s
		}
	}
	return uuid.New().String()
}
