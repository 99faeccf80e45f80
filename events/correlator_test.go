package events

import (
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onnwee/kickbot/telemetry"
)

func testCorrelator(mon *Monitor) *Correlator {
	return NewCorrelator(mon, 10*time.Second, time.Second, "")
}

func receiveResult(t *testing.T, handle <-chan CorrelationResult) CorrelationResult {
	t.Helper()
	select {
	case res := <-handle:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no correlation result delivered")
		return CorrelationResult{}
	}
}

func TestParseThankYou(t *testing.T) {
	tests := []struct {
		text    string
		gifter  string
		qty     int
		matches bool
	}{
		{"Thank you, eddieoz, for the gifted 1 subscriptions.", "eddieoz", 1, true},
		{"Thank you, Anonymous, for the gifted 3 subscriptions.", "Anonymous", 3, true},
		{"Thank you, some_user, for the gifted 5 subscription.", "some_user", 5, true},
		{"Welcome to the channel!", "", 0, false},
		{"Thank you, , for the gifted 1 subscriptions.", "", 0, false},
		{"Thank you, user, for the gifted zero subscriptions.", "", 0, false},
	}
	for _, tt := range tests {
		gifter, qty, ok := parseThankYou(tt.text)
		if ok != tt.matches {
			t.Errorf("%q: match=%v, want %v", tt.text, ok, tt.matches)
			continue
		}
		if ok && (gifter != tt.gifter || qty != tt.qty) {
			t.Errorf("%q: got (%q, %d), want (%q, %d)", tt.text, gifter, qty, tt.gifter, tt.qty)
		}
	}
}

func TestCorrelationResolvesPendingEvent(t *testing.T) {
	mon := NewMonitor()
	c := testCorrelator(mon)

	handle := c.RegisterWebhookEvent(map[string]any{"id": "evt-1"})
	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "Thank you, eddieoz, for the gifted 2 subscriptions.",
		At:     time.Now(),
	})

	res := receiveResult(t, handle)
	if res.Status != StatusCorrelated || res.Gifter != "eddieoz" || res.Quantity != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if c.PendingCount() != 0 {
		t.Errorf("resolved event should leave the table, %d pending", c.PendingCount())
	}
	if mon.Snapshot().Counters[MetricCorrelationSuccess] != 1 {
		t.Error("correlation success not counted")
	}
}

func TestCorrelationAnonymousStatus(t *testing.T) {
	c := testCorrelator(NewMonitor())
	handle := c.RegisterWebhookEvent(map[string]any{})
	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "Thank you, Anonymous, for the gifted 3 subscriptions.",
		At:     time.Now(),
	})

	res := receiveResult(t, handle)
	if res.Status != StatusAnonymous || !res.IsAnonymous() {
		t.Fatalf("expected anonymous status, got %+v", res)
	}
	if res.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", res.Quantity)
	}
}

func TestCorrelationIgnoresOtherSenders(t *testing.T) {
	c := testCorrelator(nil)
	c.RegisterWebhookEvent(map[string]any{})

	c.ProcessChatMessage(ChatMessage{
		Sender: "random_viewer",
		Text:   "Thank you, eddieoz, for the gifted 1 subscriptions.",
		At:     time.Now(),
	})
	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "just chatting",
		At:     time.Now(),
	})

	if c.PendingCount() != 1 {
		t.Fatalf("non-matching messages must not resolve events, %d pending", c.PendingCount())
	}
}

func TestCorrelationTimingTolerance(t *testing.T) {
	for _, delay := range []time.Duration{5 * time.Second, 6 * time.Second, 7500 * time.Millisecond, 8 * time.Second} {
		c := testCorrelator(nil)
		handle := c.RegisterWebhookEvent(map[string]any{})

		c.mu.Lock()
		registered := c.pending[0].registeredAt
		c.mu.Unlock()

		c.ProcessChatMessage(ChatMessage{
			Sender: DefaultThankYouSender,
			Text:   "Thank you, user1, for the gifted 1 subscriptions.",
			At:     registered.Add(delay),
		})
		res := receiveResult(t, handle)
		if res.Status != StatusCorrelated {
			t.Errorf("delay %v: expected correlation inside window, got %+v", delay, res)
		}
	}
}

func TestCorrelationMessageAfterDeadlineDoesNotMatch(t *testing.T) {
	c := testCorrelator(nil)
	c.RegisterWebhookEvent(map[string]any{"id": "expired"})

	c.mu.Lock()
	deadline := c.pending[0].deadline
	c.mu.Unlock()

	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "Thank you, late_user, for the gifted 1 subscriptions.",
		At:     deadline.Add(time.Second),
	})

	// The expired event is still pending for the sweep to evict; the late
	// message must not have resolved it.
	c.mu.Lock()
	resolved := len(c.pending) == 0 || c.pending[0].resolved
	c.mu.Unlock()
	if resolved {
		t.Fatal("message past the deadline must not match")
	}
}

func TestCorrelationFIFOAcrossMultiplePending(t *testing.T) {
	c := testCorrelator(nil)

	handleA := c.RegisterWebhookEvent(map[string]any{"id": "A"})
	handleB := c.RegisterWebhookEvent(map[string]any{"id": "B"})

	// Webhook A at t=0, webhook B at t=4s, confirmations at t=6s and t=10s.
	base := time.Now()
	c.mu.Lock()
	c.pending[0].registeredAt = base
	c.pending[0].deadline = base.Add(10 * time.Second)
	c.pending[1].registeredAt = base.Add(4 * time.Second)
	c.pending[1].deadline = base.Add(14 * time.Second)
	c.mu.Unlock()

	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "Thank you, user1, for the gifted 2 subscriptions.",
		At:     base.Add(6 * time.Second),
	})
	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "Thank you, user2, for the gifted 1 subscriptions.",
		At:     base.Add(10 * time.Second),
	})

	resA := receiveResult(t, handleA)
	resB := receiveResult(t, handleB)
	if resA.Gifter != "user1" || resA.Quantity != 2 {
		t.Errorf("event A should take the first confirmation, got %+v", resA)
	}
	if resB.Gifter != "user2" || resB.Quantity != 1 {
		t.Errorf("event B should take the second confirmation, got %+v", resB)
	}
}

func TestSweepTimesOutExpiredEvents(t *testing.T) {
	mon := NewMonitor()
	c := testCorrelator(mon)
	handle := c.RegisterWebhookEvent(map[string]any{"id": "doomed"})

	c.mu.Lock()
	deadline := c.pending[0].deadline
	c.mu.Unlock()

	c.sweepExpired(deadline.Add(time.Millisecond))

	res := receiveResult(t, handle)
	if res.Status != StatusTimeout || res.Gifter != Unknown {
		t.Fatalf("expected timeout result, got %+v", res)
	}
	if c.PendingCount() != 0 {
		t.Errorf("timed-out event should be evicted, %d pending", c.PendingCount())
	}
	if mon.Snapshot().Counters[MetricCorrelationTimeout] != 1 {
		t.Error("timeout not counted")
	}
}

func TestSweepLeavesFreshEvents(t *testing.T) {
	c := testCorrelator(nil)
	c.RegisterWebhookEvent(map[string]any{})
	c.sweepExpired(time.Now())
	if c.PendingCount() != 1 {
		t.Fatalf("in-window event must survive the sweep, %d pending", c.PendingCount())
	}
}

func TestResolutionIsIdempotentUnderRace(t *testing.T) {
	mon := NewMonitor()
	c := testCorrelator(mon)
	handle := c.RegisterWebhookEvent(map[string]any{"id": "raced"})

	c.mu.Lock()
	registered := c.pending[0].registeredAt
	deadline := c.pending[0].deadline
	c.mu.Unlock()

	// A late chat match and the timeout sweep race; first writer wins and
	// the loser is a silent no-op.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.ProcessChatMessage(ChatMessage{
			Sender: DefaultThankYouSender,
			Text:   "Thank you, racer, for the gifted 1 subscriptions.",
			At:     registered.Add(9 * time.Second),
		})
	}()
	go func() {
		defer wg.Done()
		c.sweepExpired(deadline.Add(time.Second))
	}()
	wg.Wait()

	res := receiveResult(t, handle)
	if res.Status != StatusCorrelated && res.Status != StatusTimeout {
		t.Fatalf("unexpected status %q", res.Status)
	}
	// The channel is closed after the single delivery; a second receive
	// must yield the zero value immediately.
	extra, open := <-handle
	if open {
		t.Fatalf("second resolution leaked a result: %+v", extra)
	}

	snap := mon.Snapshot()
	total := snap.Counters[MetricCorrelationSuccess] + snap.Counters[MetricCorrelationTimeout]
	if total != 1 {
		t.Errorf("exactly one resolution should be counted, got %d", total)
	}
}

func TestCloseResolvesOutstandingHandles(t *testing.T) {
	mon := NewMonitor()
	c := testCorrelator(mon)
	h1 := c.RegisterWebhookEvent(map[string]any{})
	h2 := c.RegisterWebhookEvent(map[string]any{})

	c.Close()

	for _, h := range []<-chan CorrelationResult{h1, h2} {
		res := receiveResult(t, h)
		if res.Status != StatusTimeout {
			t.Errorf("shutdown must resolve handles as timeout, got %+v", res)
		}
	}

	// Registration after close resolves immediately instead of dangling.
	h3 := c.RegisterWebhookEvent(map[string]any{})
	if res := receiveResult(t, h3); res.Status != StatusTimeout {
		t.Errorf("post-close registration should time out immediately, got %+v", res)
	}
}

func TestEventIDFallsBackToGenerated(t *testing.T) {
	if id := eventID(map[string]any{"id": "evt-7"}); id != "evt-7" {
		t.Errorf("expected payload id, got %q", id)
	}
	if id := eventID(map[string]any{"message_id": "msg-1"}); id != "msg-1" {
		t.Errorf("expected message_id, got %q", id)
	}
	a, b := eventID(map[string]any{}), eventID(map[string]any{})
	if a == "" || a == b {
		t.Errorf("generated ids must be unique and non-empty, got %q and %q", a, b)
	}
}

func TestPendingGaugeTracksTableDepth(t *testing.T) {
	telemetry.Init()
	c := testCorrelator(nil)
	defer c.Close()

	c.RegisterWebhookEvent(map[string]any{"id": "evt-g1"})
	c.RegisterWebhookEvent(map[string]any{"id": "evt-g2"})
	if got := promtest.ToFloat64(telemetry.PendingEventsGauge); got != 2 {
		t.Fatalf("gauge = %v after two registrations, want 2", got)
	}

	c.ProcessChatMessage(ChatMessage{
		Sender: DefaultThankYouSender,
		Text:   "Thank you, eddieoz, for the gifted 1 subscriptions.",
		At:     time.Now(),
	})
	if got := promtest.ToFloat64(telemetry.PendingEventsGauge); got != 1 {
		t.Fatalf("gauge = %v after a match, want 1", got)
	}

	c.Close()
	if got := promtest.ToFloat64(telemetry.PendingEventsGauge); got != 0 {
		t.Fatalf("gauge = %v after close, want 0", got)
	}
}
