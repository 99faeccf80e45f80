package events

import "time"

// Event type keys used for strategy lookup. They mirror the Kick-Event-Type
// header values with the channel prefix stripped.
const (
	EventTypeFollow       = "follow"
	EventTypeSubscription = "subscription"
	EventTypeGift         = "gift"
)

// Status is the terminal outcome of a pending gift correlation.
type Status string

const (
	StatusCorrelated Status = "CORRELATED"
	StatusAnonymous  Status = "ANONYMOUS"
	StatusTimeout    Status = "TIMEOUT"
)

// CorrelationResult is delivered exactly once through the handle returned by
// Correlator.RegisterWebhookEvent.
type CorrelationResult struct {
	Gifter   string
	Quantity int
	Status   Status
}

// IsAnonymous reports whether the gift should not be credited to a user.
func (r CorrelationResult) IsAnonymous() bool { return r.Status == StatusAnonymous }

// ChatMessage is the slice of an incoming chat message the correlator cares
// about: who sent it, what it said, and when it arrived.
type ChatMessage struct {
	Sender string
	Text   string
	At     time.Time
}
