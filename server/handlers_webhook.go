package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/kickbot/events"
	"github.com/onnwee/kickbot/telemetry"
)

// Kick webhook headers. The event type header decides routing; the message id
// header carries a stable event identity because gift payloads are frequently
// empty objects.
const (
	headerEventType    = "Kick-Event-Type"
	headerEventVersion = "Kick-Event-Version"
	headerMessageID    = "Kick-Event-Message-Id"
)

// Kick event subscription names delivered to the receiver.
const (
	kickEventChatMessage  = "chat.message.sent"
	kickEventFollow       = "channel.followed"
	kickEventSubscription = "channel.subscription.new"
	kickEventGiftedSubs   = "channel.subscription.gifts"
)

const maxWebhookBody = 1 << 20

// HandleKickWebhook ingests every subscribed Kick event. It always answers
// 200 for POSTs regardless of payload quality; Kick retries and eventually
// disables endpoints that return errors, and a malformed payload is a
// monitoring concern, not a delivery failure.
func (h *Handlers) HandleKickWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventType := r.Header.Get(headerEventType)
	msgID := r.Header.Get(headerMessageID)
	log := telemetry.LoggerWithCorr(r.Context()).With(
		slog.String("component", "webhook"),
		slog.String("event_type", eventType),
		slog.String("message_id", msgID),
	)

	payload := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Warn("failed to read webhook body", slog.Any("err", err))
	} else if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Warn("webhook body is not valid JSON", slog.Any("err", err))
			payload = map[string]any{}
		}
	}

	switch eventType {
	case kickEventChatMessage:
		h.handleChatMessage(r.Context(), payload)
	case kickEventGiftedSubs:
		h.handleGift(r, payload, msgID, flattenHeaders(r.Header))
	case kickEventFollow:
		h.handleIdentityEvent(log, events.EventTypeFollow, payload)
	case kickEventSubscription:
		h.handleIdentityEvent(log, events.EventTypeSubscription, payload)
	default:
		log.Debug("ignoring unsubscribed event type")
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// handleGift resolves a gifted-subscription event. Payloads that name the
// gifter award immediately; empty payloads go through the chat correlator
// with the award completing in the background once the thank-you message
// lands or the window expires.
func (h *Handlers) handleGift(r *http.Request, payload map[string]any, msgID string, headers map[string]string) {
	h.pipe.Monitor.RecordWebhookReceived(events.EventTypeGift)

	// The parser must see the payload exactly as delivered; an empty object
	// is meaningful to it.
	gifter, _ := h.pipe.Parser.ParseGifter(payload, headers)

	// Give the payload a stable identity before registration so logs and
	// reconciliation rows line up with Kick's delivery id.
	if _, ok := payload["id"]; !ok && msgID != "" {
		payload["id"] = msgID
	}
	id, _ := payload["id"].(string)
	if id == "" {
		id = msgID
	}
	if gifter == events.PendingChatCorrelation {
		handle := h.pipe.Correlator.RegisterWebhookEvent(payload)
		// Outlive the request; the chat that names the gifter arrives on a
		// later webhook delivery.
		go h.pipe.Awarder.AwaitCorrelation(context.WithoutCancel(r.Context()), id, handle)
		return
	}
	h.pipe.Awarder.AwardImmediate(r.Context(), id, gifter, events.ExtractQuantity(payload))
}

// handleIdentityEvent extracts the acting username from follow and
// subscription payloads via the strategy registry.
func (h *Handlers) handleIdentityEvent(log *slog.Logger, eventType string, payload map[string]any) {
	h.pipe.Monitor.RecordWebhookReceived(eventType)
	res := h.pipe.Registry.Extract(payload, eventType)
	if !res.Success {
		log.Warn("could not extract username from payload")
		return
	}
	log.Info("event received", slog.String("username", res.Value), slog.String("strategy", res.StrategyUsed))
}

// handleChatMessage feeds an incoming chat line into the dispatcher, which
// fans out to the gift correlator and the command router.
func (h *Handlers) handleChatMessage(ctx context.Context, payload map[string]any) {
	msg := chatMessageFromPayload(payload)
	h.pipe.Dispatcher.Dispatch(ctx, msg)
}

// chatMessageFromPayload extracts the fields the bot cares about from a
// chat.message.sent payload. A missing timestamp falls back to receipt time.
func chatMessageFromPayload(payload map[string]any) events.ChatMessage {
	msg := events.ChatMessage{At: time.Now()}
	if sender, ok := payload["sender"].(map[string]any); ok {
		msg.Sender, _ = sender["username"].(string)
	}
	msg.Text, _ = payload["content"].(string)
	if ts, ok := payload["created_at"].(string); ok {
		if at, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.At = at
		}
	}
	return msg
}

// flattenHeaders keeps the first value of each header for the parser's
// header identity fallback.
func flattenHeaders(hdr http.Header) map[string]string {
	out := make(map[string]string, len(hdr))
	for k, v := range hdr {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
