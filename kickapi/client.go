package kickapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// UserTokenFunc supplies a user access token (chat:write scope) for calls
// that act as the bot account.
type UserTokenFunc func(ctx context.Context) (string, error)

// Client provides the minimal Kick public API surface the bot needs: posting
// chat messages and managing webhook event subscriptions.
type Client struct {
	AppTokenSource *TokenSource
	UserToken      UserTokenFunc
	HTTPClient     *http.Client

	// BaseURL overrides the public API host, for tests.
	BaseURL string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultAPIBase
}

// SendChatMessage posts a message to the given channel as the bot account.
func (c *Client) SendChatMessage(ctx context.Context, broadcasterUserID int, content string) error {
	if content == "" {
		return errors.New("empty chat message")
	}
	if c.UserToken == nil {
		return errors.New("no user token source configured for chat")
	}
	tok, err := c.UserToken(ctx)
	if err != nil {
		return fmt.Errorf("get user token: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"broadcaster_user_id": broadcasterUserID,
		"content":             content,
		"type":                "bot",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kick chat post failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// EventSubscription is one active webhook subscription on the app.
type EventSubscription struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Version int    `json:"version"`
	Method  string `json:"method"`
}

// ListEventSubscriptions returns the app's active webhook subscriptions.
func (c *Client) ListEventSubscriptions(ctx context.Context) ([]EventSubscription, error) {
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/events/subscriptions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kick list subscriptions failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []EventSubscription `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// SubscribeEvents registers webhook subscriptions for the given event names
// (e.g. channel.followed, channel.subscription.gifts, chat.message.sent).
func (c *Client) SubscribeEvents(ctx context.Context, broadcasterUserID int, eventNames []string) error {
	if len(eventNames) == 0 {
		return nil
	}
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	events := make([]map[string]any, 0, len(eventNames))
	for _, name := range eventNames {
		events = append(events, map[string]any{"name": name, "version": 1})
	}
	body, err := json.Marshal(map[string]any{
		"broadcaster_user_id": broadcasterUserID,
		"events":              events,
		"method":              "webhook",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/events/subscriptions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kick subscribe failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// GetChannelUserID resolves a channel slug to its broadcaster user id.
func (c *Client) GetChannelUserID(ctx context.Context, slug string) (int, error) {
	if slug == "" {
		return 0, fmt.Errorf("slug empty")
	}
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/channels", nil)
	if err != nil {
		return 0, err
	}
	q := req.URL.Query()
	q.Set("slug", slug)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("kick channel lookup failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			BroadcasterUserID int `json:"broadcaster_user_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("channel not found")
	}
	return body.Data[0].BroadcasterUserID, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
