package chat

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/kickbot/db"
	"github.com/onnwee/kickbot/events"
	"github.com/onnwee/kickbot/telemetry"
)

// Responder posts a reply to the channel's chat. *kickapi.Client satisfies it.
type Responder interface {
	SendChatMessage(ctx context.Context, broadcasterUserID int, content string) error
}

// CommandFunc produces the reply text for one command invocation. Returning
// an empty string suppresses the reply.
type CommandFunc func(ctx context.Context, args []string, msg events.ChatMessage) (string, error)

type command struct {
	fn       CommandFunc
	cooldown time.Duration
	lastRun  time.Time
}

// Router dispatches !-prefixed chat commands with per-command cooldowns.
type Router struct {
	mu                sync.Mutex
	commands          map[string]*command
	responder         Responder
	broadcasterUserID int
	startedAt         time.Time
}

// NewRouter builds a router with the built-in command table registered.
// dbx may be nil, which disables the !points lookup.
func NewRouter(responder Responder, broadcasterUserID int, dbx *sql.DB) *Router {
	r := &Router{
		commands:          make(map[string]*command),
		responder:         responder,
		broadcasterUserID: broadcasterUserID,
		startedAt:         time.Now(),
	}

	r.RegisterCommand("uptime", 10*time.Second, func(ctx context.Context, args []string, msg events.ChatMessage) (string, error) {
		return fmt.Sprintf("Bot has been up for %s.", time.Since(r.startedAt).Round(time.Second)), nil
	})
	r.RegisterCommand("so", 5*time.Second, func(ctx context.Context, args []string, msg events.ChatMessage) (string, error) {
		if len(args) == 0 {
			return "", nil
		}
		target := strings.TrimPrefix(args[0], "@")
		return fmt.Sprintf("Go check out %s at https://kick.com/%s", target, target), nil
	})
	if dbx != nil {
		r.RegisterCommand("points", 5*time.Second, func(ctx context.Context, args []string, msg events.ChatMessage) (string, error) {
			who := msg.Sender
			if len(args) > 0 {
				who = strings.TrimPrefix(args[0], "@")
			}
			balance, err := db.GetPoints(ctx, dbx, who)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s has %d points.", who, balance), nil
		})
	}
	return r
}

// RegisterCommand adds or replaces a command (name without the ! prefix).
func (r *Router) RegisterCommand(name string, cooldown time.Duration, fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(name)] = &command{fn: fn, cooldown: cooldown}
}

// Handle is a chat Handler: it parses !commands and replies in channel.
// Non-command messages and unknown commands are ignored.
func (r *Router) Handle(ctx context.Context, msg events.ChatMessage) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "!") {
		return
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	r.mu.Lock()
	cmd, ok := r.commands[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	if cmd.cooldown > 0 && now.Sub(cmd.lastRun) < cmd.cooldown {
		r.mu.Unlock()
		return
	}
	cmd.lastRun = now
	r.mu.Unlock()

	reply, err := cmd.fn(ctx, args, msg)
	if err != nil {
		slog.Warn("command failed", slog.String("command", name), slog.Any("err", err))
		return
	}
	if telemetry.CommandsHandled != nil {
		telemetry.CommandsHandled.WithLabelValues(name).Inc()
	}
	if reply == "" || r.responder == nil {
		return
	}
	if err := r.responder.SendChatMessage(ctx, r.broadcasterUserID, reply); err != nil {
		slog.Warn("chat reply failed", slog.String("command", name), slog.Any("err", err))
	}
}
