// Package server exposes the HTTP surface: the Kick webhook receiver,
// health/readiness/status probes, the diagnostics snapshot, Prometheus
// metrics, and the Kick OAuth flow. It includes permissive CORS for
// development and injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/kickbot/chat"
	"github.com/onnwee/kickbot/config"
	"github.com/onnwee/kickbot/events"
	"github.com/onnwee/kickbot/points"
)

const (
	// Maximum number of in-flight OAuth states kept in memory.
	maxOAuthStates = 10000
)

// Pipeline bundles the webhook processing components the handlers drive.
type Pipeline struct {
	Monitor    *events.Monitor
	Registry   *events.Registry
	Parser     *events.GifterParser
	Correlator *events.Correlator
	Dispatcher *chat.Dispatcher
	Awarder    *points.Awarder
}

// oauthState tracks one pending authorization round trip. The PKCE verifier
// is bound to the state so the callback can complete the code exchange.
type oauthState struct {
	verifier string
	expiry   time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db        *sql.DB
	cfg       *config.Config
	pipe      Pipeline
	ctx       context.Context
	startedAt time.Time

	stateMu sync.Mutex
	states  map[string]oauthState
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// db may be nil when the bot runs without persistence.
func NewHandlers(ctx context.Context, cfg *config.Config, db *sql.DB, pipe Pipeline) *Handlers {
	return &Handlers{
		db:        db,
		cfg:       cfg,
		pipe:      pipe,
		ctx:       ctx,
		startedAt: time.Now(),
		states:    make(map[string]oauthState),
	}
}

// addOAuthState stores a pending state, sweeping expired entries as it goes
// so the map cannot grow without bound.
func (h *Handlers) addOAuthState(state, verifier string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	now := time.Now()
	for s, st := range h.states {
		if now.After(st.expiry) {
			delete(h.states, s)
		}
	}
	if len(h.states) >= maxOAuthStates {
		return false
	}
	h.states[state] = oauthState{verifier: verifier, expiry: expiry}
	return true
}

// takeOAuthState removes and returns the pending state, if still valid.
func (h *Handlers) takeOAuthState(state string) (oauthState, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.states[state]
	if !ok {
		return oauthState{}, false
	}
	delete(h.states, state)
	if time.Now().After(st.expiry) {
		return oauthState{}, false
	}
	return st, true
}
