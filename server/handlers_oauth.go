package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	dbpkg "github.com/onnwee/kickbot/db"
	"github.com/onnwee/kickbot/kickapi"
)

// HandleKickOAuthStart initiates the Kick authorization code flow. Kick
// requires PKCE, so a code verifier is generated here and bound to the state
// for the callback.
func (h *Handlers) HandleKickOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.KickClientID == "" || h.cfg.KickRedirectURI == "" {
		http.Error(w, "oauth not configured (need KICK_CLIENT_ID + KICK_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	verifier, err := kickapi.GenerateCodeVerifier()
	if err != nil {
		http.Error(w, "verifier gen error", 500)
		return
	}
	if !h.addOAuthState(st, verifier, time.Now().Add(10*time.Minute)) {
		http.Error(w, "too many pending authorizations", http.StatusTooManyRequests)
		return
	}
	authURL, err := kickapi.BuildAuthorizeURL(h.cfg.KickClientID, h.cfg.KickRedirectURI,
		h.cfg.KickScopes, st, kickapi.CodeChallenge(verifier))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleKickOAuthCallback completes the code exchange and stores the user
// token for the refresher to keep alive.
func (h *Handlers) HandleKickOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	state, ok := h.takeOAuthState(st)
	if !ok {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	res, err := kickapi.ExchangeAuthCode(ctx, h.cfg.KickClientID, h.cfg.KickClientSecret,
		code, h.cfg.KickRedirectURI, state.verifier)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if h.db != nil {
		if err := dbpkg.UpsertOAuthToken(ctx, h.db, "kick", res.AccessToken, res.RefreshToken,
			kickapi.ComputeExpiry(res.ExpiresIn), res.Scope); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"scope":      res.Scope,
		"expires_in": res.ExpiresIn,
	}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
