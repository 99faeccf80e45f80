package kickapi

import (
	"strings"
	"testing"
	"time"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		challenge   string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:write events:subscribe",
			challenge:   "challenge-abc",
			wantParts:   []string{"client_id=test-client-id", "code_challenge=challenge-abc", "code_challenge_method=S256"},
		},
		{
			name:        "comma separated scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:write,events:subscribe",
			challenge:   "ch",
			wantParts:   []string{"scope=chat%3Awrite+events%3Asubscribe"},
		},
		{
			name:        "empty client ID",
			redirectURI: "http://localhost/callback",
			challenge:   "ch",
			wantErr:     true,
		},
		{
			name:     "missing challenge",
			clientID: "client",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := BuildAuthorizeURL(tt.clientID, tt.redirectURI, tt.scopes, "state-1", tt.challenge)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.HasPrefix(u, DefaultAuthBase+"/oauth/authorize?") {
				t.Errorf("unexpected URL base: %s", u)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(u, part) {
					t.Errorf("URL missing %q: %s", part, u)
				}
			}
		})
	}
}

func TestCodeChallengeDeterministic(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("GenerateCodeVerifier: %v", err)
	}
	if len(verifier) < 43 {
		t.Errorf("verifier too short: %d chars", len(verifier))
	}
	if CodeChallenge(verifier) != CodeChallenge(verifier) {
		t.Error("challenge must be deterministic for a verifier")
	}
	other, _ := GenerateCodeVerifier()
	if CodeChallenge(verifier) == CodeChallenge(other) {
		t.Error("distinct verifiers should produce distinct challenges")
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()
	exp := ComputeExpiry(3600)
	if exp.Before(now.Add(59*time.Minute)) || exp.After(now.Add(61*time.Minute)) {
		t.Errorf("expiry out of range: %v", exp)
	}
	// Unknown lifetime defaults to an hour.
	exp = ComputeExpiry(0)
	if exp.Before(now.Add(59 * time.Minute)) {
		t.Errorf("default expiry too soon: %v", exp)
	}
}
