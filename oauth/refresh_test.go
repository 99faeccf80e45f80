package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/kickbot/db"
	"github.com/onnwee/kickbot/testutil"
)

func TestRefresherSkipsFreshToken(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	futureExpiry := time.Now().Add(1 * time.Hour)
	if err := db.UpsertOAuthToken(ctx, dbx, "test-fresh", "access123", "refresh456", futureExpiry, "scope1"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	refreshCalled := false
	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		refreshCalled = true
		return "new-access", "new-refresh", time.Now().Add(2 * time.Hour), "scope1", nil
	}

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	StartRefresher(runCtx, dbx, "test-fresh", 20*time.Millisecond, 30*time.Minute, fn)
	<-runCtx.Done()

	if refreshCalled {
		t.Error("refresh should not run for a token expiring in 1h with a 30m window")
	}
}

func TestRefresherRefreshesWithinWindow(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	soonExpiry := time.Now().Add(5 * time.Minute)
	if err := db.UpsertOAuthToken(ctx, dbx, "test-window", "old-access", "old-refresh", soonExpiry, "scope1"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	refreshed := make(chan struct{}, 1)
	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		if refreshToken != "old-refresh" {
			t.Errorf("refresh token = %q, want old-refresh", refreshToken)
		}
		select {
		case refreshed <- struct{}{}:
		default:
		}
		return "new-access", "new-refresh", time.Now().Add(2 * time.Hour), "scope1", nil
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	StartRefresher(runCtx, dbx, "test-window", 20*time.Millisecond, 15*time.Minute, fn)

	select {
	case <-refreshed:
	case <-runCtx.Done():
		t.Fatal("refresh did not run inside the window")
	}

	// Persisted tokens should eventually reflect the refresh.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		access, refresh, _, _, err := db.GetOAuthToken(ctx, dbx, "test-window")
		if err != nil {
			t.Fatalf("get token: %v", err)
		}
		if access == "new-access" && refresh == "new-refresh" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("refreshed token was not persisted")
}

func TestRefresherKeepsOldRefreshTokenOnError(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	soonExpiry := time.Now().Add(5 * time.Minute)
	if err := db.UpsertOAuthToken(ctx, dbx, "test-error", "old-access", "old-refresh", soonExpiry, "scope1"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	attempted := make(chan struct{}, 1)
	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return "", "", time.Time{}, "", errors.New("provider unavailable")
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	StartRefresher(runCtx, dbx, "test-error", 20*time.Millisecond, 15*time.Minute, fn)

	select {
	case <-attempted:
	case <-runCtx.Done():
		t.Fatal("refresh was never attempted")
	}
	cancel()

	access, refresh, _, _, err := db.GetOAuthToken(ctx, dbx, "test-error")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if access != "old-access" || refresh != "old-refresh" {
		t.Errorf("failed refresh must not clobber stored tokens, got (%q, %q)", access, refresh)
	}
}
