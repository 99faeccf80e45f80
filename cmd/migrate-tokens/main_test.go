package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/onnwee/kickbot/crypto"
	"github.com/onnwee/kickbot/testutil"
)

func testEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("key gen: %v", err)
	}
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	return enc
}

func TestMigrateTokensEncryptsPlaintextRows(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	enc := testEncryptor(t)

	if _, err := database.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = 'kick'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := database.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encryption_version)
		VALUES ('kick', 'plain-access', 'plain-refresh', $1, 'chat:write', 0)
	`, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := migrateTokens(ctx, database, enc, false, "kick"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var access, refresh string
	var version int
	err := database.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, encryption_version
		FROM oauth_tokens WHERE provider = 'kick'
	`).Scan(&access, &refresh, &version)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if version != 1 {
		t.Fatalf("encryption_version = %d, want 1", version)
	}
	if access == "plain-access" || refresh == "plain-refresh" {
		t.Fatal("tokens still stored in plaintext")
	}

	got, err := crypto.DecryptString(enc, access)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "plain-access" {
		t.Fatalf("decrypted access = %q, want plain-access", got)
	}
}

func TestMigrateTokensDryRunLeavesRowsAlone(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	enc := testEncryptor(t)

	if _, err := database.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = 'kick'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := database.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encryption_version)
		VALUES ('kick', 'plain-access', 'plain-refresh', $1, '', 0)
	`, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := migrateTokens(ctx, database, enc, true, "kick"); err != nil {
		t.Fatalf("dry-run: %v", err)
	}

	var access string
	var version int
	if err := database.QueryRowContext(ctx, `
		SELECT access_token, encryption_version FROM oauth_tokens WHERE provider = 'kick'
	`).Scan(&access, &version); err != nil {
		t.Fatalf("query: %v", err)
	}
	if version != 0 || access != "plain-access" {
		t.Fatalf("dry run modified the row: version=%d access=%q", version, access)
	}
}
