package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/idplane/auth-core/token"
	"github.com/idplane/auth-core/token/boltstore"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *boltstore.Store {
	t.Helper()

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func testRecord(hash, sessionID string, now time.Time) *token.RefreshToken {
	return &token.RefreshToken{
		TokenHash:      hash,
		UserID:         "user-1",
		ClientID:       "client-1",
		ProductID:      "product-1",
		TenantID:       "tenant-1",
		OrganizationID: "org-1",
		SessionID:      sessionID,
		Scope:          "openid",
		Roles:          []string{"admin"},
		IssuedAt:       now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}
}

func TestUpsertAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Upsert(ctx, testRecord(token.HashToken("raw-1"), "session-1", now)))

	got, err := store.Get(ctx, token.HashToken("raw-1"))
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, "session-1", got.SessionID)
	require.True(t, got.RevokedAt.IsZero())
	require.True(t, got.Active(now))
}

func TestGetUnknownHash(t *testing.T) {
	store := openStore(t)

	_, err := store.Get(context.Background(), token.HashToken("missing"))
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)
}

func TestRevoke(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	hash := token.HashToken("raw-1")

	require.NoError(t, store.Upsert(ctx, testRecord(hash, "session-1", now)))
	require.NoError(t, store.Revoke(ctx, hash, now.Add(time.Minute)))

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	require.False(t, got.RevokedAt.IsZero())
	require.False(t, got.Active(now.Add(2*time.Minute)))

	// Revoking again does not move the revocation time.
	require.NoError(t, store.Revoke(ctx, hash, now.Add(time.Hour)))
	again, err := store.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, got.RevokedAt.Unix(), again.RevokedAt.Unix())

	// Revoking an absent record is a no-op.
	require.NoError(t, store.Revoke(ctx, token.HashToken("missing"), now))
}

func TestRevokeSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Upsert(ctx, testRecord(token.HashToken("raw-1"), "session-1", now)))
	require.NoError(t, store.Upsert(ctx, testRecord(token.HashToken("raw-2"), "session-1", now)))
	require.NoError(t, store.Upsert(ctx, testRecord(token.HashToken("raw-3"), "session-2", now)))

	revoked, err := store.RevokeSession(ctx, "session-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	for _, raw := range []string{"raw-1", "raw-2"} {
		got, err := store.Get(ctx, token.HashToken(raw))
		require.NoError(t, err)
		require.False(t, got.RevokedAt.IsZero())
	}

	untouched, err := store.Get(ctx, token.HashToken("raw-3"))
	require.NoError(t, err)
	require.True(t, untouched.RevokedAt.IsZero())

	// A second pass finds nothing active.
	revoked, err = store.RevokeSession(ctx, "session-1", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, revoked)
}
