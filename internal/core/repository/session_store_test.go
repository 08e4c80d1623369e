package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/feed-sync/internal/core"
	"github.com/duynhne/feed-sync/internal/core/domain"
)

func testSession() *domain.Session {
	return &domain.Session{
		Username: "alice",
		Credential: domain.Credential{
			Value:     "tok-123",
			ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, testSession()))

	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *testSession(), *got)

	// Returned sessions are copies.
	got.Credential.Value = "mutated"
	again, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", again.Credential.Value)

	require.NoError(t, store.Delete(ctx, "alice"))
	require.NoError(t, store.Delete(ctx, "alice"))

	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemorySessionStore_Revoke(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	require.NoError(t, store.Save(ctx, testSession()))

	require.NoError(t, store.Revoke(ctx, "alice", "stale-token"))
	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got, "a different credential must not be revoked")

	require.NoError(t, store.Revoke(ctx, "alice", "tok-123"))
	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Revoke(ctx, "bob", "tok-123"))
}

func TestSealToken(t *testing.T) {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")

	sealed, err := sealToken("tok-123", &key)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "tok-123")

	plain, err := openToken(sealed, &key)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", plain)

	var other [32]byte
	_, err = openToken(sealed, &other)
	assert.ErrorIs(t, err, ErrTokenSealBroken)

	_, err = openToken(sealed[:10], &key)
	assert.ErrorIs(t, err, ErrTokenSealBroken)
}

// Runs only when FEED_TEST_DATABASE_URL points at a disposable database.
func TestPgxSessionStore(t *testing.T) {
	dsn := os.Getenv("FEED_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FEED_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := core.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	store := NewSessionStore(pool, key)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Delete(ctx, "alice"))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, testSession()))
	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-123", got.Credential.Value)
	assert.True(t, testSession().Credential.ExpiresAt.Equal(got.Credential.ExpiresAt))

	require.NoError(t, store.Revoke(ctx, "alice", "stale-token"))
	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, store.Revoke(ctx, "alice", "tok-123"))
	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, testSession()))
	require.NoError(t, store.Delete(ctx, "alice"))
	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}
