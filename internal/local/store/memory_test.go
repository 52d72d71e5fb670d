package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/pkg/sentinel"
)

func TestMemoryUserStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryUserStore()

	user := &User{ID: "u1", Username: "bob", PasswordHash: "hash", ClientIDs: []string{"c1"}}
	require.NoError(t, s.CreateUser(ctx, user))
	assert.ErrorIs(t, s.CreateUser(ctx, user), sentinel.ErrConflict)

	got, err := s.UserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.UserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// Identity links resolve to the user; relinking is idempotent.
	require.NoError(t, s.LinkIdentity(ctx, "fakeidp", "fip-1", "u1"))
	got, err = s.UserByIdentity(ctx, "fakeidp", "fip-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	assert.ErrorIs(t, s.LinkIdentity(ctx, "fakeidp", "fip-2", "ghost"), sentinel.ErrNotFound)
}

func TestMemoryClientStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryClientStore()

	require.NoError(t, s.CreateClient(ctx, &Client{ID: "c1", Scopes: []string{"profile"}}))
	assert.ErrorIs(t, s.CreateClient(ctx, &Client{ID: "c1"}), sentinel.ErrConflict)

	got, err := s.ClientByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"profile"}, got.Scopes)

	_, err = s.ClientByID(ctx, "ghost")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryTokenStoreRedeemIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTokenStore()

	require.NoError(t, s.Save(ctx, "code-1", map[string]any{"sub": "u1"}, time.Minute))

	claims, err := s.Redeem(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims["sub"])

	_, err = s.Redeem(ctx, "code-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryTokenStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTokenStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, "rt-1", map[string]any{"sub": "u1"}, time.Minute))
	// Zero ttl entries never expire.
	require.NoError(t, s.Save(ctx, "rt-forever", map[string]any{"sub": "u1"}, 0))

	now = now.Add(2 * time.Minute)
	_, err := s.Claims(ctx, "rt-1")
	assert.ErrorIs(t, err, sentinel.ErrExpired)

	_, err = s.Claims(ctx, "rt-forever")
	assert.NoError(t, err)
}
