package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_ConsumeOnce(t *testing.T) {
	store, _ := newMiniredisStore(t)

	first, err := store.Consume(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	first, err = store.Consume(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	require.False(t, first)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newMiniredisStore(t)

	first, err := store.Consume(context.Background(), "jti-2", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	mr.FastForward(2 * time.Minute)

	first, err = store.Consume(context.Background(), "jti-2", time.Minute)
	require.NoError(t, err)
	require.True(t, first, "record must expire with its TTL")
}

func TestRedisStore_IndependentIDs(t *testing.T) {
	store, _ := newMiniredisStore(t)

	first, err := store.Consume(context.Background(), "jti-a", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	first, err = store.Consume(context.Background(), "jti-b", time.Minute)
	require.NoError(t, err)
	require.True(t, first, "distinct tokens must not interfere")
}

func TestAuthority_SingleUseWithRedisStore(t *testing.T) {
	store, _ := newMiniredisStore(t)

	a, err := NewAuthority(testSecret, store)
	require.NoError(t, err)

	tok, err := a.Issue("music/x.mp3", 10*time.Minute, SingleUse())
	require.NoError(t, err)

	_, err = a.Validate(context.Background(), tok, "music/x.mp3")
	require.NoError(t, err)

	_, err = a.Validate(context.Background(), tok, "music/x.mp3")
	require.ErrorIs(t, err, ErrAlreadyConsumed)
}
