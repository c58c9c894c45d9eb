package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAuthority(t *testing.T, clk Clock) *Authority {
	t.Helper()
	store := NewMemoryStore()
	if fc, ok := clk.(*fakeClock); ok {
		store.WithStoreClock(fc)
	}
	a, err := NewAuthority(testSecret, store, WithClock(clk))
	require.NoError(t, err)
	return a
}

func TestIssueValidate_MultiUse(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	tok, err := a.Issue("music/x.mp3", 10*time.Minute, AllowExplicit(true))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		claims, err := a.Validate(context.Background(), tok, "music/x.mp3")
		require.NoError(t, err, "multi-use token must validate repeatedly")
		require.Equal(t, "music/x.mp3", claims.Key)
		require.True(t, claims.ExplicitAllowed)
	}
}

func TestValidate_SingleUseConsumedExactlyOnce(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	tok, err := a.Issue("music/x.mp3", 10*time.Minute, SingleUse())
	require.NoError(t, err)

	_, err = a.Validate(context.Background(), tok, "music/x.mp3")
	require.NoError(t, err, "first validation must succeed")

	for i := 0; i < 3; i++ {
		_, err = a.Validate(context.Background(), tok, "music/x.mp3")
		require.ErrorIs(t, err, ErrAlreadyConsumed,
			"every retry must keep the AlreadyConsumed category")
	}
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	clk := newFakeClock()
	a := newTestAuthority(t, clk)

	ttl := 5 * time.Minute
	tok, err := a.Issue("music/x.mp3", ttl)
	require.NoError(t, err)

	clk.Advance(ttl - time.Second)
	_, err = a.Validate(context.Background(), tok, "music/x.mp3")
	require.NoError(t, err, "token must be valid just before expiry")

	clk.Advance(2 * time.Second)
	_, err = a.Validate(context.Background(), tok, "music/x.mp3")
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidate_ResourceMismatch(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	tok, err := a.Issue("music/x.mp3", 10*time.Minute)
	require.NoError(t, err)

	_, err = a.Validate(context.Background(), tok, "music/y.mp3")
	require.ErrorIs(t, err, ErrResourceMismatch)
}

func TestValidate_TamperedPayload(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	tok, err := a.Issue("music/x.mp3", 10*time.Minute)
	require.NoError(t, err)

	payload, mac, ok := strings.Cut(tok, ".")
	require.True(t, ok)

	// Flip a byte in the payload; the MAC no longer matches.
	tampered := []byte(payload)
	tampered[0] ^= 0x01
	_, err = a.Validate(context.Background(), string(tampered)+"."+mac, "music/x.mp3")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadSignature) || errors.Is(err, ErrMalformed))
}

func TestValidate_Malformed(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	for _, tok := range []string{"", "noseparator", "a.b.c", "!!!.###"} {
		_, err := a.Validate(context.Background(), tok, "music/x.mp3")
		require.Error(t, err, "token %q", tok)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())
	other, err := NewAuthority([]byte("ffffffffffffffffffffffffffffffff"), NewMemoryStore())
	require.NoError(t, err)

	tok, err := other.Issue("music/x.mp3", 10*time.Minute)
	require.NoError(t, err)

	_, err = a.Validate(context.Background(), tok, "music/x.mp3")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestIssue_BindingRoundTrip(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	tok, err := a.Issue("music/x.mp3", 10*time.Minute, BindTo("203.0.113.7"))
	require.NoError(t, err)

	claims, err := a.Validate(context.Background(), tok, "music/x.mp3")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", claims.Binding)
}

func TestIssue_KeyWithSeparatorCharacters(t *testing.T) {
	a := newTestAuthority(t, newFakeClock())

	key := "music/odd|name.mp3"
	tok, err := a.Issue(key, 10*time.Minute)
	require.NoError(t, err)

	claims, err := a.Validate(context.Background(), tok, key)
	require.NoError(t, err)
	require.Equal(t, key, claims.Key)
}

func TestMemoryStore_ConcurrentConsume(t *testing.T) {
	store := NewMemoryStore()

	const goroutines = 32
	var wg sync.WaitGroup
	firsts := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.Consume(context.Background(), "same-id", time.Minute)
			require.NoError(t, err)
			firsts <- first
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for first := range firsts {
		if first {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one consumer may win")
}

func TestMemoryStore_ExpiredRecordReusable(t *testing.T) {
	clk := newFakeClock()
	store := NewMemoryStore().WithStoreClock(clk)

	first, err := store.Consume(context.Background(), "id-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	clk.Advance(2 * time.Minute)
	first, err = store.Consume(context.Background(), "id-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first, "expired record must not block a new consumption")
}
