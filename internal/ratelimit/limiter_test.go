package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestAllow_PerIPExhaustion(t *testing.T) {
	l := New(Config{
		GlobalRate:      1000,
		GlobalBurst:     1000,
		PerIPRate:       rate.Limit(0.001),
		PerIPBurst:      2,
		CleanupInterval: time.Hour,
	})

	if !l.Allow("203.0.113.1") || !l.Allow("203.0.113.1") {
		t.Fatal("burst of 2 must be admitted")
	}
	if l.Allow("203.0.113.1") {
		t.Fatal("third request must be rejected")
	}
	if !l.Allow("203.0.113.2") {
		t.Fatal("a different IP must have its own bucket")
	}
}

func TestAllow_GlobalExhaustion(t *testing.T) {
	l := New(Config{
		GlobalRate:      rate.Limit(0.001),
		GlobalBurst:     1,
		PerIPRate:       1000,
		PerIPBurst:      1000,
		CleanupInterval: time.Hour,
	})

	if !l.Allow("203.0.113.1") {
		t.Fatal("first request must be admitted")
	}
	if l.Allow("203.0.113.2") {
		t.Fatal("global bucket exhausted, any IP must be rejected")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/stream/x", nil)
	r.RemoteAddr = "192.0.2.10:54321"

	if got := ClientIP(r); got != "192.0.2.10" {
		t.Fatalf("ClientIP = %q, want RemoteAddr host", got)
	}

	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(r); got != "198.51.100.7" {
		t.Fatalf("ClientIP = %q, want X-Real-IP", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("ClientIP = %q, want first X-Forwarded-For entry", got)
	}
}
