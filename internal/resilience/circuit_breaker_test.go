package resilience

import (
	"errors"
	"testing"
	"time"
)

type stubClock struct{ t time.Time }

func (c *stubClock) Now() time.Time { return c.t }

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want errBoom", i, err)
		}
	}

	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker must reject fast, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeRecovers(t *testing.T) {
	clk := &stubClock{t: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clk))

	_ = cb.Execute(func() error { return errBoom })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	clk.t = clk.t.Add(11 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should be allowed and succeed, got %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after successful probe", got)
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clk := &stubClock{t: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clk))

	_ = cb.Execute(func() error { return errBoom })
	clk.t = clk.t.Add(11 * time.Second)

	if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe error should propagate, got %v", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed (failure streak broken)", got)
	}
}
