package callz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("Allows Burst", func(t *testing.T) {
		inner := echoTransport()
		limiter := NewRateLimiter[string, string]("test-limiter", inner, 1, 3).SetMode(RateModeDrop)

		for i := 0; i < 3; i++ {
			if _, err := limiter.Call(ctx, "req"); err != nil {
				t.Fatalf("call %d within burst failed: %v", i, err)
			}
		}
		if inner.Calls() != 3 {
			t.Errorf("expected 3 calls, got %d", inner.Calls())
		}
	})

	t.Run("Drop Mode Rejects Beyond Burst", func(t *testing.T) {
		inner := echoTransport()
		limiter := NewRateLimiter[string, string]("test-limiter", inner, 0.001, 1).SetMode(RateModeDrop)

		_, _ = limiter.Call(ctx, "req")
		_, err := limiter.Call(ctx, "req")
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if inner.Calls() != 1 {
			t.Errorf("dropped calls must not reach the service, got %d", inner.Calls())
		}
		if v := limiter.Metrics().Counter(RateLimiterDroppedTotal).Value(); v != 1 {
			t.Errorf("expected 1 dropped, got %f", v)
		}
		if v := limiter.Metrics().Counter(RateLimiterAllowedTotal).Value(); v != 1 {
			t.Errorf("expected 1 allowed, got %f", v)
		}
	})

	t.Run("Wait Mode Honors Context", func(t *testing.T) {
		inner := echoTransport()
		limiter := NewRateLimiter[string, string]("test-limiter", inner, 0.001, 1)
		if limiter.Mode() != RateModeWait {
			t.Fatalf("expected wait mode by default, got %s", limiter.Mode())
		}

		_, _ = limiter.Call(ctx, "req")

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := limiter.Call(waitCtx, "req"); err == nil {
			t.Fatal("expected the wait to be abandoned")
		}
		if inner.Calls() != 1 {
			t.Errorf("expected 1 call, got %d", inner.Calls())
		}
	})

	t.Run("Wait Mode Paces Calls", func(t *testing.T) {
		limiter := NewRateLimiter[string, string]("test-limiter", echoTransport(), 100, 1)

		start := time.Now()
		for i := 0; i < 3; i++ {
			if _, err := limiter.Call(ctx, "req"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
			t.Errorf("expected calls to be paced, took %v", elapsed)
		}
	})

	t.Run("Invalid Mode Ignored", func(t *testing.T) {
		limiter := NewRateLimiter[string, string]("test-limiter", echoTransport(), 1, 1).SetMode("bogus")
		if limiter.Mode() != RateModeWait {
			t.Errorf("expected wait mode, got %s", limiter.Mode())
		}
	})

	t.Run("Rate And Burst Updates", func(t *testing.T) {
		inner := echoTransport()
		limiter := NewRateLimiter[string, string]("test-limiter", inner, 0.001, 1).SetMode(RateModeDrop)
		_, _ = limiter.Call(ctx, "req")

		limiter.SetBurst(5).SetRate(1000)
		time.Sleep(10 * time.Millisecond)
		if _, err := limiter.Call(ctx, "req"); err != nil {
			t.Errorf("expected refilled bucket, got %v", err)
		}
	})
}

func TestRateLimiterTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("Dropped Call Fails Attempt In Dispatch", func(t *testing.T) {
		layer := RateLimiterLayer[string, string]("client", 0.001, 1)
		limiter := layer.Layer(echoTransport()).SetMode(RateModeDrop)
		plugins := basePlugins(limiter, NeverRetry[string, string, string, string]{})

		if _, err := Invoke(ctx, "first", plugins); err != nil {
			t.Fatalf("first invocation should pass: %v", err)
		}
		_, err := Invoke(ctx, "second", plugins)
		var callErr *Error[string]
		if !errors.As(err, &callErr) || callErr.Phase != PhaseDispatch || !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected dispatch rate limit failure, got %v", err)
		}
	})
}
