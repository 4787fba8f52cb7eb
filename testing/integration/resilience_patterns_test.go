package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/callz"
	calltest "github.com/zoobzio/callz/testing"
	"github.com/zoobzio/clockz"
)

// object is a request that clones itself so every attempt gets a fresh copy.
type object struct {
	Key     string
	Version int
}

func (o object) Clone() object { return o }

type (
	objConfig       = callz.Config[string, object, string, string]
	objInterceptors = callz.Interceptors[string, object, string, string]
	objPlugin       = callz.PluginFunc[string, object, string, string]
)

func plugins(transport callz.Transport[object, string], maxAttempts int) *callz.RuntimePlugins[string, object, string, string] {
	return callz.NewRuntimePlugins[string, object, string, string]().
		WithClientPlugin(objPlugin(func(cfg *objConfig, _ *objInterceptors) error {
			cfg.Serializer = callz.SerializerFunc[string, object](func(_ context.Context, key string) (object, error) {
				return object{Key: key, Version: 1}, nil
			})
			cfg.Deserializer = callz.DeserializerFunc[string, string](func(_ context.Context, body string) (string, error) {
				return body, nil
			})
			cfg.Transport = transport
			cfg.RetryStrategy = callz.StandardRetry[string, object, string, string]{MaxAttempts: maxAttempts}
			return nil
		}))
}

func TestResilience_CircuitBreakerWithRetry(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		threshold     int
		expectSuccess bool
		expectOpen    bool
	}{
		{name: "below_threshold_succeeds", failures: 2, threshold: 5, expectSuccess: true},
		{name: "at_threshold_opens_circuit", failures: 3, threshold: 3, expectOpen: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := calltest.NewMockTransport[object, string](t, "objects")
			results := make([]calltest.MockResult[string], tt.failures)
			for i := range results {
				results[i] = calltest.MockResult[string]{Err: errors.New("503")}
			}
			mock.WithResults(results...).WithReturn("body", nil)

			breaker := callz.NewCircuitBreaker[object, string]("objects", mock, tt.threshold, time.Hour)
			defer breaker.Close()

			out, err := callz.Invoke(context.Background(), "a", plugins(breaker, 4))

			if tt.expectSuccess {
				if err != nil || out != "body" {
					t.Fatalf("expected body, got %q, %v", out, err)
				}
				calltest.AssertCalled(t, mock, tt.failures+1)
			}
			if tt.expectOpen {
				if !errors.Is(err, callz.ErrCircuitOpen) {
					t.Fatalf("expected ErrCircuitOpen, got %v", err)
				}
				calltest.AssertPhase[string](t, err, callz.PhaseDispatch)
				calltest.AssertCalled(t, mock, tt.threshold)
				if breaker.State() != callz.CircuitOpen {
					t.Errorf("expected open circuit, got %s", breaker.State())
				}
			}
		})
	}
}

func TestResilience_FallbackBehindRateLimiter(t *testing.T) {
	primary := calltest.NewMockTransport[object, string](t, "primary").WithReturn("", errors.New("region down"))
	secondary := calltest.NewMockTransport[object, string](t, "secondary").WithReturn("from-secondary", nil)

	fb := callz.NewFallback[object, string]("regions", primary, secondary)
	defer fb.Close()
	limiter := callz.NewRateLimiter[object, string]("regions", fb, 1000, 10)

	for i := 0; i < 5; i++ {
		out, err := callz.Invoke(context.Background(), "a", plugins(limiter, 1))
		if err != nil || out != "from-secondary" {
			t.Fatalf("invocation %d: expected from-secondary, got %q, %v", i, out, err)
		}
	}
	calltest.AssertCalled(t, primary, 5)
	calltest.AssertCalled(t, secondary, 5)
	calltest.AssertCalledWith(t, secondary, object{Key: "a", Version: 1})
}

func TestResilience_ChaosWithBoundedConcurrency(t *testing.T) {
	base := calltest.NewMockTransport[object, string](t, "objects").WithReturn("body", nil)
	chaos := calltest.NewChaosTransport[object, string]("chaos", base, calltest.ChaosConfig{
		FailureRate: 0.3,
		LatencyMax:  2 * time.Millisecond,
		Seed:        7,
	})
	pool := callz.NewWorkerPool[object, string]("objects", chaos, 4)
	defer pool.Close()

	orch := callz.NewOrchestrator("chaos", plugins(pool, 10))
	defer orch.Close()

	var mu sync.Mutex
	var failed int
	calltest.ParallelTest(t, 16, func(int) {
		if _, err := orch.Invoke(context.Background(), "a"); err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
		}
	})

	if failed != 0 {
		t.Errorf("expected retries to absorb injected failures, %d invocations failed", failed)
	}
	stats := chaos.Stats()
	if got := orch.Metrics().Counter(callz.InvokeAttemptsTotal).Value(); int64(got) != stats.TotalCalls {
		t.Errorf("attempts %v should match transport calls %d", got, stats.TotalCalls)
	}
}

func TestResilience_AttemptTimeoutRetries(t *testing.T) {
	mock := calltest.NewMockTransport[object, string](t, "slow").
		WithResults(calltest.MockResult[string]{Resp: "late", Delay: 200 * time.Millisecond}).
		WithReturn("fast", nil)

	p := plugins(mock, 2).WithClientPlugin(objPlugin(func(cfg *objConfig, _ *objInterceptors) error {
		cfg.Clock = clockz.RealClock
		cfg.Timeouts = callz.TimeoutConfig{Attempt: 20 * time.Millisecond}
		return nil
	}))

	out, err := callz.Invoke(context.Background(), "a", p)
	if err != nil || out != "fast" {
		t.Fatalf("expected fast after an attempt timeout, got %q, %v", out, err)
	}
	calltest.AssertCalled(t, mock, 2)
}
