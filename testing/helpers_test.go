package testing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/callz"
	"github.com/zoobzio/clockz"
)

type (
	in   = string
	req  = string
	resp = string
	out  = string
)

func TestMockTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("Returns Configured Value", func(t *testing.T) {
		mock := NewMockTransport[string, string](t, "mock-test")
		mock.WithReturn("mocked", nil)

		result, err := mock.Call(ctx, "request")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "mocked" {
			t.Errorf("expected 'mocked', got %q", result)
		}
	})

	t.Run("Replays Script Before Fallback", func(t *testing.T) {
		first := errors.New("first")
		mock := NewMockTransport[string, int](t, "mock-script")
		mock.WithReturn(3, nil).WithResults(
			MockResult[int]{Err: first},
			MockResult[int]{Resp: 2},
		)

		if _, err := mock.Call(ctx, "a"); !errors.Is(err, first) {
			t.Errorf("expected scripted error, got %v", err)
		}
		if v, _ := mock.Call(ctx, "b"); v != 2 {
			t.Errorf("expected 2, got %d", v)
		}
		if v, _ := mock.Call(ctx, "c"); v != 3 {
			t.Errorf("expected fallback 3, got %d", v)
		}
		AssertCalled(t, mock, 3)
		AssertCalledWith(t, mock, "c")
	})

	t.Run("Tracks History", func(t *testing.T) {
		mock := NewMockTransport[int, int](t, "mock-history").WithHistorySize(2)
		for i := 0; i < 5; i++ {
			_, _ = mock.Call(ctx, i)
		}
		history := mock.CallHistory()
		if len(history) != 2 {
			t.Fatalf("expected 2 history entries, got %d", len(history))
		}
		if history[0].Request != 3 || history[1].Request != 4 {
			t.Errorf("expected last two requests, got %v and %v", history[0].Request, history[1].Request)
		}
	})

	t.Run("Delay Respects Context", func(t *testing.T) {
		mock := NewMockTransport[string, string](t, "mock-delay").WithDelay(time.Hour)
		ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := mock.Call(ctx, "request")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("Delay Uses Clock", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		mock := NewMockTransport[string, string](t, "mock-clock").
			WithClock(clock).
			WithDelay(time.Second).
			WithReturn("late", nil)

		done := make(chan string, 1)
		go func() {
			v, _ := mock.Call(ctx, "request")
			done <- v
		}()

		// Allow the goroutine to start
		time.Sleep(10 * time.Millisecond)

		clock.Advance(time.Second)
		clock.BlockUntilReady()

		select {
		case v := <-done:
			if v != "late" {
				t.Errorf("expected 'late', got %q", v)
			}
		case <-time.After(time.Second):
			t.Fatal("call did not complete after advancing the clock")
		}
	})

	t.Run("Panics When Configured", func(t *testing.T) {
		mock := NewMockTransport[string, string](t, "mock-panic").WithPanic("boom")
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("expected panic 'boom', got %v", r)
			}
		}()
		_, _ = mock.Call(ctx, "request")
	})

	t.Run("Reset Clears State", func(t *testing.T) {
		mock := NewMockTransport[string, string](t, "mock-reset").WithResults(MockResult[string]{Resp: "x"})
		_, _ = mock.Call(ctx, "request")
		mock.Reset()
		AssertNotCalled(t, mock)
		if len(mock.CallHistory()) != 0 {
			t.Error("expected empty history after reset")
		}
	})
}

func TestRecordingInterceptor(t *testing.T) {
	ctx := context.Background()

	t.Run("Records Every Point Of A Successful Invocation", func(t *testing.T) {
		transport := NewMockTransport[req, resp](t, "echo").WithReturn("pong", nil)
		rec := NewRecordingInterceptor[in, req, resp, out]("rec")
		plugins := basePlugins(transport, callz.NeverRetry[in, req, resp, out]{}).
			WithOperationPlugin(rec.Plugin())

		result, err := callz.Invoke(ctx, "ping", plugins)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "pong" {
			t.Errorf("expected 'pong', got %q", result)
		}

		// registered by an operation plugin, so client_read_before_execution has already fired
		AssertHookOrder(t, rec, callz.HookPoints()[1:])
	})

	t.Run("Injected Failure Aborts Construction", func(t *testing.T) {
		transport := NewMockTransport[req, resp](t, "echo").WithReturn("pong", nil)
		boom := errors.New("boom")
		rec := NewRecordingInterceptor[in, req, resp, out]("rec").FailAt(callz.ReadBeforeSerialization, boom)
		plugins := basePlugins(transport, callz.NeverRetry[in, req, resp, out]{}).
			WithClientPlugin(rec.Plugin())

		_, err := callz.Invoke(ctx, "ping", plugins)
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		AssertPhase[resp](t, err, callz.PhaseConstruction)
		AssertNotCalled(t, transport)
	})
}

func TestScriptedRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Replays Decisions Then Declines", func(t *testing.T) {
		transport := NewMockTransport[req, resp](t, "flaky").WithReturn("", errors.New("unavailable"))
		strategy := NewScriptedRetry[in, req, resp, out](callz.Yes(), callz.Yes())

		_, err := callz.Invoke(ctx, "ping", basePlugins(transport, strategy))
		if err == nil {
			t.Fatal("expected error")
		}
		AssertCalled(t, transport, 3)
		consulted := strategy.Consulted()
		if len(consulted) != 3 || consulted[0] != 1 || consulted[2] != 3 {
			t.Errorf("expected strategy consulted for attempts 1..3, got %v", consulted)
		}
	})

	t.Run("Initial Decline Skips Transport", func(t *testing.T) {
		transport := NewMockTransport[req, resp](t, "unused")
		strategy := NewScriptedRetry[in, req, resp, out]().WithInitial(callz.No(), nil)

		_, err := callz.Invoke(ctx, "ping", basePlugins(transport, strategy))
		if !errors.Is(err, callz.ErrInitialAttemptDeclined) {
			t.Fatalf("expected ErrInitialAttemptDeclined, got %v", err)
		}
		AssertPhase[resp](t, err, callz.PhaseDispatch)
		AssertNotCalled(t, transport)
	})
}

func TestChaosTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("Always Fails At Full Rate", func(t *testing.T) {
		inner := NewMockTransport[string, string](t, "inner").WithReturn("ok", nil)
		chaos := NewChaosTransport[string, string]("chaos", inner, ChaosConfig{FailureRate: 1, Seed: 7})

		for i := 0; i < 10; i++ {
			if _, err := chaos.Call(ctx, "x"); !errors.Is(err, ErrChaos) {
				t.Fatalf("expected ErrChaos, got %v", err)
			}
		}
		stats := chaos.Stats()
		if stats.TotalCalls != 10 || stats.FailedCalls != 10 {
			t.Errorf("unexpected stats: %s", stats)
		}
		if stats.FailureRate() != 1 {
			t.Errorf("expected failure rate 1, got %f", stats.FailureRate())
		}
	})

	t.Run("Never Fails At Zero Rate", func(t *testing.T) {
		inner := NewMockTransport[string, string](t, "inner").WithReturn("ok", nil)
		chaos := NewChaosTransport[string, string]("chaos", inner, ChaosConfig{Seed: 7})

		v, err := chaos.Call(ctx, "x")
		if err != nil || v != "ok" {
			t.Errorf("expected ok, got %q, %v", v, err)
		}
	})

	t.Run("Simulated Timeouts Are Deadlines", func(t *testing.T) {
		inner := NewMockTransport[string, string](t, "inner")
		chaos := NewChaosTransport[string, string]("chaos", inner, ChaosConfig{TimeoutRate: 1, Seed: 1})

		_, err := chaos.Call(ctx, "x")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		AssertNotCalled(t, inner)
	})
}

func TestHelperFunctions(t *testing.T) {
	t.Run("WaitForCalls", func(t *testing.T) {
		mock := NewMockTransport[int, int](t, "wait")
		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = mock.Call(context.Background(), 1)
		}()
		if !WaitForCalls(mock, 1, time.Second) {
			t.Error("expected call to be observed")
		}
	})

	t.Run("ParallelTest", func(t *testing.T) {
		var count int64
		ParallelTest(t, 8, func(int) {
			atomic.AddInt64(&count, 1)
		})
		if count != 8 {
			t.Errorf("expected 8 runs, got %d", count)
		}
	})

	t.Run("MeasureLatency", func(t *testing.T) {
		d := MeasureLatency(func() { time.Sleep(5 * time.Millisecond) })
		if d < 5*time.Millisecond {
			t.Errorf("expected at least 5ms, got %v", d)
		}
	})
}

// basePlugins wires an identity serializer and deserializer around transport.
func basePlugins(transport callz.Transport[req, resp], strategy callz.RetryStrategy[in, req, resp, out]) *callz.RuntimePlugins[in, req, resp, out] {
	return callz.NewRuntimePlugins[in, req, resp, out]().
		WithClientPlugin(callz.PluginFunc[in, req, resp, out](func(cfg *callz.Config[in, req, resp, out], _ *callz.Interceptors[in, req, resp, out]) error {
			cfg.Serializer = callz.SerializerFunc[in, req](func(_ context.Context, s string) (string, error) { return s, nil })
			cfg.Deserializer = callz.DeserializerFunc[resp, out](func(_ context.Context, s string) (string, error) { return s, nil })
			cfg.Transport = transport
			cfg.RetryStrategy = strategy
			return nil
		}))
}
