// Package testing provides test utilities and helpers for callz-based clients.
//
// This package includes a mock transport, a recording interceptor, a scripted
// retry strategy and chaos testing tools to make exercising the invocation
// pipeline easier and more comprehensive.
//
// Example usage:
//
//	func TestGetObject(t *testing.T) {
//		transport := calltest.NewMockTransport[string, string](t, "s3")
//		transport.WithResults(
//			calltest.MockResult[string]{Err: errors.New("503")},
//			calltest.MockResult[string]{Resp: "body"},
//		)
//
//		out, err := callz.Invoke(ctx, input, plugins)
//
//		calltest.AssertCalled(t, transport, 2)
//	}
package testing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mathrand "math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/callz"
	"github.com/zoobzio/clockz"
)

// MockTransport provides a configurable mock implementation of
// callz.Transport[Req, Resp]. It tracks calls, replays scripted results and
// falls back to a default result once the script is exhausted.
type MockTransport[Req, Resp any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	t           *testing.T
	name        string
	callCount   int64
	lastRequest Req
	script      []MockResult[Resp]
	fallback    MockResult[Resp]
	delay       time.Duration
	panicMsg    string
	clock       clockz.Clock
	mu          sync.RWMutex
	callHistory []MockCall[Req]
	maxHistory  int
}

// MockResult is one scripted transport outcome.
type MockResult[Resp any] struct {
	Resp  Resp
	Err   error
	Delay time.Duration // Overrides the transport-wide delay for this call
}

// MockCall represents a single call to the mock transport.
type MockCall[Req any] struct {
	Request   Req
	Timestamp time.Time
	Context   context.Context
}

// NewMockTransport creates a new mock transport for testing.
func NewMockTransport[Req, Resp any](t *testing.T, name string) *MockTransport[Req, Resp] {
	return &MockTransport[Req, Resp]{
		t:          t,
		name:       name,
		clock:      clockz.RealClock,
		maxHistory: 100,
	}
}

// WithReturn configures the result returned once the script is exhausted.
func (m *MockTransport[Req, Resp]) WithReturn(resp Resp, err error) *MockTransport[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = MockResult[Resp]{Resp: resp, Err: err}
	return m
}

// WithResults appends scripted results, consumed one per call in order.
func (m *MockTransport[Req, Resp]) WithResults(results ...MockResult[Resp]) *MockTransport[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
	return m
}

// WithDelay configures the mock to delay every call.
// This is useful for testing attempt and operation timeouts.
func (m *MockTransport[Req, Resp]) WithDelay(d time.Duration) *MockTransport[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic configures the mock to panic with a specific message.
func (m *MockTransport[Req, Resp]) WithPanic(msg string) *MockTransport[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithClock sets the clock used for delays, typically a clockz.FakeClock.
func (m *MockTransport[Req, Resp]) WithClock(clock clockz.Clock) *MockTransport[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

// WithHistorySize configures how many calls to keep in history.
// Set to 0 to disable history tracking.
func (m *MockTransport[Req, Resp]) WithHistorySize(size int) *MockTransport[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.callHistory = nil
	} else if len(m.callHistory) > size {
		m.callHistory = m.callHistory[len(m.callHistory)-size:]
	}
	return m
}

// Name returns the name of the mock transport.
func (m *MockTransport[Req, Resp]) Name() callz.Name {
	return m.name
}

// Call implements callz.Transport. It records the call and returns the next
// scripted result, potentially after a delay or panic.
func (m *MockTransport[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	m.lastRequest = req
	if m.maxHistory > 0 {
		m.callHistory = append(m.callHistory, MockCall[Req]{
			Request:   req,
			Timestamp: time.Now(),
			Context:   ctx,
		})
		if len(m.callHistory) > m.maxHistory {
			m.callHistory = m.callHistory[1:]
		}
	}

	result := m.fallback
	if len(m.script) > 0 {
		result = m.script[0]
		m.script = m.script[1:]
	}
	delay := m.delay
	if result.Delay > 0 {
		delay = result.Delay
	}
	panicMsg := m.panicMsg
	clock := m.clock
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}

	if delay > 0 {
		select {
		case <-clock.After(delay):
		case <-ctx.Done():
			var zero Resp
			return zero, ctx.Err()
		}
	}

	return result.Resp, result.Err
}

// CallCount returns the number of times Call has been invoked.
func (m *MockTransport[Req, Resp]) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastRequest returns the request from the most recent call.
func (m *MockTransport[Req, Resp]) LastRequest() Req {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequest
}

// CallHistory returns a copy of all recorded calls.
func (m *MockTransport[Req, Resp]) CallHistory() []MockCall[Req] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.maxHistory == 0 {
		return nil
	}
	return slices.Clone(m.callHistory)
}

// Reset clears call tracking and any remaining script.
func (m *MockTransport[Req, Resp]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.lastRequest = *new(Req)
	m.callHistory = nil
	m.script = nil
}

// RecordingInterceptor records every hook point it observes, in order.
type RecordingInterceptor[In, Req, Resp, Out any] struct {
	name   string
	points []callz.HookPoint
	fail   map[callz.HookPoint]error
	mu     sync.Mutex
}

// NewRecordingInterceptor creates a recording interceptor.
func NewRecordingInterceptor[In, Req, Resp, Out any](name string) *RecordingInterceptor[In, Req, Resp, Out] {
	return &RecordingInterceptor[In, Req, Resp, Out]{
		name: name,
		fail: make(map[callz.HookPoint]error),
	}
}

// FailAt makes the interceptor return err the next time point fires.
func (r *RecordingInterceptor[In, Req, Resp, Out]) FailAt(point callz.HookPoint, err error) *RecordingInterceptor[In, Req, Resp, Out] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[point] = err
	return r
}

// Interceptor returns the callz interceptor backed by this recorder.
func (r *RecordingInterceptor[In, Req, Resp, Out]) Interceptor() callz.Interceptor[In, Req, Resp, Out] {
	return callz.Observe(r.name, func(_ context.Context, point callz.HookPoint, _ callz.View[In, Req, Resp, Out]) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.points = append(r.points, point)
		if err, ok := r.fail[point]; ok {
			delete(r.fail, point)
			return err
		}
		return nil
	})
}

// Plugin returns a plugin registering the interceptor.
func (r *RecordingInterceptor[In, Req, Resp, Out]) Plugin() callz.RuntimePlugin[In, Req, Resp, Out] {
	return callz.PluginFunc[In, Req, Resp, Out](func(_ *callz.Config[In, Req, Resp, Out], interceptors *callz.Interceptors[In, Req, Resp, Out]) error {
		interceptors.Register(r.Interceptor())
		return nil
	})
}

// Points returns the observed hook points in firing order.
func (r *RecordingInterceptor[In, Req, Resp, Out]) Points() []callz.HookPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.points)
}

// Count returns how many times point fired.
func (r *RecordingInterceptor[In, Req, Resp, Out]) Count(point callz.HookPoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.points {
		if p == point {
			n++
		}
	}
	return n
}

// ScriptedRetry is a retry strategy that replays fixed decisions.
// Once the retry script is exhausted it answers No.
type ScriptedRetry[In, Req, Resp, Out any] struct {
	initial    callz.ShouldAttempt
	initialErr error
	decisions  []callz.ShouldAttempt
	seen       []int
	mu         sync.Mutex
}

// NewScriptedRetry creates a strategy that makes the initial attempt and
// then answers with decisions in order.
func NewScriptedRetry[In, Req, Resp, Out any](decisions ...callz.ShouldAttempt) *ScriptedRetry[In, Req, Resp, Out] {
	return &ScriptedRetry[In, Req, Resp, Out]{
		initial:   callz.Yes(),
		decisions: decisions,
	}
}

// WithInitial overrides the initial decision.
func (s *ScriptedRetry[In, Req, Resp, Out]) WithInitial(decision callz.ShouldAttempt, err error) *ScriptedRetry[In, Req, Resp, Out] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial = decision
	s.initialErr = err
	return s
}

// ShouldAttemptInitialRequest implements callz.RetryStrategy.
func (s *ScriptedRetry[In, Req, Resp, Out]) ShouldAttemptInitialRequest(context.Context, *callz.Config[In, Req, Resp, Out]) (callz.ShouldAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initial, s.initialErr
}

// ShouldAttemptRetry implements callz.RetryStrategy.
func (s *ScriptedRetry[In, Req, Resp, Out]) ShouldAttemptRetry(_ context.Context, v callz.View[In, Req, Resp, Out], _ *callz.Config[In, Req, Resp, Out]) (callz.ShouldAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, v.Attempt())
	if len(s.decisions) == 0 {
		return callz.No(), nil
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

// Consulted returns the attempt numbers the strategy was asked about.
func (s *ScriptedRetry[In, Req, Resp, Out]) Consulted() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.seen)
}

// Assertion Helpers

// AssertCalled verifies that a mock transport was called exactly n times.
func AssertCalled[Req, Resp any](t *testing.T, mock *MockTransport[Req, Resp], expectedCalls int) {
	t.Helper()
	actualCalls := mock.CallCount()
	if actualCalls != expectedCalls {
		t.Errorf("expected mock transport %s to be called %d times, but was called %d times",
			mock.name, expectedCalls, actualCalls)
	}
}

// AssertNotCalled verifies that a mock transport was never called.
func AssertNotCalled[Req, Resp any](t *testing.T, mock *MockTransport[Req, Resp]) {
	t.Helper()
	AssertCalled(t, mock, 0)
}

// AssertCalledWith verifies the request of the most recent call.
func AssertCalledWith[Req comparable, Resp any](t *testing.T, mock *MockTransport[Req, Resp], expected Req) {
	t.Helper()
	if mock.CallCount() == 0 {
		t.Errorf("expected mock transport %s to be called with %v, but it was never called",
			mock.name, expected)
		return
	}
	if actual := mock.LastRequest(); actual != expected {
		t.Errorf("expected mock transport %s to be called with %v, but was called with %v",
			mock.name, expected, actual)
	}
}

// AssertHookOrder verifies the exact sequence of observed hook points.
func AssertHookOrder[In, Req, Resp, Out any](t *testing.T, rec *RecordingInterceptor[In, Req, Resp, Out], expected []callz.HookPoint) {
	t.Helper()
	actual := rec.Points()
	if !slices.Equal(actual, expected) {
		t.Errorf("hook order mismatch\nexpected: %v\nactual:   %v", expected, actual)
	}
}

// AssertPhase verifies that err is a *callz.Error[Resp] tagged with phase.
func AssertPhase[Resp any](t *testing.T, err error, phase callz.Phase) *callz.Error[Resp] {
	t.Helper()
	var callErr *callz.Error[Resp]
	if !errors.As(err, &callErr) {
		t.Errorf("expected *callz.Error, got %T: %v", err, err)
		return nil
	}
	if callErr.Phase != phase {
		t.Errorf("expected %s phase, got %s (%v)", phase, callErr.Phase, callErr.Err)
	}
	return callErr
}

// ChaosTransport introduces controlled failures and delays for chaos testing.
// It wraps another transport and randomly injects failures based on configured rates.
type ChaosTransport[Req, Resp any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	name         string
	wrapped      callz.Transport[Req, Resp]
	failureRate  float64
	latencyMin   time.Duration
	latencyMax   time.Duration
	timeoutRate  float64
	panicRate    float64
	rng          *mathrand.Rand
	mu           sync.Mutex
	totalCalls   int64
	failedCalls  int64
	timeoutCalls int64
	panicCalls   int64
}

// ErrChaos is returned by ChaosTransport for injected failures.
var ErrChaos = errors.New("chaos transport induced failure")

// ChaosConfig holds configuration for chaos testing.
type ChaosConfig struct {
	FailureRate float64       // Probability of returning an error (0.0 to 1.0)
	LatencyMin  time.Duration // Minimum additional latency to inject
	LatencyMax  time.Duration // Maximum additional latency to inject
	TimeoutRate float64       // Probability of simulating a deadline (0.0 to 1.0)
	PanicRate   float64       // Probability of panicking (0.0 to 1.0)
	Seed        int64         // Random seed for reproducible chaos (0 for random seed)
}

// NewChaosTransport creates a chaos transport that wraps another transport.
func NewChaosTransport[Req, Resp any](name string, wrapped callz.Transport[Req, Resp], config ChaosConfig) *ChaosTransport[Req, Resp] {
	seed := config.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err != nil {
			seed = time.Now().UnixNano()
		} else {
			seed = int64(seedBytes[0])<<56 | int64(seedBytes[1])<<48 | int64(seedBytes[2])<<40 | int64(seedBytes[3])<<32 |
				int64(seedBytes[4])<<24 | int64(seedBytes[5])<<16 | int64(seedBytes[6])<<8 | int64(seedBytes[7])
		}
	}

	return &ChaosTransport[Req, Resp]{
		name:        name,
		wrapped:     wrapped,
		failureRate: config.FailureRate,
		latencyMin:  config.LatencyMin,
		latencyMax:  config.LatencyMax,
		timeoutRate: config.TimeoutRate,
		panicRate:   config.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // G404: Test utility uses weak RNG for deterministic chaos scenarios
	}
}

// Name returns the name of the chaos transport.
func (c *ChaosTransport[Req, Resp]) Name() callz.Name {
	return c.name
}

// Call implements callz.Transport with chaos injection.
func (c *ChaosTransport[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	atomic.AddInt64(&c.totalCalls, 1)

	c.mu.Lock()
	if c.rng.Float64() < c.panicRate {
		c.mu.Unlock()
		atomic.AddInt64(&c.panicCalls, 1)
		panic("chaos transport induced panic")
	}

	var latency time.Duration
	if c.latencyMax > c.latencyMin {
		latency = c.latencyMin + time.Duration(c.rng.Int63n(int64(c.latencyMax-c.latencyMin)))
	} else if c.latencyMin > 0 {
		latency = c.latencyMin
	}
	simulateTimeout := c.rng.Float64() < c.timeoutRate
	injectFailure := c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	if simulateTimeout {
		atomic.AddInt64(&c.timeoutCalls, 1)
		return zero, context.DeadlineExceeded
	}

	resp, err := c.wrapped.Call(ctx, req)
	if injectFailure && err == nil {
		atomic.AddInt64(&c.failedCalls, 1)
		return zero, ErrChaos
	}
	return resp, err
}

// Stats returns statistics about chaos injection.
func (c *ChaosTransport[Req, Resp]) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:   atomic.LoadInt64(&c.totalCalls),
		FailedCalls:  atomic.LoadInt64(&c.failedCalls),
		TimeoutCalls: atomic.LoadInt64(&c.timeoutCalls),
		PanicCalls:   atomic.LoadInt64(&c.panicCalls),
	}
}

// ChaosStats holds statistics about chaos injection.
type ChaosStats struct {
	TotalCalls   int64
	FailedCalls  int64
	TimeoutCalls int64
	PanicCalls   int64
}

// FailureRate returns the actual failure rate observed.
func (s ChaosStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// TimeoutRate returns the actual timeout rate observed.
func (s ChaosStats) TimeoutRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.TimeoutCalls) / float64(s.TotalCalls)
}

// String returns a human-readable representation of the stats.
func (s ChaosStats) String() string {
	return fmt.Sprintf("ChaosStats{Total: %d, Failed: %d (%.1f%%), Timeouts: %d (%.1f%%), Panics: %d}",
		s.TotalCalls, s.FailedCalls, s.FailureRate()*100,
		s.TimeoutCalls, s.TimeoutRate()*100, s.PanicCalls)
}

// Helper Functions

// WaitForCalls waits for a mock transport to be called at least n times,
// with a timeout. Returns true if the expected calls were reached.
func WaitForCalls[Req, Resp any](mock *MockTransport[Req, Resp], expectedCalls int, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if mock.CallCount() >= expectedCalls {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// ParallelTest runs a test function in parallel with multiple goroutines.
// Useful for checking that concurrent invocations stay independent.
func ParallelTest(t *testing.T, goroutines int, testFunc func(int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}
	wg.Wait()
}

// MeasureLatency measures the latency of a function call.
func MeasureLatency(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}
