package callz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// ErrCircuitOpen is returned without calling the wrapped service while the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Observability constants for the CircuitBreaker transport layer.
const (
	// Metrics.
	CircuitCallsTotal    = metricz.Key("circuit.calls.total")
	CircuitRejectedTotal = metricz.Key("circuit.rejected.total")
	CircuitFailuresTotal = metricz.Key("circuit.failures.total")
	CircuitOpenedTotal   = metricz.Key("circuit.opened.total")
	CircuitStateGauge    = metricz.Key("circuit.state") // 0 closed, 1 open, 2 half-open

	// Hook event keys.
	CircuitEventOpened   = hookz.Key("circuit.opened")
	CircuitEventHalfOpen = hookz.Key("circuit.half_open")
	CircuitEventClosed   = hookz.Key("circuit.closed")
	CircuitEventRejected = hookz.Key("circuit.rejected")
)

// CircuitEvent describes a circuit state change or rejected call.
type CircuitEvent struct {
	Name       Name      // Breaker name
	State      string    // State after the event
	Failures   int       // Consecutive failures at the time of the event
	Generation int       // Incremented on every half-open probe window and reset
	Timestamp  time.Time // When the event occurred
}

// CircuitBreaker is a Transport layer that stops calling a failing service.
//
// The circuit opens after failureThreshold consecutive failures. Once
// resetTimeout has passed it lets calls through again in the half-open state:
// a success closes it, a failure opens it again. While open, Call returns
// ErrCircuitOpen, which surfaces as a dispatch-phase attempt failure and is
// subject to the retry strategy like any transport error.
//
// A CircuitBreaker tracks failures across invocations, so create it once per
// client and share it, typically from a client-level plugin.
//
// Example:
//
//	breaker := callz.NewCircuitBreaker("objects", httpTransport, 5, 30*time.Second)
//	plugins.WithClientPlugin(callz.PluginFunc[In, Req, Resp, Out](func(cfg *callz.Config[In, Req, Resp, Out], _ *callz.Interceptors[In, Req, Resp, Out]) error {
//	    cfg.Transport = breaker
//	    return nil
//	}))
type CircuitBreaker[Req, Resp any] struct {
	lastFailTime     time.Time
	inner            Service[Req, Resp]
	clock            clockz.Clock
	metrics          *metricz.Registry
	hooks            *hookz.Hooks[CircuitEvent]
	name             Name
	state            string
	mu               sync.Mutex
	resetTimeout     time.Duration
	generation       int
	failureThreshold int
	successThreshold int
	failures         int
	successes        int
}

// NewCircuitBreaker wraps inner with a circuit breaker.
func NewCircuitBreaker[Req, Resp any](name Name, inner Service[Req, Resp], failureThreshold int, resetTimeout time.Duration) *CircuitBreaker[Req, Resp] {
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	metrics := metricz.New()
	metrics.Counter(CircuitCallsTotal)
	metrics.Counter(CircuitRejectedTotal)
	metrics.Counter(CircuitFailuresTotal)
	metrics.Counter(CircuitOpenedTotal)
	metrics.Gauge(CircuitStateGauge)

	return &CircuitBreaker[Req, Resp]{
		name:             name,
		inner:            inner,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		resetTimeout:     resetTimeout,
		state:            CircuitClosed,
		metrics:          metrics,
		hooks:            hookz.New[CircuitEvent](),
	}
}

// CircuitBreakerLayer returns a Layer that wraps a service in a new breaker.
func CircuitBreakerLayer[Req, Resp any](name Name, failureThreshold int, resetTimeout time.Duration) LayerFunc[Service[Req, Resp], *CircuitBreaker[Req, Resp]] {
	return func(inner Service[Req, Resp]) *CircuitBreaker[Req, Resp] {
		return NewCircuitBreaker(name, inner, failureThreshold, resetTimeout)
	}
}

// Call implements Service.
func (cb *CircuitBreaker[Req, Resp]) Call(ctx context.Context, req Req) (resp Resp, err error) {
	defer recoverStep(&err)
	cb.metrics.Counter(CircuitCallsTotal).Inc()

	cb.mu.Lock()
	clock := cb.getClock()
	if cb.state == CircuitOpen && clock.Since(cb.lastFailTime) > cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.failures = 0
		cb.successes = 0
		cb.generation++
		cb.metrics.Gauge(CircuitStateGauge).Set(2)
		cb.emit(ctx, CircuitEventHalfOpen)
	}

	state := cb.state
	generation := cb.generation
	if state == CircuitOpen {
		cb.metrics.Counter(CircuitRejectedTotal).Inc()
		cb.emit(ctx, CircuitEventRejected)
		cb.mu.Unlock()
		var zero Resp
		return zero, ErrCircuitOpen
	}
	cb.mu.Unlock()

	resp, err = cb.inner.Call(ctx, req)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// a reset or probe window started while the call was in flight
	if cb.generation != generation {
		return resp, err
	}

	if err != nil {
		cb.metrics.Counter(CircuitFailuresTotal).Inc()
		cb.onFailure(ctx)
		return resp, err
	}
	cb.onSuccess(ctx)
	return resp, nil
}

func (cb *CircuitBreaker[Req, Resp]) onSuccess(ctx context.Context) {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
			cb.metrics.Gauge(CircuitStateGauge).Set(0)
			cb.emit(ctx, CircuitEventClosed)
		}
	}
}

func (cb *CircuitBreaker[Req, Resp]) onFailure(ctx context.Context) {
	cb.lastFailTime = cb.getClock().Now()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.open(ctx)
		}
	case CircuitHalfOpen:
		cb.failures = 0
		cb.successes = 0
		cb.open(ctx)
	}
}

func (cb *CircuitBreaker[Req, Resp]) open(ctx context.Context) {
	cb.state = CircuitOpen
	cb.metrics.Counter(CircuitOpenedTotal).Inc()
	cb.metrics.Gauge(CircuitStateGauge).Set(1)
	cb.emit(ctx, CircuitEventOpened)
}

// emit must be called with cb.mu held.
func (cb *CircuitBreaker[Req, Resp]) emit(ctx context.Context, key hookz.Key) {
	event := CircuitEvent{
		Name:       cb.name,
		State:      cb.state,
		Failures:   cb.failures,
		Generation: cb.generation,
		Timestamp:  cb.getClock().Now(),
	}
	_ = cb.hooks.Emit(ctx, key, event) //nolint:errcheck
}

// SetSuccessThreshold updates the successes needed to close from half-open.
func (cb *CircuitBreaker[Req, Resp]) SetSuccessThreshold(n int) *CircuitBreaker[Req, Resp] {
	if n < 1 {
		n = 1
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successThreshold = n
	return cb
}

// State returns the current circuit state.
func (cb *CircuitBreaker[Req, Resp]) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.getClock().Since(cb.lastFailTime) > cb.resetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker[Req, Resp]) Reset() *CircuitBreaker[Req, Resp] {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.generation++
	cb.metrics.Gauge(CircuitStateGauge).Set(0)
	return cb
}

// WithClock sets a custom clock for testing.
func (cb *CircuitBreaker[Req, Resp]) WithClock(clock clockz.Clock) *CircuitBreaker[Req, Resp] {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.clock = clock
	return cb
}

func (cb *CircuitBreaker[Req, Resp]) getClock() clockz.Clock {
	if cb.clock == nil {
		return clockz.RealClock
	}
	return cb.clock
}

// Name returns the name of this breaker.
func (cb *CircuitBreaker[Req, Resp]) Name() Name {
	return cb.name
}

// Metrics returns the metrics registry for this breaker.
func (cb *CircuitBreaker[Req, Resp]) Metrics() *metricz.Registry {
	return cb.metrics
}

// OnOpened registers a handler called asynchronously when the circuit opens.
func (cb *CircuitBreaker[Req, Resp]) OnOpened(handler func(context.Context, CircuitEvent) error) error {
	_, err := cb.hooks.Hook(CircuitEventOpened, handler)
	return err
}

// OnHalfOpen registers a handler called asynchronously when a probe window
// starts.
func (cb *CircuitBreaker[Req, Resp]) OnHalfOpen(handler func(context.Context, CircuitEvent) error) error {
	_, err := cb.hooks.Hook(CircuitEventHalfOpen, handler)
	return err
}

// OnClosed registers a handler called asynchronously when the circuit closes
// after recovering.
func (cb *CircuitBreaker[Req, Resp]) OnClosed(handler func(context.Context, CircuitEvent) error) error {
	_, err := cb.hooks.Hook(CircuitEventClosed, handler)
	return err
}

// OnRejected registers a handler called asynchronously for every call
// rejected while open.
func (cb *CircuitBreaker[Req, Resp]) OnRejected(handler func(context.Context, CircuitEvent) error) error {
	_, err := cb.hooks.Hook(CircuitEventRejected, handler)
	return err
}

// Close gracefully shuts down observability components.
func (cb *CircuitBreaker[Req, Resp]) Close() error {
	cb.hooks.Close()
	return nil
}
