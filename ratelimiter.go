package callz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zoobzio/metricz"
	"golang.org/x/time/rate"
)

// Rate limiter modes.
const (
	RateModeWait = "wait"
	RateModeDrop = "drop"
)

// ErrRateLimited is returned in drop mode when no token is available.
var ErrRateLimited = errors.New("rate limit exceeded")

// Observability constants for the RateLimiter transport layer.
const (
	RateLimiterAllowedTotal = metricz.Key("ratelimiter.allowed.total")
	RateLimiterDroppedTotal = metricz.Key("ratelimiter.dropped.total")
)

// RateLimiter is a Transport layer that paces calls with a token bucket.
//
// In wait mode (the default) Call blocks until a token is available or the
// attempt's context ends, so a waiting call counts against the attempt
// timeout. In drop mode Call fails with ErrRateLimited right away.
//
// Like CircuitBreaker it holds shared state: create one per downstream
// service and reuse it across invocations.
type RateLimiter[Req, Resp any] struct {
	inner   Service[Req, Resp]
	limiter *rate.Limiter
	metrics *metricz.Registry
	name    Name
	mode    string
	mu      sync.RWMutex
}

// NewRateLimiter wraps inner, allowing ratePerSecond sustained calls with
// bursts of up to burst.
func NewRateLimiter[Req, Resp any](name Name, inner Service[Req, Resp], ratePerSecond float64, burst int) *RateLimiter[Req, Resp] {
	metrics := metricz.New()
	metrics.Counter(RateLimiterAllowedTotal)
	metrics.Counter(RateLimiterDroppedTotal)

	return &RateLimiter[Req, Resp]{
		name:    name,
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		metrics: metrics,
		mode:    RateModeWait,
	}
}

// RateLimiterLayer returns a Layer that wraps a service in a new limiter.
func RateLimiterLayer[Req, Resp any](name Name, ratePerSecond float64, burst int) LayerFunc[Service[Req, Resp], *RateLimiter[Req, Resp]] {
	return func(inner Service[Req, Resp]) *RateLimiter[Req, Resp] {
		return NewRateLimiter(name, inner, ratePerSecond, burst)
	}
}

// Call implements Service.
func (r *RateLimiter[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	r.mu.RLock()
	limiter := r.limiter
	mode := r.mode
	r.mu.RUnlock()

	var zero Resp
	switch mode {
	case RateModeDrop:
		if !limiter.Allow() {
			r.metrics.Counter(RateLimiterDroppedTotal).Inc()
			return zero, fmt.Errorf("%s: %w", r.name, ErrRateLimited)
		}
	default:
		if err := limiter.Wait(ctx); err != nil {
			r.metrics.Counter(RateLimiterDroppedTotal).Inc()
			return zero, err
		}
	}

	r.metrics.Counter(RateLimiterAllowedTotal).Inc()
	return r.inner.Call(ctx, req)
}

// SetRate updates the sustained rate in calls per second.
func (r *RateLimiter[Req, Resp]) SetRate(ratePerSecond float64) *RateLimiter[Req, Resp] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
	return r
}

// SetBurst updates the burst capacity.
func (r *RateLimiter[Req, Resp]) SetBurst(burst int) *RateLimiter[Req, Resp] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetBurst(burst)
	return r
}

// SetMode selects RateModeWait or RateModeDrop. Other values are ignored.
func (r *RateLimiter[Req, Resp]) SetMode(mode string) *RateLimiter[Req, Resp] {
	if mode != RateModeWait && mode != RateModeDrop {
		return r
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return r
}

// Mode returns the current mode.
func (r *RateLimiter[Req, Resp]) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Name returns the name of this limiter.
func (r *RateLimiter[Req, Resp]) Name() Name {
	return r.name
}

// Metrics returns the metrics registry for this limiter.
func (r *RateLimiter[Req, Resp]) Metrics() *metricz.Registry {
	return r.metrics
}
