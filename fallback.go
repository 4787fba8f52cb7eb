package callz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// ErrNoServices is returned by a Fallback with no services configured.
var ErrNoServices = errors.New("fallback has no services")

// Observability constants for the Fallback transport layer.
const (
	FallbackCallsTotal    = metricz.Key("fallback.calls.total")
	FallbackFailoverTotal = metricz.Key("fallback.failover.total")
	FallbackFailedTotal   = metricz.Key("fallback.failed.total")

	FallbackEventFailover = hookz.Key("fallback.failover")
	FallbackEventFailed   = hookz.Key("fallback.failed")
)

// FallbackEvent describes a failover from one service to the next, or a call
// on which every service failed.
type FallbackEvent struct {
	Name      Name
	Index     int   // Index of the service that failed
	Error     error // Error from that service
	Timestamp time.Time
}

// Fallback is a Transport layer that tries services in order within a single
// attempt, returning the first success.
//
// Unlike the retry strategy, which re-runs the whole attempt pipeline against
// the same transport, Fallback switches endpoints inside the dispatch step.
// When every service fails the last error is returned and the attempt fails
// in the dispatch phase.
//
// Example:
//
//	transport := callz.NewFallback("objects", primaryRegion, secondaryRegion)
type Fallback[Req, Resp any] struct {
	services []Service[Req, Resp]
	metrics  *metricz.Registry
	hooks    *hookz.Hooks[FallbackEvent]
	name     Name
	mu       sync.RWMutex
}

// NewFallback creates a Fallback over services in priority order.
func NewFallback[Req, Resp any](name Name, services ...Service[Req, Resp]) *Fallback[Req, Resp] {
	metrics := metricz.New()
	metrics.Counter(FallbackCallsTotal)
	metrics.Counter(FallbackFailoverTotal)
	metrics.Counter(FallbackFailedTotal)

	return &Fallback[Req, Resp]{
		name:     name,
		services: append([]Service[Req, Resp](nil), services...),
		metrics:  metrics,
		hooks:    hookz.New[FallbackEvent](),
	}
}

// FallbackLayer returns a Layer that puts the wrapped service first and the
// given services after it.
func FallbackLayer[Req, Resp any](name Name, fallbacks ...Service[Req, Resp]) LayerFunc[Service[Req, Resp], *Fallback[Req, Resp]] {
	return func(primary Service[Req, Resp]) *Fallback[Req, Resp] {
		return NewFallback(name, append([]Service[Req, Resp]{primary}, fallbacks...)...)
	}
}

// Call implements Service.
func (f *Fallback[Req, Resp]) Call(ctx context.Context, req Req) (resp Resp, err error) {
	defer recoverStep(&err)

	f.mu.RLock()
	services := make([]Service[Req, Resp], len(f.services))
	copy(services, f.services)
	f.mu.RUnlock()

	f.metrics.Counter(FallbackCallsTotal).Inc()

	if len(services) == 0 {
		var zero Resp
		return zero, fmt.Errorf("%s: %w", f.name, ErrNoServices)
	}

	var lastErr error
	for i, svc := range services {
		if ctxErr := ctx.Err(); ctxErr != nil {
			var zero Resp
			return zero, ctxErr
		}
		resp, err = svc.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if i < len(services)-1 {
			f.metrics.Counter(FallbackFailoverTotal).Inc()
			_ = f.hooks.Emit(ctx, FallbackEventFailover, FallbackEvent{ //nolint:errcheck
				Name:      f.name,
				Index:     i,
				Error:     err,
				Timestamp: time.Now(),
			})
		}
	}

	f.metrics.Counter(FallbackFailedTotal).Inc()
	_ = f.hooks.Emit(ctx, FallbackEventFailed, FallbackEvent{ //nolint:errcheck
		Name:      f.name,
		Index:     len(services) - 1,
		Error:     lastErr,
		Timestamp: time.Now(),
	})

	var zero Resp
	return zero, lastErr
}

// SetServices replaces all services.
func (f *Fallback[Req, Resp]) SetServices(services ...Service[Req, Resp]) *Fallback[Req, Resp] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = append([]Service[Req, Resp](nil), services...)
	return f
}

// AddFallback appends a service to the end of the chain.
func (f *Fallback[Req, Resp]) AddFallback(svc Service[Req, Resp]) *Fallback[Req, Resp] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = append(f.services, svc)
	return f
}

// Len returns the number of services in the chain.
func (f *Fallback[Req, Resp]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.services)
}

// Name returns the name of this fallback.
func (f *Fallback[Req, Resp]) Name() Name {
	return f.name
}

// Metrics returns the metrics registry for this fallback.
func (f *Fallback[Req, Resp]) Metrics() *metricz.Registry {
	return f.metrics
}

// OnFailover registers a handler called asynchronously each time a service
// fails and the next one is tried.
func (f *Fallback[Req, Resp]) OnFailover(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventFailover, handler)
	return err
}

// OnFailed registers a handler called asynchronously when every service
// failed.
func (f *Fallback[Req, Resp]) OnFailed(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventFailed, handler)
	return err
}

// Close gracefully shuts down observability components.
func (f *Fallback[Req, Resp]) Close() error {
	f.hooks.Close()
	return nil
}
