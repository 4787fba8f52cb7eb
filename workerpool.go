package callz

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the WorkerPool transport layer.
const (
	// Metrics.
	WorkerPoolCallsTotal     = metricz.Key("workerpool.calls.total")
	WorkerPoolSuccessesTotal = metricz.Key("workerpool.successes.total")
	WorkerPoolWorkersMax     = metricz.Key("workerpool.workers.max")
	WorkerPoolWorkersActive  = metricz.Key("workerpool.workers.active")
	WorkerPoolQueueWaitMs    = metricz.Key("workerpool.queue.wait.ms")

	// Spans.
	WorkerPoolCallSpan = tracez.Key("workerpool.call")

	// Tags.
	WorkerPoolTagWorkerCount = tracez.Tag("workerpool.worker_count")
	WorkerPoolTagQueueWait   = tracez.Tag("workerpool.queue_wait")
	WorkerPoolTagSuccess     = tracez.Tag("workerpool.success")
	WorkerPoolTagError       = tracez.Tag("workerpool.error")

	// Hook event keys.
	WorkerPoolEventStarted  = hookz.Key("workerpool.started")
	WorkerPoolEventComplete = hookz.Key("workerpool.complete")
)

// WorkerPoolEvent describes a call acquiring or releasing a worker slot.
type WorkerPoolEvent struct {
	Name          Name
	Error         error
	Timestamp     time.Time
	WorkerCount   int
	ActiveWorkers int
	QueueWaitTime time.Duration // Time spent waiting for a slot
	Duration      time.Duration // Time spent in the wrapped service
	Success       bool
}

// WorkerPool is a Transport layer that bounds the number of concurrent calls
// to a service. Calls beyond the limit wait for a slot until their context
// ends, so time spent queued counts against the attempt timeout.
//
// Share one pool across invocations to cap load on a downstream service.
type WorkerPool[Req, Resp any] struct {
	inner   Service[Req, Resp]
	sem     chan struct{}
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[WorkerPoolEvent]
	name    Name
	mu      sync.RWMutex
}

// NewWorkerPool wraps inner allowing at most workers concurrent calls.
func NewWorkerPool[Req, Resp any](name Name, inner Service[Req, Resp], workers int) *WorkerPool[Req, Resp] {
	if workers <= 0 {
		workers = 1
	}

	metrics := metricz.New()
	metrics.Counter(WorkerPoolCallsTotal)
	metrics.Counter(WorkerPoolSuccessesTotal)
	metrics.Gauge(WorkerPoolWorkersMax).Set(float64(workers))
	metrics.Gauge(WorkerPoolWorkersActive)
	metrics.Gauge(WorkerPoolQueueWaitMs)

	return &WorkerPool[Req, Resp]{
		name:    name,
		inner:   inner,
		sem:     make(chan struct{}, workers),
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[WorkerPoolEvent](),
	}
}

// WorkerPoolLayer returns a Layer that wraps a service in a new pool.
func WorkerPoolLayer[Req, Resp any](name Name, workers int) LayerFunc[Service[Req, Resp], *WorkerPool[Req, Resp]] {
	return func(inner Service[Req, Resp]) *WorkerPool[Req, Resp] {
		return NewWorkerPool(name, inner, workers)
	}
}

// Call implements Service.
func (w *WorkerPool[Req, Resp]) Call(ctx context.Context, req Req) (resp Resp, err error) {
	defer recoverStep(&err)

	w.mu.RLock()
	clock := w.clock
	w.mu.RUnlock()

	w.metrics.Counter(WorkerPoolCallsTotal).Inc()

	ctx, span := w.tracer.StartSpan(ctx, WorkerPoolCallSpan)
	span.SetTag(WorkerPoolTagWorkerCount, strconv.Itoa(cap(w.sem)))
	defer func() {
		if err == nil {
			span.SetTag(WorkerPoolTagSuccess, "true")
			w.metrics.Counter(WorkerPoolSuccessesTotal).Inc()
		} else {
			span.SetTag(WorkerPoolTagSuccess, "false")
			span.SetTag(WorkerPoolTagError, err.Error())
		}
		span.Finish()
	}()

	queueStart := clock.Now()
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
	defer func() {
		<-w.sem
		w.metrics.Gauge(WorkerPoolWorkersActive).Set(float64(len(w.sem)))
	}()

	queueWait := clock.Since(queueStart)
	w.metrics.Gauge(WorkerPoolQueueWaitMs).Set(float64(queueWait.Milliseconds()))
	w.metrics.Gauge(WorkerPoolWorkersActive).Set(float64(len(w.sem)))
	span.SetTag(WorkerPoolTagQueueWait, queueWait.String())

	_ = w.hooks.Emit(ctx, WorkerPoolEventStarted, WorkerPoolEvent{ //nolint:errcheck
		Name:          w.name,
		WorkerCount:   cap(w.sem),
		ActiveWorkers: len(w.sem),
		QueueWaitTime: queueWait,
		Timestamp:     clock.Now(),
	})

	callStart := clock.Now()
	resp, err = w.inner.Call(ctx, req)

	_ = w.hooks.Emit(ctx, WorkerPoolEventComplete, WorkerPoolEvent{ //nolint:errcheck
		Name:          w.name,
		WorkerCount:   cap(w.sem),
		ActiveWorkers: len(w.sem) - 1,
		Success:       err == nil,
		Error:         err,
		Duration:      clock.Since(callStart),
		Timestamp:     clock.Now(),
	})
	return resp, err
}

// Workers returns the maximum number of concurrent calls.
func (w *WorkerPool[Req, Resp]) Workers() int {
	return cap(w.sem)
}

// Active returns the number of calls currently holding a slot.
func (w *WorkerPool[Req, Resp]) Active() int {
	return len(w.sem)
}

// WithClock sets a custom clock for testing.
func (w *WorkerPool[Req, Resp]) WithClock(clock clockz.Clock) *WorkerPool[Req, Resp] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock = clock
	return w
}

// Name returns the name of this pool.
func (w *WorkerPool[Req, Resp]) Name() Name {
	return w.name
}

// Metrics returns the metrics registry for this pool.
func (w *WorkerPool[Req, Resp]) Metrics() *metricz.Registry {
	return w.metrics
}

// Tracer returns the tracer for this pool.
func (w *WorkerPool[Req, Resp]) Tracer() *tracez.Tracer {
	return w.tracer
}

// OnStarted registers a handler called asynchronously when a call acquires
// a slot.
func (w *WorkerPool[Req, Resp]) OnStarted(handler func(context.Context, WorkerPoolEvent) error) error {
	_, err := w.hooks.Hook(WorkerPoolEventStarted, handler)
	return err
}

// OnComplete registers a handler called asynchronously when a call returns.
func (w *WorkerPool[Req, Resp]) OnComplete(handler func(context.Context, WorkerPoolEvent) error) error {
	_, err := w.hooks.Hook(WorkerPoolEventComplete, handler)
	return err
}

// Close gracefully shuts down observability components.
func (w *WorkerPool[Req, Resp]) Close() error {
	w.tracer.Close()
	w.hooks.Close()
	return nil
}
