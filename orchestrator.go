package callz

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Orchestrator.
const (
	// Metrics.
	InvokeProcessedTotal = metricz.Key("invoke.processed.total")
	InvokeSuccessesTotal = metricz.Key("invoke.successes.total")
	InvokeFailuresTotal  = metricz.Key("invoke.failures.total")
	InvokeAttemptsTotal  = metricz.Key("invoke.attempts.total")
	InvokeTimeoutsTotal  = metricz.Key("invoke.timeouts.total")
	InvokeDurationMs     = metricz.Key("invoke.duration.ms")

	// Spans.
	InvokeProcessSpan = tracez.Key("invoke.process")
	InvokeAttemptSpan = tracez.Key("invoke.attempt")

	// Tags.
	InvokeTagInvocationID = tracez.Tag("invoke.invocation_id")
	InvokeTagAttempt      = tracez.Tag("invoke.attempt")
	InvokeTagPhase        = tracez.Tag("invoke.phase")
	InvokeTagSuccess      = tracez.Tag("invoke.success")
	InvokeTagError        = tracez.Tag("invoke.error")

	// Hook event keys.
	InvokeEventAttemptComplete = hookz.Key("invoke.attempt_complete")
	InvokeEventComplete        = hookz.Key("invoke.complete")
	InvokeEventFailed          = hookz.Key("invoke.failed")
)

// InvocationEvent represents an invocation lifecycle event.
// It is emitted via hookz after every attempt and once when the invocation
// completes or fails.
type InvocationEvent struct {
	Name         Name          // Orchestrator name
	InvocationID string        // Shared by every attempt of the invocation
	Attempt      int           // Attempt number, or attempts made for complete/failed
	Phase        Phase         // Phase of the failure, if any
	Success      bool          // Whether the attempt or invocation succeeded
	Timeout      bool          // Whether a deadline caused the failure
	Error        error         // Error if it failed
	Duration     time.Duration // How long the attempt or invocation took
	Timestamp    time.Time     // When the event occurred
}

// Orchestrator drives invocations through the fixed client pipeline.
//
// Each call to Invoke builds a fresh Config and interceptor registry from the
// orchestrator's RuntimePlugins, serializes the input once, then runs the
// attempt pipeline under the retry strategy until it declines another attempt.
// An Orchestrator is safe for concurrent use; invocations share nothing but
// the plugin set and the observability components.
//
// # Observability
//
// Metrics:
//   - invoke.processed.total: Counter of invocations
//   - invoke.successes.total: Counter of successful invocations
//   - invoke.failures.total: Counter of failed invocations
//   - invoke.attempts.total: Counter of attempts across all invocations
//   - invoke.timeouts.total: Counter of attempt and operation timeouts
//   - invoke.duration.ms: Gauge of the last invocation's duration
//
// Traces:
//   - invoke.process: Parent span for the whole invocation
//   - invoke.attempt: Child span for each attempt
//
// Events (via hooks):
//   - invoke.attempt_complete: Fired after each attempt
//   - invoke.complete: Fired when an invocation succeeds
//   - invoke.failed: Fired when an invocation fails
//
// Example:
//
//	orch := callz.NewOrchestrator("put-item", plugins)
//	defer orch.Close()
//
//	orch.OnFailure(func(ctx context.Context, event callz.InvocationEvent) error {
//	    log.Printf("%s failed in %s after %d attempt(s): %v",
//	        event.InvocationID, event.Phase, event.Attempt, event.Error)
//	    return nil
//	})
//
//	out, err := orch.Invoke(ctx, input)
type Orchestrator[In, Req, Resp, Out any] struct {
	plugins *RuntimePlugins[In, Req, Resp, Out]
	clock   clockz.Clock
	name    Name
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[InvocationEvent]
}

// NewOrchestrator creates an Orchestrator applying plugins to every invocation.
func NewOrchestrator[In, Req, Resp, Out any](name Name, plugins *RuntimePlugins[In, Req, Resp, Out]) *Orchestrator[In, Req, Resp, Out] {
	metrics := metricz.New()
	metrics.Counter(InvokeProcessedTotal)
	metrics.Counter(InvokeSuccessesTotal)
	metrics.Counter(InvokeFailuresTotal)
	metrics.Counter(InvokeAttemptsTotal)
	metrics.Counter(InvokeTimeoutsTotal)
	metrics.Gauge(InvokeDurationMs)

	if plugins == nil {
		plugins = NewRuntimePlugins[In, Req, Resp, Out]()
	}
	return &Orchestrator[In, Req, Resp, Out]{
		plugins: plugins,
		name:    name,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[InvocationEvent](),
	}
}

// Invoke runs a single invocation with a throwaway Orchestrator.
func Invoke[In, Req, Resp, Out any](ctx context.Context, input In, plugins *RuntimePlugins[In, Req, Resp, Out]) (Out, error) {
	o := NewOrchestrator("invoke", plugins)
	defer o.Close()
	return o.Invoke(ctx, input)
}

// Invoke drives input through the pipeline and returns the deserialized
// output. Failures are returned as *Error[Resp].
func (o *Orchestrator[In, Req, Resp, Out]) Invoke(ctx context.Context, input In) (result Out, err error) {
	o.mu.RLock()
	plugins := o.plugins
	clock := o.clock
	o.mu.RUnlock()

	o.metrics.Counter(InvokeProcessedTotal).Inc()
	start := time.Now()

	inv := &invocation[In, Req, Resp, Out]{
		o:            o,
		ic:           NewContext[Req, Resp, Out](input),
		cfg:          &Config[In, Req, Resp, Out]{Clock: clock},
		interceptors: NewInterceptors[In, Req, Resp, Out](),
	}
	id := inv.ic.ID()

	ctx, span := o.tracer.StartSpan(ctx, InvokeProcessSpan)
	span.SetTag(InvokeTagInvocationID, id)
	defer func() {
		elapsed := time.Since(start)
		o.metrics.Gauge(InvokeDurationMs).Set(float64(elapsed.Milliseconds()))

		event := InvocationEvent{
			Name:         o.name,
			InvocationID: id,
			Attempt:      inv.attemptCount(),
			Success:      err == nil,
			Error:        err,
			Duration:     elapsed,
			Timestamp:    time.Now(),
		}
		span.SetTag(InvokeTagAttempt, strconv.Itoa(event.Attempt))
		if err == nil {
			span.SetTag(InvokeTagSuccess, "true")
			o.metrics.Counter(InvokeSuccessesTotal).Inc()
			_ = o.hooks.Emit(ctx, InvokeEventComplete, event) //nolint:errcheck
		} else {
			var callErr *Error[Resp]
			if errors.As(err, &callErr) {
				callErr.Duration = elapsed
				event.Phase = callErr.Phase
				event.Timeout = callErr.IsTimeout()
				span.SetTag(InvokeTagPhase, callErr.Phase.String())
			}
			span.SetTag(InvokeTagSuccess, "false")
			span.SetTag(InvokeTagError, err.Error())
			o.metrics.Counter(InvokeFailuresTotal).Inc()
			_ = o.hooks.Emit(ctx, InvokeEventFailed, event) //nolint:errcheck
		}
		span.Finish()
	}()

	return inv.run(ctx, plugins)
}

// Name returns the name of this orchestrator.
func (o *Orchestrator[In, Req, Resp, Out]) Name() Name {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

// WithClock sets the default sleep provider for invocations. Plugins may still
// replace it. Without a clock no timeout applies.
func (o *Orchestrator[In, Req, Resp, Out]) WithClock(clock clockz.Clock) *Orchestrator[In, Req, Resp, Out] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clock = clock
	return o
}

// Plugins returns the plugin set applied to every invocation.
func (o *Orchestrator[In, Req, Resp, Out]) Plugins() *RuntimePlugins[In, Req, Resp, Out] {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.plugins
}

// Metrics returns the metrics registry for this orchestrator.
func (o *Orchestrator[In, Req, Resp, Out]) Metrics() *metricz.Registry {
	return o.metrics
}

// Tracer returns the tracer for this orchestrator.
func (o *Orchestrator[In, Req, Resp, Out]) Tracer() *tracez.Tracer {
	return o.tracer
}

// Close gracefully shuts down observability components.
func (o *Orchestrator[In, Req, Resp, Out]) Close() error {
	if o.tracer != nil {
		o.tracer.Close()
	}
	o.hooks.Close()
	return nil
}

// OnAttempt registers a handler called asynchronously after every attempt.
func (o *Orchestrator[In, Req, Resp, Out]) OnAttempt(handler func(context.Context, InvocationEvent) error) error {
	_, err := o.hooks.Hook(InvokeEventAttemptComplete, handler)
	return err
}

// OnComplete registers a handler called asynchronously when an invocation
// succeeds.
func (o *Orchestrator[In, Req, Resp, Out]) OnComplete(handler func(context.Context, InvocationEvent) error) error {
	_, err := o.hooks.Hook(InvokeEventComplete, handler)
	return err
}

// OnFailure registers a handler called asynchronously when an invocation
// fails, whatever the phase.
func (o *Orchestrator[In, Req, Resp, Out]) OnFailure(handler func(context.Context, InvocationEvent) error) error {
	_, err := o.hooks.Hook(InvokeEventFailed, handler)
	return err
}

// invocation is the state of one Invoke call.
type invocation[In, Req, Resp, Out any] struct {
	o            *Orchestrator[In, Req, Resp, Out]
	ic           *Context[In, Req, Resp, Out]
	cfg          *Config[In, Req, Resp, Out]
	interceptors *Interceptors[In, Req, Resp, Out]
	template     Req
	hasTemplate  bool
	templateUsed bool

	// attempts mirrors ic.attempt for readers outside the invocation goroutine.
	attempts atomic.Int64
}

func (inv *invocation[In, Req, Resp, Out]) attemptCount() int {
	return int(inv.attempts.Load())
}

func (inv *invocation[In, Req, Resp, Out]) run(ctx context.Context, plugins *RuntimePlugins[In, Req, Resp, Out]) (Out, error) {
	var zero Out
	cfg, interceptors := inv.cfg, inv.interceptors

	_, err := enterPhase(ctx, PhaseConstruction, inv.ic).
		include(func(context.Context, View[In, Req, Resp, Out]) error {
			return plugins.applyClient(cfg, interceptors)
		}).
		include(interceptors.readStep(ClientReadBeforeExecution, cfg)).
		include(func(context.Context, View[In, Req, Resp, Out]) error {
			return plugins.applyOperation(cfg, interceptors)
		}).
		include(interceptors.readStep(OperationReadBeforeExecution, cfg)).
		include(func(context.Context, View[In, Req, Resp, Out]) error {
			return cfg.validate()
		}).
		finish()
	if err != nil {
		return zero, err
	}

	id := inv.ic.ID()
	out, err := runWithTimeout(ctx, resolveTimeout(cfg.Clock, cfg.Timeouts, ScopeOperation), inv.postConfig)
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) && te.Scope == ScopeOperation {
			inv.o.metrics.Counter(InvokeTimeoutsTotal).Inc()
			return zero, &Error[Resp]{
				Timestamp:    time.Now(),
				Err:          te,
				InvocationID: id,
				Attempt:      inv.attemptCount(),
				Phase:        PhaseResponseHandling,
				Timeout:      true,
			}
		}
		return zero, err
	}
	return out, nil
}

// postConfig serializes the input, runs the retry loop and finalizes. It runs
// under the operation timeout.
func (inv *invocation[In, Req, Resp, Out]) postConfig(ctx context.Context) (Out, error) {
	var zero Out
	cfg, interceptors := inv.cfg, inv.interceptors

	ic, err := enterPhase(ctx, PhaseConstruction, inv.ic).
		include(interceptors.readStep(ReadBeforeSerialization, cfg)).
		includeMut(interceptors.mutateStep(ModifyBeforeSerialization, cfg)).
		includeMut(func(ctx context.Context, c *Context[In, Req, Resp, Out]) error {
			in, ok := c.takeInput()
			if !ok {
				return ErrMissingInput
			}
			req, err := cfg.Serializer.Serialize(ctx, in)
			if err != nil {
				return err
			}
			c.SetRequest(req)
			return nil
		}).
		include(interceptors.readStep(ReadAfterSerialization, cfg)).
		includeMut(interceptors.mutateStep(ModifyBeforeRetryLoop, cfg)).
		finish()
	if err != nil {
		return zero, err
	}
	inv.ic = ic
	inv.template, inv.hasTemplate = ic.takeRequest()

	if err := inv.initialDecision(ctx); err != nil {
		return zero, err
	}
	if err := inv.retryLoop(ctx); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, tagError(PhaseResponseHandling, inv.ic, err)
	}

	flushDiagnostics(cfg.Diagnostics)

	ic, err = enterPhase(ctx, PhaseResponseHandling, inv.ic).
		includeMut(interceptors.mutateStep(ModifyBeforeCompletion, cfg)).
		include(interceptors.readStep(ReadAfterExecution, cfg)).
		finish()
	if err != nil {
		return zero, err
	}
	return finalize(ctx, ic)
}

func (inv *invocation[In, Req, Resp, Out]) initialDecision(ctx context.Context) error {
	chain := enterPhase(ctx, PhaseDispatch, inv.ic)
	decision, err := decide(func() (ShouldAttempt, error) {
		return inv.cfg.RetryStrategy.ShouldAttemptInitialRequest(ctx, inv.cfg)
	})
	if err != nil {
		return chain.fail(err)
	}
	inv.recordDecision(decision)
	if decision.IsNo() {
		return chain.fail(ErrInitialAttemptDeclined)
	}
	if err := inv.await(ctx, decision); err != nil {
		return chain.fail(err)
	}
	return nil
}

func (inv *invocation[In, Req, Resp, Out]) retryLoop(ctx context.Context) error {
	cfg, interceptors := inv.cfg, inv.interceptors
	for {
		if err := ctx.Err(); err != nil {
			return tagError(PhaseDispatch, inv.ic, err)
		}
		if err := inv.attempt(ctx); err != nil {
			return err
		}

		ic, err := enterPhase(ctx, PhaseResponseHandling, inv.ic).
			include(interceptors.readStep(ReadAfterAttempt, cfg)).
			includeMut(interceptors.mutateStep(ModifyBeforeAttemptCompletion, cfg)).
			finish()
		if err != nil {
			return err
		}
		inv.ic = ic

		chain := enterPhase(ctx, PhaseResponseHandling, ic)
		decision, err := decide(func() (ShouldAttempt, error) {
			return cfg.RetryStrategy.ShouldAttemptRetry(ctx, ic.view(), cfg)
		})
		if err != nil {
			return chain.fail(err)
		}
		inv.recordDecision(decision)
		if decision.IsNo() {
			return nil
		}
		if err := inv.await(ctx, decision); err != nil {
			return chain.fail(err)
		}
	}
}

// attempt runs one attempt under the attempt timeout and leaves its outcome
// on inv.ic. Only cancellation of the invocation itself is returned.
func (inv *invocation[In, Req, Resp, Out]) attempt(ctx context.Context) error {
	o, cfg := inv.o, inv.cfg
	ic := inv.ic

	ic.attempt++
	inv.attempts.Add(1)
	o.metrics.Counter(InvokeAttemptsTotal).Inc()
	start := time.Now()

	attemptCtx, span := o.tracer.StartSpan(ctx, InvokeAttemptSpan)
	span.SetTag(InvokeTagInvocationID, ic.ID())
	span.SetTag(InvokeTagAttempt, strconv.Itoa(ic.attempt))
	defer span.Finish()

	req, err := inv.nextRequest(ic)
	if err != nil {
		ic.reset()
		ic.SetError(tagError(PhaseDispatch, ic, err))
	} else {
		ic.SetRequest(req)
		fork := ic.fork()
		work, err := runWithTimeout(attemptCtx, resolveTimeout(cfg.Clock, cfg.Timeouts, ScopeAttempt),
			func(ctx context.Context) (*Context[In, Req, Resp, Out], error) {
				w, err := makeAnAttempt(ctx, fork, cfg, inv.interceptors)
				if err != nil {
					w.SetError(err)
				}
				return w, ctx.Err()
			})

		var te *TimeoutError
		switch {
		case errors.As(err, &te):
			o.metrics.Counter(InvokeTimeoutsTotal).Inc()
			ic.SetError(tagError(PhaseDispatch, ic, te))
		case err != nil:
			tagged := tagError(PhaseDispatch, ic, err)
			span.SetTag(InvokeTagSuccess, "false")
			span.SetTag(InvokeTagError, tagged.Error())
			return tagged
		default:
			ic = work
			inv.ic = work
		}
	}

	elapsed := time.Since(start)
	outcome := ic.OutcomeErr()
	event := InvocationEvent{
		Name:         o.name,
		InvocationID: ic.ID(),
		Attempt:      ic.attempt,
		Success:      outcome == nil,
		Error:        outcome,
		Duration:     elapsed,
		Timestamp:    time.Now(),
	}
	if outcome == nil {
		span.SetTag(InvokeTagSuccess, "true")
	} else {
		var callErr *Error[Resp]
		if errors.As(outcome, &callErr) {
			event.Phase = callErr.Phase
			event.Timeout = callErr.IsTimeout()
			span.SetTag(InvokeTagPhase, callErr.Phase.String())
		}
		span.SetTag(InvokeTagSuccess, "false")
		span.SetTag(InvokeTagError, outcome.Error())
	}
	_ = o.hooks.Emit(ctx, InvokeEventAttemptComplete, event) //nolint:errcheck

	recordEvent(cfg.Diagnostics, DiagnosticEvent{
		Time:         event.Timestamp,
		InvocationID: event.InvocationID,
		Attempt:      event.Attempt,
		Kind:         EventAttempt,
		Phase:        event.Phase,
		Duration:     elapsed,
		Err:          outcome,
	})
	return nil
}

// nextRequest picks the request for the coming attempt: one handed over
// through SetRetryRequest, a clone of the serialized request, or the
// serialized request itself if no attempt has used it yet.
func (inv *invocation[In, Req, Resp, Out]) nextRequest(ic *Context[In, Req, Resp, Out]) (Req, error) {
	if req, ok := ic.takeRetryRequest(); ok {
		return req, nil
	}
	if inv.hasTemplate {
		if c, ok := any(inv.template).(Cloner[Req]); ok {
			return c.Clone(), nil
		}
		if !inv.templateUsed {
			inv.templateUsed = true
			return inv.template, nil
		}
	}
	var zero Req
	return zero, ErrRequestConsumed
}

// await waits out a YesAfterDelay decision if delays are enabled.
func (inv *invocation[In, Req, Resp, Out]) await(ctx context.Context, decision ShouldAttempt) error {
	d, delayed := decision.Delay()
	if !delayed {
		return nil
	}
	if !inv.cfg.HonorRetryDelay {
		return ErrDelayUnsupported
	}
	recordEvent(inv.cfg.Diagnostics, DiagnosticEvent{
		Time:         time.Now(),
		InvocationID: inv.ic.ID(),
		Attempt:      inv.ic.Attempt(),
		Kind:         EventRetryDelay,
		Duration:     d,
	})
	if d <= 0 {
		return nil
	}
	select {
	case <-inv.cfg.delayClock().After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (inv *invocation[In, Req, Resp, Out]) recordDecision(decision ShouldAttempt) {
	recordEvent(inv.cfg.Diagnostics, DiagnosticEvent{
		Time:         time.Now(),
		InvocationID: inv.ic.ID(),
		Attempt:      inv.ic.Attempt(),
		Kind:         EventRetryDecision,
		Decision:     decision.String(),
	})
}

// decide calls a retry strategy, converting panics into errors.
func decide(fn func() (ShouldAttempt, error)) (decision ShouldAttempt, err error) {
	defer recoverStep(&err)
	return fn()
}

// finalize turns the Context's outcome into the invocation result.
func finalize[In, Req, Resp, Out any](ctx context.Context, ic *Context[In, Req, Resp, Out]) (Out, error) {
	var zero Out
	if out, ok := ic.Output(); ok {
		return out, nil
	}
	chain := enterPhase(ctx, PhaseResponseHandling, ic)
	if err := ic.OutcomeErr(); err != nil {
		return zero, chain.fail(err)
	}
	return zero, chain.fail(ErrMissingOutcome)
}
