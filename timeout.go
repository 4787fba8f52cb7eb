package callz

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
)

// TimeoutScope selects which configured duration governs a region.
type TimeoutScope uint8

const (
	// ScopeOperation bounds the whole invocation, including every retry.
	ScopeOperation TimeoutScope = iota
	// ScopeAttempt bounds a single attempt.
	ScopeAttempt
)

func (s TimeoutScope) String() string {
	if s == ScopeAttempt {
		return "attempt"
	}
	return "operation"
}

func (s TimeoutScope) description() string {
	if s == ScopeAttempt {
		return "operation attempt timeout (single attempt)"
	}
	return "operation timeout (all attempts including retries)"
}

// TimeoutConfig holds the per-scope deadlines. A zero duration means unset.
type TimeoutConfig struct {
	Operation time.Duration
	Attempt   time.Duration
}

// For returns the duration configured for scope.
func (t TimeoutConfig) For(scope TimeoutScope) (time.Duration, bool) {
	d := t.Operation
	if scope == ScopeAttempt {
		d = t.Attempt
	}
	return d, d > 0
}

// maybeTimeout is either timed (clock + duration) or untimed. The untimed
// variant runs the operation inline with no timer or goroutine.
type maybeTimeout struct {
	clock    clockz.Clock
	duration time.Duration
	scope    TimeoutScope
	timed    bool
}

// resolveTimeout picks the variant for scope. Without a clock no timeout
// applies, whatever durations are configured.
func resolveTimeout(clock clockz.Clock, timeouts TimeoutConfig, scope TimeoutScope) maybeTimeout {
	mt := maybeTimeout{scope: scope}
	if clock == nil {
		return mt
	}
	if d, ok := timeouts.For(scope); ok {
		mt.clock = clock
		mt.duration = d
		mt.timed = true
	}
	return mt
}

type timedResult[T any] struct {
	value T
	err   error
}

// runWithTimeout races op against the resolved deadline. When the deadline
// wins, op's context is canceled and a *TimeoutError is returned. Cancellation
// of the parent context is reported as the parent's error.
func runWithTimeout[T any](ctx context.Context, mt maybeTimeout, op func(context.Context) (T, error)) (T, error) {
	if !mt.timed {
		return op(ctx)
	}

	timedCtx, cancel := mt.clock.WithTimeout(ctx, mt.duration)
	defer cancel()

	done := make(chan timedResult[T], 1)
	go func() {
		var r timedResult[T]
		defer func() {
			if rec := recover(); rec != nil {
				r.err = fmt.Errorf("%w: %v", ErrPanic, rec)
			}
			done <- r
		}()
		r.value, r.err = op(timedCtx)
	}()

	select {
	case r := <-done:
		if r.err != nil && timedCtx.Err() != nil && ctx.Err() == nil {
			// op gave up because our deadline fired
			return r.value, &TimeoutError{Scope: mt.scope, Duration: mt.duration}
		}
		return r.value, r.err
	case <-timedCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &TimeoutError{Scope: mt.scope, Duration: mt.duration}
	}
}
