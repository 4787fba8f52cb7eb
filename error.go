package callz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Orchestration errors.
var (
	ErrInitialAttemptDeclined = errors.New("retry strategy declined the initial attempt")
	ErrDelayUnsupported       = errors.New("retry strategy requested a delay, which is not enabled")
	ErrRequestConsumed        = errors.New("no request available for attempt")
	ErrMissingInput           = errors.New("input has already been consumed")
	ErrMissingResponse        = errors.New("no response available for deserialization")
	ErrMissingOutcome         = errors.New("invocation finished without an output or error")
	ErrMissingSerializer      = errors.New("no serializer configured")
	ErrMissingDeserializer    = errors.New("no deserializer configured")
	ErrMissingTransport       = errors.New("no transport configured")
	ErrMissingRetryStrategy   = errors.New("no retry strategy configured")
	ErrPanic                  = errors.New("panic recovered")
)

// Error provides rich context about a failed invocation.
// It wraps the root cause with the phase it surfaced in and, for failures
// after a response was received, the raw response.
type Error[Resp any] struct {
	Timestamp    time.Time
	Err          error
	Response     Resp
	InvocationID string
	Duration     time.Duration
	Attempt      int
	Phase        Phase
	HasResponse  bool
	Timeout      bool
	Canceled     bool
}

// Error implements the error interface.
func (e *Error[Resp]) Error() string {
	location := fmt.Sprintf("%s phase (attempt %d)", e.Phase, e.Attempt)
	if e.Timeout {
		return fmt.Sprintf("%s timed out after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error[Resp]) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether an attempt or operation deadline caused the failure.
func (e *Error[Resp]) IsTimeout() bool {
	var te *TimeoutError
	return e.Timeout || errors.As(e.Err, &te) || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether the caller canceled the invocation.
func (e *Error[Resp]) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// TimeoutError is produced when a timeout scope elapses before the wrapped
// operation completes.
type TimeoutError struct {
	Scope    TimeoutScope
	Duration time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s occurred after %v", e.Scope.description(), e.Duration)
}

// HookError reports an interceptor failure at a specific hook point.
type HookError struct {
	Err         error
	Interceptor Name
	Point       HookPoint
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("interceptor %q failed at %s: %v", e.Interceptor, e.Point, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// tagError attaches phase information to cause. An error that is already
// tagged keeps its original phase.
func tagError[In, Req, Resp, Out any](phase Phase, c *Context[In, Req, Resp, Out], cause error) *Error[Resp] {
	if tagged, ok := cause.(*Error[Resp]); ok {
		return tagged
	}
	var te *TimeoutError
	e := &Error[Resp]{
		Timestamp:    time.Now(),
		Err:          cause,
		InvocationID: c.ID(),
		Attempt:      c.Attempt(),
		Phase:        phase,
		Timeout:      errors.As(cause, &te),
		Canceled:     errors.Is(cause, context.Canceled),
	}
	if resp, ok := c.Response(); ok {
		e.Response = resp
		e.HasResponse = true
	}
	return e
}

// recoverStep converts a panic in a step or hook into an error.
func recoverStep(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrPanic, r)
	}
}
