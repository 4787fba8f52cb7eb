package callz

import (
	"context"
	"fmt"
	"time"
)

type attemptKind uint8

const (
	attemptNo attemptKind = iota
	attemptYes
	attemptYesAfterDelay
)

// ShouldAttempt is a retry strategy's decision about making an attempt.
type ShouldAttempt struct {
	delay time.Duration
	kind  attemptKind
}

// Yes makes the attempt immediately.
func Yes() ShouldAttempt {
	return ShouldAttempt{kind: attemptYes}
}

// No makes no further attempt.
func No() ShouldAttempt {
	return ShouldAttempt{kind: attemptNo}
}

// YesAfterDelay makes the attempt once d has elapsed.
// Delays are only honored when Config.HonorRetryDelay is set; otherwise the
// invocation fails with ErrDelayUnsupported.
func YesAfterDelay(d time.Duration) ShouldAttempt {
	return ShouldAttempt{kind: attemptYesAfterDelay, delay: d}
}

// IsYes reports an immediate attempt.
func (s ShouldAttempt) IsYes() bool {
	return s.kind == attemptYes
}

// IsNo reports that no attempt should be made.
func (s ShouldAttempt) IsNo() bool {
	return s.kind == attemptNo
}

// Delay returns the requested delay for YesAfterDelay decisions.
func (s ShouldAttempt) Delay() (time.Duration, bool) {
	return s.delay, s.kind == attemptYesAfterDelay
}

func (s ShouldAttempt) String() string {
	switch s.kind {
	case attemptYes:
		return "yes"
	case attemptYesAfterDelay:
		return fmt.Sprintf("yes after %v", s.delay)
	default:
		return "no"
	}
}

// RetryStrategy decides whether the first attempt is made and whether a
// finished attempt is repeated.
type RetryStrategy[In, Req, Resp, Out any] interface {
	ShouldAttemptInitialRequest(ctx context.Context, cfg *Config[In, Req, Resp, Out]) (ShouldAttempt, error)
	ShouldAttemptRetry(ctx context.Context, v View[In, Req, Resp, Out], cfg *Config[In, Req, Resp, Out]) (ShouldAttempt, error)
}

// NeverRetry makes exactly one attempt.
type NeverRetry[In, Req, Resp, Out any] struct{}

// ShouldAttemptInitialRequest implements RetryStrategy.
func (NeverRetry[In, Req, Resp, Out]) ShouldAttemptInitialRequest(context.Context, *Config[In, Req, Resp, Out]) (ShouldAttempt, error) {
	return Yes(), nil
}

// ShouldAttemptRetry implements RetryStrategy.
func (NeverRetry[In, Req, Resp, Out]) ShouldAttemptRetry(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) (ShouldAttempt, error) {
	return No(), nil
}

// DefaultMaxRetryDelay caps StandardRetry delays when MaxDelay is unset.
const DefaultMaxRetryDelay = 20 * time.Second

// StandardRetry repeats failed attempts until MaxAttempts is reached.
//
// With a zero BaseDelay retries are immediate. Otherwise the delay doubles
// after each attempt (BaseDelay, 2*BaseDelay, 4*BaseDelay, ...) up to
// MaxDelay, which requires Config.HonorRetryDelay.
//
// Retryable classifies attempt errors; nil treats every error as retryable.
type StandardRetry[In, Req, Resp, Out any] struct {
	Retryable   func(error) bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // Defaults to DefaultMaxRetryDelay
}

// ShouldAttemptInitialRequest implements RetryStrategy.
func (StandardRetry[In, Req, Resp, Out]) ShouldAttemptInitialRequest(context.Context, *Config[In, Req, Resp, Out]) (ShouldAttempt, error) {
	return Yes(), nil
}

// ShouldAttemptRetry implements RetryStrategy.
func (s StandardRetry[In, Req, Resp, Out]) ShouldAttemptRetry(_ context.Context, v View[In, Req, Resp, Out], _ *Config[In, Req, Resp, Out]) (ShouldAttempt, error) {
	err := v.OutcomeErr()
	if err == nil {
		return No(), nil
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if v.Attempt() >= maxAttempts {
		return No(), nil
	}
	if s.Retryable != nil && !s.Retryable(err) {
		return No(), nil
	}
	if s.BaseDelay <= 0 {
		return Yes(), nil
	}
	return YesAfterDelay(s.delay(v.Attempt())), nil
}

// delay doubles BaseDelay per completed attempt, saturating at MaxDelay.
func (s StandardRetry[In, Req, Resp, Out]) delay(attempt int) time.Duration {
	maxDelay := s.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}
	d := s.BaseDelay
	for i := 1; i < attempt && d > 0 && d < maxDelay; i++ {
		d *= 2
	}
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

// RetryStrategyFunc builds a RetryStrategy from two closures. A nil Initial
// always makes the first attempt; a nil Retry never repeats.
type RetryStrategyFunc[In, Req, Resp, Out any] struct {
	Initial func(context.Context, *Config[In, Req, Resp, Out]) (ShouldAttempt, error)
	Retry   func(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) (ShouldAttempt, error)
}

// ShouldAttemptInitialRequest implements RetryStrategy.
func (f RetryStrategyFunc[In, Req, Resp, Out]) ShouldAttemptInitialRequest(ctx context.Context, cfg *Config[In, Req, Resp, Out]) (ShouldAttempt, error) {
	if f.Initial == nil {
		return Yes(), nil
	}
	return f.Initial(ctx, cfg)
}

// ShouldAttemptRetry implements RetryStrategy.
func (f RetryStrategyFunc[In, Req, Resp, Out]) ShouldAttemptRetry(ctx context.Context, v View[In, Req, Resp, Out], cfg *Config[In, Req, Resp, Out]) (ShouldAttempt, error) {
	if f.Retry == nil {
		return No(), nil
	}
	return f.Retry(ctx, v, cfg)
}
