package callz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestError(t *testing.T) {
	t.Run("Error Message", func(t *testing.T) {
		err := &Error[string]{
			Err:      errors.New("connection refused"),
			Phase:    PhaseDispatch,
			Attempt:  2,
			Duration: 150 * time.Millisecond,
		}
		want := "dispatch phase (attempt 2) failed after 150ms: connection refused"
		if err.Error() != want {
			t.Errorf("expected %q, got %q", want, err.Error())
		}
	})

	t.Run("Timeout Message", func(t *testing.T) {
		err := &Error[string]{
			Err:      &TimeoutError{Scope: ScopeOperation, Duration: time.Second},
			Phase:    PhaseResponseHandling,
			Attempt:  3,
			Duration: time.Second,
			Timeout:  true,
		}
		want := "response-handling phase (attempt 3) timed out after 1s: operation timeout (all attempts including retries) occurred after 1s"
		if err.Error() != want {
			t.Errorf("expected %q, got %q", want, err.Error())
		}
	})

	t.Run("Canceled Message", func(t *testing.T) {
		err := &Error[string]{Err: context.Canceled, Phase: PhaseDispatch, Attempt: 1, Canceled: true}
		want := "dispatch phase (attempt 1) canceled after 0s: context canceled"
		if err.Error() != want {
			t.Errorf("expected %q, got %q", want, err.Error())
		}
	})

	t.Run("Unwrap", func(t *testing.T) {
		root := errors.New("root")
		var err error = &Error[string]{Err: fmt.Errorf("wrapped: %w", root)}
		if !errors.Is(err, root) {
			t.Error("expected errors.Is to reach the root cause")
		}
	})

	t.Run("IsTimeout", func(t *testing.T) {
		cases := map[string]*Error[string]{
			"flag":     {Timeout: true},
			"scope":    {Err: &TimeoutError{Scope: ScopeAttempt}},
			"deadline": {Err: context.DeadlineExceeded},
		}
		for name, err := range cases {
			if !err.IsTimeout() {
				t.Errorf("%s: expected timeout", name)
			}
		}
		if (&Error[string]{Err: errors.New("x")}).IsTimeout() {
			t.Error("plain errors are not timeouts")
		}
	})

	t.Run("IsCanceled", func(t *testing.T) {
		if !(&Error[string]{Err: fmt.Errorf("stop: %w", context.Canceled)}).IsCanceled() {
			t.Error("expected wrapped cancellation to be detected")
		}
		if (&Error[string]{Err: context.DeadlineExceeded}).IsCanceled() {
			t.Error("deadlines are not cancellations")
		}
	})

	t.Run("Tagging Records Context", func(t *testing.T) {
		c := NewContext[string, string, string]("input")
		c.attempt = 4
		c.SetResponse("raw")

		err := tagError(PhaseResponseHandling, c, &TimeoutError{Scope: ScopeAttempt, Duration: time.Second})
		if err.InvocationID != c.ID() || err.Attempt != 4 {
			t.Errorf("unexpected identity %q/%d", err.InvocationID, err.Attempt)
		}
		if !err.Timeout || err.Canceled {
			t.Errorf("expected timeout only, got timeout=%v canceled=%v", err.Timeout, err.Canceled)
		}
		if !err.HasResponse || err.Response != "raw" {
			t.Errorf("expected raw response, got %q", err.Response)
		}
		if again := tagError(PhaseDispatch, c, err); again != err {
			t.Error("retagging should return the original error")
		}
	})
}

func TestHookError(t *testing.T) {
	cause := errors.New("denied")
	err := &HookError{Err: cause, Interceptor: "auth", Point: ModifyBeforeSigning}

	want := `interceptor "auth" failed at modify_before_signing: denied`
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}
