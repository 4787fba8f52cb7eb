package callz

import (
	"context"
	"errors"
	"testing"
	"time"
)

// outcomeView builds a view of a finished attempt.
func outcomeView(attempt int, err error) *testContext {
	c := NewContext[string, string, string]("input")
	c.attempt = attempt
	if err != nil {
		c.SetError(err)
	} else {
		c.SetOutput("output")
	}
	return c
}

func TestShouldAttempt(t *testing.T) {
	t.Run("Constructors", func(t *testing.T) {
		if !Yes().IsYes() || Yes().IsNo() {
			t.Error("Yes should be yes")
		}
		if !No().IsNo() || No().IsYes() {
			t.Error("No should be no")
		}
		d, ok := YesAfterDelay(time.Second).Delay()
		if !ok || d != time.Second {
			t.Errorf("expected 1s delay, got %v (%v)", d, ok)
		}
		if _, ok := Yes().Delay(); ok {
			t.Error("Yes carries no delay")
		}
	})

	t.Run("String", func(t *testing.T) {
		if Yes().String() != "yes" || No().String() != "no" {
			t.Error("unexpected names")
		}
		if YesAfterDelay(time.Second).String() != "yes after 1s" {
			t.Errorf("unexpected %q", YesAfterDelay(time.Second).String())
		}
	})
}

func TestNeverRetry(t *testing.T) {
	ctx := context.Background()
	var s NeverRetry[string, string, string, string]

	initial, err := s.ShouldAttemptInitialRequest(ctx, &testConfig{})
	if err != nil || !initial.IsYes() {
		t.Errorf("expected initial yes, got %v, %v", initial, err)
	}
	retry, err := s.ShouldAttemptRetry(ctx, outcomeView(1, errors.New("failed")), &testConfig{})
	if err != nil || !retry.IsNo() {
		t.Errorf("expected retry no, got %v, %v", retry, err)
	}
}

func TestStandardRetry(t *testing.T) {
	ctx := context.Background()
	failed := errors.New("failed")

	t.Run("Success Is Not Retried", func(t *testing.T) {
		s := StandardRetry[string, string, string, string]{MaxAttempts: 3}
		d, _ := s.ShouldAttemptRetry(ctx, outcomeView(1, nil), &testConfig{})
		if !d.IsNo() {
			t.Errorf("expected no, got %v", d)
		}
	})

	t.Run("Retries While Attempts Remain", func(t *testing.T) {
		s := StandardRetry[string, string, string, string]{MaxAttempts: 3}
		for attempt, want := range map[int]bool{1: true, 2: true, 3: false, 4: false} {
			d, _ := s.ShouldAttemptRetry(ctx, outcomeView(attempt, failed), &testConfig{})
			if d.IsYes() != want {
				t.Errorf("attempt %d: expected yes=%v, got %v", attempt, want, d)
			}
		}
	})

	t.Run("Zero Max Attempts Means One", func(t *testing.T) {
		var s StandardRetry[string, string, string, string]
		d, _ := s.ShouldAttemptRetry(ctx, outcomeView(1, failed), &testConfig{})
		if !d.IsNo() {
			t.Errorf("expected no, got %v", d)
		}
	})

	t.Run("Respects Classifier", func(t *testing.T) {
		permanent := errors.New("permanent")
		s := StandardRetry[string, string, string, string]{
			MaxAttempts: 5,
			Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
		}
		d, _ := s.ShouldAttemptRetry(ctx, outcomeView(1, permanent), &testConfig{})
		if !d.IsNo() {
			t.Errorf("permanent errors should not be retried, got %v", d)
		}
		d, _ = s.ShouldAttemptRetry(ctx, outcomeView(1, failed), &testConfig{})
		if !d.IsYes() {
			t.Errorf("transient errors should be retried, got %v", d)
		}
	})

	t.Run("Exponential Delay", func(t *testing.T) {
		s := StandardRetry[string, string, string, string]{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}
		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
		for i, w := range want {
			d, _ := s.ShouldAttemptRetry(ctx, outcomeView(i+1, failed), &testConfig{})
			got, ok := d.Delay()
			if !ok || got != w {
				t.Errorf("attempt %d: expected %v, got %v (%v)", i+1, w, got, ok)
			}
		}
	})

	t.Run("Delay Saturates At Max", func(t *testing.T) {
		s := StandardRetry[string, string, string, string]{
			MaxAttempts: 100,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
		}
		for _, attempt := range []int{5, 10, 64, 65, 99} {
			d, _ := s.ShouldAttemptRetry(ctx, outcomeView(attempt, failed), &testConfig{})
			if got, ok := d.Delay(); !ok || got != time.Second {
				t.Errorf("attempt %d: expected 1s, got %v (%v)", attempt, got, ok)
			}
		}
	})

	t.Run("Default Max Delay Never Wraps", func(t *testing.T) {
		s := StandardRetry[string, string, string, string]{MaxAttempts: 200, BaseDelay: time.Hour}
		for _, attempt := range []int{1, 2, 40, 64, 150} {
			d, _ := s.ShouldAttemptRetry(ctx, outcomeView(attempt, failed), &testConfig{})
			if got, ok := d.Delay(); !ok || got != DefaultMaxRetryDelay {
				t.Errorf("attempt %d: expected %v, got %v (%v)", attempt, DefaultMaxRetryDelay, got, ok)
			}
		}
	})
}

func TestRetryStrategyFunc(t *testing.T) {
	ctx := context.Background()

	t.Run("Nil Functions Use Defaults", func(t *testing.T) {
		var s testStrategy
		initial, _ := s.ShouldAttemptInitialRequest(ctx, &testConfig{})
		retry, _ := s.ShouldAttemptRetry(ctx, outcomeView(1, errors.New("x")), &testConfig{})
		if !initial.IsYes() || !retry.IsNo() {
			t.Errorf("expected yes/no defaults, got %v/%v", initial, retry)
		}
	})

	t.Run("Delegates", func(t *testing.T) {
		s := testStrategy{
			Initial: func(context.Context, *testConfig) (ShouldAttempt, error) { return No(), nil },
		}
		initial, _ := s.ShouldAttemptInitialRequest(ctx, &testConfig{})
		if !initial.IsNo() {
			t.Errorf("expected no, got %v", initial)
		}
	})
}
