package coordination

import (
	"fmt"
	"testing"
	"time"
)

func TestNoRetrySingleAttempt(t *testing.T) {
	calls := 0
	err := NoRetry.run(func() error {
		calls++
		return fmt.Errorf("always fails")
	})
	if err == nil {
		t.Fatalf("expected error from failing fn")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5}
	calls := 0
	err := policy.run(func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
}

func TestRetryReturnsFinalError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}
	calls := 0
	err := policy.run(func() error {
		calls++
		return fmt.Errorf("failure %d", calls)
	})
	if err == nil || err.Error() != "failure 3" {
		t.Fatalf("err=%v want final attempt error", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestRetryZeroAttemptsStillRunsOnce(t *testing.T) {
	policy := RetryPolicy{}
	calls := 0
	_ = policy.run(func() error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestLinearBackoff(t *testing.T) {
	backoff := LinearBackoff(10 * time.Millisecond)
	if got := backoff(1); got != 10*time.Millisecond {
		t.Fatalf("attempt 1 backoff=%s", got)
	}
	if got := backoff(3); got != 30*time.Millisecond {
		t.Fatalf("attempt 3 backoff=%s", got)
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 10 * time.Millisecond},
		{attempt: 2, want: 20 * time.Millisecond},
		{attempt: 3, want: 40 * time.Millisecond},
		{attempt: 4, want: 50 * time.Millisecond},
		{attempt: 20, want: 50 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := backoff(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d backoff=%s want=%s", tc.attempt, got, tc.want)
		}
	}
}
