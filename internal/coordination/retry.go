package coordination

import "time"

// BackoffFunc returns the pause before the given retry attempt.
// Attempt numbering starts at 1 for the first retry.
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy is applied around each handler invocation during dispatch.
// MaxAttempts counts the initial call, so MaxAttempts <= 1 means no
// retries. A nil Backoff retries immediately.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// NoRetry is the default policy: one attempt per handler per event.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// LinearBackoff grows the pause by step per attempt.
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// ExponentialBackoff doubles the pause for each attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// run invokes fn, retrying per the policy. The error from the final
// attempt is returned.
func (p RetryPolicy) run(fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if p.Backoff != nil {
			time.Sleep(p.Backoff(attempt))
		}
	}
	return err
}
