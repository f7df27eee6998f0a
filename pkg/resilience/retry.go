package resilience

import "time"

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

func (r RetryPolicy) Do(fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		time.Sleep(r.Backoff)
	}
	return err
}

// LinearBackoff spaces reconnect attempts further apart the longer a
// failure persists: Base before attempt 1, 2*Base before attempt 2,
// and so on through MaxAttempts.
type LinearBackoff struct {
	Base        time.Duration
	MaxAttempts int
}

func NewLinearBackoff(base time.Duration, maxAttempts int) LinearBackoff {
	if base <= 0 {
		base = time.Second
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return LinearBackoff{Base: base, MaxAttempts: maxAttempts}
}

// Delay returns the wait before attempt n (1-based) and whether that
// attempt is allowed at all. A MaxAttempts of zero denies everything.
func (b LinearBackoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0, false
	}
	return b.Base * time.Duration(attempt), true
}
