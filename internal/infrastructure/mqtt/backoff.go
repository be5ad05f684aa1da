package mqtt

import (
	"context"
	"time"
)

// maxBackoffExponent caps the doubling at 2^6 times the minimum wait.
const maxBackoffExponent = 6

// backoffDelay returns min(minWait * 2^min(attempt, 6), maxWait).
func backoffDelay(attempt int, minWait, maxWait time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}

	wait := minWait * time.Duration(1<<attempt)
	if wait > maxWait {
		return maxWait
	}
	return wait
}

// sleepContext waits for d or until ctx is done.
// It returns false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
