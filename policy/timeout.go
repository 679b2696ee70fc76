package policy

import (
	"math"
	"time"
)

// Timeout functions accept a dial attempt (starting from 1) and return how
// long that attempt may take before the dialer gives up on it and tries
// again.
type Timeout func(attempt int) time.Duration

// ConstantTimeout returns a Timeout function that always returns a constant
// duration.
func ConstantTimeout(duration time.Duration) Timeout {
	return func(int) time.Duration {
		return duration
	}
}

// MaxTimeout returns a Timeout function that restricts another Timeout function
// to return a maximum duration.
func MaxTimeout(duration time.Duration, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		if d := timeout(attempt); d < duration {
			return d
		}
		return duration
	}
}

// LinearBackoff returns a Timeout function that scales the duration returned by
// another Timeout function linearly with respect to the attempt.
func LinearBackoff(rate float64, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		return scale(timeout(attempt), rate*float64(attempt))
	}
}

// ExponentialBackoff returns a Timeout function that scales the duration
// returned by another Timeout function exponentially with respect to the
// attempt.
func ExponentialBackoff(rate float64, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		return scale(timeout(attempt), math.Pow(rate, float64(attempt)))
	}
}

// scale a duration by a factor, saturating instead of overflowing.
func scale(d time.Duration, factor float64) time.Duration {
	scaled := float64(d) * factor
	if scaled >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}
