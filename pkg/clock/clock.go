// Package clock abstracts the time operations used by sessions and their
// heartbeat tasks so tests can drive time deterministically.
package clock

import "time"

// Clock is the subset of the time package the gateway depends on.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d. The fake implementation calls f
	// synchronously from Advance.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped a pending timer.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}
