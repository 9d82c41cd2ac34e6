// Package clock abstracts wall-clock reads and deferred callbacks so that
// timer-driven components can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and schedules callbacks.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
