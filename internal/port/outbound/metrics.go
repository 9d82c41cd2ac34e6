package outbound

import "time"

// MetricsRecorder receives session lifecycle measurements. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	// RequestDone records one gateway call. outcome is "ok" or an error kind.
	RequestDone(method, outcome string, d time.Duration)

	// RefreshDone records one refresh round trip. result is "success" or
	// "failure".
	RefreshDone(result string)

	// RefreshWaiters reports the number of calls queued behind the
	// in-flight refresh.
	RefreshWaiters(n int)

	// SessionEnded records a session end by reason.
	SessionEnded(reason string)

	// IdleExpired records an idle-timeout logout.
	IdleExpired()
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

func (NopRecorder) RequestDone(string, string, time.Duration) {}
func (NopRecorder) RefreshDone(string)                        {}
func (NopRecorder) RefreshWaiters(int)                        {}
func (NopRecorder) SessionEnded(string)                       {}
func (NopRecorder) IdleExpired()                              {}

var _ MetricsRecorder = NopRecorder{}
