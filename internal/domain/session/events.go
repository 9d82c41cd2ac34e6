package session

import "time"

// Reason explains why a session ended.
type Reason string

// Session end reasons.
const (
	ReasonRefreshFailed  Reason = "refresh_failed"
	ReasonNoRefreshToken Reason = "no_refresh_token"
	ReasonRetryExhausted Reason = "retry_exhausted"
	ReasonInactivity     Reason = "inactivity"
	ReasonUserLogout     Reason = "user_logout"
)

// Expired reports whether the reason counts as an expiry rather than a
// deliberate sign-out. Hosts use it to pick the message shown on the
// unauthenticated entry point.
func (r Reason) Expired() bool {
	return r != ReasonUserLogout
}

// Ended is emitted once when an authenticated session ends.
type Ended struct {
	Reason Reason
	At     time.Time
}
