// Package session owns the client credential pair and the activity
// bookkeeping that must survive process restarts.
package session

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Persisted keys. These names are stable across releases; changing them
// would silently log out every stored session.
const (
	KeyAccessToken       = "access_token"
	KeyRefreshToken      = "refresh_token"
	KeyLastActivity      = "last_activity"
	KeyLiveSessionActive = "live_session_active"
)

// Credentials is the token pair issued by the auth service.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no access token is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == ""
}

// Fingerprint returns a short, non-reversible tag for a token so it can be
// correlated in logs and status output without disclosing it.
// Returns "-" for the empty token.
func Fingerprint(token string) string {
	if token == "" {
		return "-"
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(token))[:12]
}
