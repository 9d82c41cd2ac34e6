// Package state provides file-based persistence for the client session state.
//
// The session.json file holds the persisted key/value pairs (credentials,
// last activity, live-session flag). This package provides atomic writes,
// file locking across processes, backups, and change notification.
package state

import "time"

// SessionFile is the top-level structure persisted in session.json.
type SessionFile struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Values are the persisted key/value pairs.
	Values map[string]string `json:"values"`

	// CreatedAt is when the file was first written (UTC).
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the file was last written (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// currentVersion is the schema version written by this package.
const currentVersion = "1"
