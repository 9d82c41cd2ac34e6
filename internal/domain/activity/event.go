// Package activity ends idle sessions.
//
// A Monitor persists the time of the last qualifying user interaction and
// forces a logout once no interaction has been seen for the idle timeout,
// unless a live session is in progress.
package activity

import "context"

// Kind classifies a user interaction.
type Kind string

// Qualifying interaction kinds.
const (
	KindPointer Kind = "pointer"
	KindKey     Kind = "key"
	KindScroll  Kind = "scroll"
	KindTouch   Kind = "touch"
	KindClick   Kind = "click"
	KindFocus   Kind = "focus"
)

// Qualifies reports whether interactions of kind k count as activity.
func (k Kind) Qualifies() bool {
	switch k {
	case KindPointer, KindKey, KindScroll, KindTouch, KindClick, KindFocus:
		return true
	default:
		return false
	}
}

// Event is a single user interaction.
type Event struct {
	Kind Kind
	// Target names the element or input the interaction was aimed at, when known.
	Target string
	// Synthetic is true for interactions generated by the program rather
	// than the user (focus restored on reload, scripted scroll).
	Synthetic bool
}

// Filter decides whether an event counts as activity. Implementations must
// be safe for concurrent use.
type Filter interface {
	Allow(ctx context.Context, ev Event) (bool, error)
}

// State of a Monitor.
type State int

// Monitor states.
const (
	StateStopped State = iota
	StateArmed
	StateExempt
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateArmed:
		return "armed"
	case StateExempt:
		return "exempt"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
