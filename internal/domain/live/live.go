// Package live marks a live (real-time) class session as in progress.
// While the flag is set the idle monitor does not end the session.
package live

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/projectm/lms-session/internal/domain/session"
	"github.com/projectm/lms-session/internal/port/outbound"
)

// Tracker writes the live-session flag. It is the only writer of
// session.KeyLiveSessionActive.
type Tracker struct {
	kv     outbound.KeyValueStore
	logger *slog.Logger
}

// NewTracker creates a Tracker over kv.
func NewTracker(kv outbound.KeyValueStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{kv: kv, logger: logger}
}

// Enter marks a live session as active.
func (t *Tracker) Enter(ctx context.Context) error {
	if err := t.kv.Set(ctx, session.KeyLiveSessionActive, "true"); err != nil {
		return fmt.Errorf("enter live session: %w", err)
	}
	t.logger.Info("live session started")
	return nil
}

// Exit clears the live-session flag. Exiting when no session is active is
// not an error.
func (t *Tracker) Exit(ctx context.Context) error {
	if err := t.kv.Delete(ctx, session.KeyLiveSessionActive); err != nil {
		return fmt.Errorf("exit live session: %w", err)
	}
	t.logger.Info("live session ended")
	return nil
}

// Active reports whether the flag is set.
func (t *Tracker) Active(ctx context.Context) (bool, error) {
	return session.NewStore(t.kv).Exempt(ctx)
}
