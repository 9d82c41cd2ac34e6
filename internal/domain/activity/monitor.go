package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/projectm/lms-session/internal/clock"
	"github.com/projectm/lms-session/internal/domain/session"
)

// DefaultIdleTimeout matches the access-token lifetime of the auth service.
const DefaultIdleTimeout = 30 * time.Minute

// Logouter ends the authenticated session.
type Logouter interface {
	ForceLogout(ctx context.Context, reason session.Reason) error
}

// Config holds Monitor dependencies.
type Config struct {
	Store  *session.Store
	Clock  clock.Clock
	Logout Logouter

	// IdleTimeout is the inactivity threshold. Default: 30 minutes.
	IdleTimeout time.Duration

	// Filter optionally rejects events. Nil accepts every qualifying event.
	Filter Filter

	// OnExpire is called after an idle expiry forced a logout.
	OnExpire func()

	Logger *slog.Logger
}

// Monitor tracks user inactivity and forces a logout when the idle timeout
// elapses outside a live session.
//
// Every decision goes through Reconcile, which reads the persisted
// timestamp and the live-session flag, so activity recorded by another
// process sharing the store is honoured.
type Monitor struct {
	store    *session.Store
	clock    clock.Clock
	logout   Logouter
	timeout  time.Duration
	filter   Filter
	onExpire func()
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	timer clock.Timer
	// gen invalidates timers that fire after being superseded.
	gen uint64
}

// NewMonitor creates a stopped Monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Store == nil {
		return nil, errors.New("activity: store is required")
	}
	if cfg.Logout == nil {
		return nil, errors.New("activity: logouter is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := cfg.IdleTimeout
	if timeout == 0 {
		timeout = DefaultIdleTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("activity: idle timeout must be positive, got %s", timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:    cfg.Store,
		clock:    clk,
		logout:   cfg.Logout,
		timeout:  timeout,
		filter:   cfg.Filter,
		onExpire: cfg.OnExpire,
		logger:   logger,
		state:    StateStopped,
	}, nil
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IdleTimeout returns the configured threshold.
func (m *Monitor) IdleTimeout() time.Duration {
	return m.timeout
}

// Start begins monitoring. A session idle for longer than the timeout
// since its persisted last activity is ended immediately. With no persisted
// timestamp, now is recorded.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateExpired {
		m.state = StateArmed
	}
	m.mu.Unlock()
	return m.Reconcile(ctx)
}

// Record registers a user interaction. Non-qualifying kinds, filtered
// events and events received while stopped are ignored.
func (m *Monitor) Record(ctx context.Context, ev Event) error {
	if !ev.Kind.Qualifies() {
		return nil
	}
	if m.filter != nil {
		ok, err := m.filter.Allow(ctx, ev)
		if err != nil {
			m.logger.Warn("activity filter failed, counting event", "kind", ev.Kind, "error", err)
		} else if !ok {
			m.logger.Debug("activity event filtered", "kind", ev.Kind, "target", ev.Target)
			return nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStopped || m.state == StateExpired {
		return nil
	}
	if err := m.store.RecordActivity(ctx, m.clock.Now()); err != nil {
		return err
	}
	m.cancelLocked()
	if m.state != StateExempt {
		m.armLocked(m.timeout)
		m.state = StateArmed
	}
	return nil
}

// VisibilityChanged handles the host becoming hidden or visible. Hiding
// changes nothing; becoming visible reconciles, because timers may not
// have run while the host was suspended.
func (m *Monitor) VisibilityChanged(ctx context.Context, visible bool) error {
	if !visible {
		return nil
	}
	return m.Reconcile(ctx)
}

// ExemptionChanged handles a flip of the live-session flag. The flag is
// re-read from the store.
func (m *Monitor) ExemptionChanged(ctx context.Context) error {
	return m.Reconcile(ctx)
}

// Reconcile compares the persisted last activity with the clock and
// arms, suspends or expires accordingly. Calling it repeatedly is safe.
func (m *Monitor) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateExpired {
		m.mu.Unlock()
		return nil
	}

	exempt, err := m.store.Exempt(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	now := m.clock.Now()
	last, ok, err := m.store.LastActivity(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !ok {
		if err := m.store.RecordActivity(ctx, now); err != nil {
			m.mu.Unlock()
			return err
		}
		last = now
	}

	m.cancelLocked()

	if exempt {
		if m.state != StateExempt {
			m.logger.Debug("idle timer suspended by live session")
		}
		m.state = StateExempt
		m.mu.Unlock()
		return nil
	}

	// A timestamp ahead of the clock (skew between processes sharing the
	// store) counts as activity now.
	idle := max(now.Sub(last), 0)
	if idle < m.timeout {
		m.armLocked(m.timeout - idle)
		m.state = StateArmed
		m.mu.Unlock()
		return nil
	}

	m.state = StateExpired
	m.mu.Unlock()

	// The logout emits session.Ended, whose subscribers call Stop; the
	// lock must not be held here.
	m.logger.Info("session idle, forcing logout", "idle", idle.Round(time.Second))
	if m.onExpire != nil {
		m.onExpire()
	}
	logoutErr := m.logout.ForceLogout(ctx, session.ReasonInactivity)

	// Still expired means no session.Ended reached Stop, e.g. the session
	// was already ended elsewhere; the timestamp must not outlive it.
	m.mu.Lock()
	expired := m.state == StateExpired
	m.mu.Unlock()
	if expired {
		if err := m.store.ClearActivity(ctx); err != nil {
			m.logger.Warn("failed to clear activity timestamp", "error", err)
		}
	}
	if logoutErr != nil {
		return fmt.Errorf("idle logout: %w", logoutErr)
	}
	return nil
}

// Stop cancels the timer, stops accepting events and clears the persisted
// activity timestamp.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.cancelLocked()
	m.state = StateStopped
	m.mu.Unlock()

	return m.store.ClearActivity(ctx)
}

// HandleSessionEnded stops the monitor. Register it with the gateway's
// OnSessionEnded.
func (m *Monitor) HandleSessionEnded(ev session.Ended) {
	if err := m.Stop(context.Background()); err != nil {
		m.logger.Warn("failed to stop activity monitor", "reason", ev.Reason, "error", err)
	}
}

// armLocked schedules a reconcile after d. Caller holds m.mu.
func (m *Monitor) armLocked(d time.Duration) {
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(d, func() { m.fire(gen) })
}

// cancelLocked stops the pending timer, if any. Caller holds m.mu.
func (m *Monitor) cancelLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if !current {
		return
	}
	if err := m.Reconcile(context.Background()); err != nil {
		m.logger.Warn("idle check failed", "error", err)
	}
}
