package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/projectm/lms-session/internal/adapter/inbound/http"
	celfilter "github.com/projectm/lms-session/internal/adapter/outbound/cel"
	"github.com/projectm/lms-session/internal/domain/activity"
	"github.com/projectm/lms-session/internal/domain/session"
	"github.com/projectm/lms-session/internal/port/outbound"
	"github.com/projectm/lms-session/internal/service"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch for inactivity and log out when idle",
	Long: `Run the inactivity monitor for the stored session until it ends.

User interactions are read from standard input, one per line:

  click #submit            kind, optional target
  focus window synthetic   trailing "synthetic" marks program-generated events
  {"kind":"key","target":"editor","synthetic":false}
  hide | show              the host was hidden or became visible again

Qualifying kinds are pointer, key, scroll, touch, click and focus. When no
qualifying interaction is seen for session.idle_timeout the session is
logged out, unless "lms-session live start" has marked a live class in
progress. Changes made by other lms-session processes sharing the store
(activity, live class flag, logout) are picked up while running.

When telemetry.metrics_addr is set, Prometheus metrics are served on
/metrics and the session health on /healthz.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// monitorInput is one parsed line of monitor input. Exactly one of
// visible and event is set.
type monitorInput struct {
	visible *bool
	event   *activity.Event
}

type jsonEvent struct {
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Synthetic bool   `json:"synthetic"`
}

// parseMonitorLine parses one input line. Blank lines and # comments
// yield a zero monitorInput.
func parseMonitorLine(line string) (monitorInput, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return monitorInput{}, nil
	}

	if strings.HasPrefix(line, "{") {
		var je jsonEvent
		if err := json.Unmarshal([]byte(line), &je); err != nil {
			return monitorInput{}, fmt.Errorf("invalid event JSON: %w", err)
		}
		if je.Kind == "" {
			return monitorInput{}, errors.New("event JSON has no kind")
		}
		return monitorInput{event: &activity.Event{
			Kind:      activity.Kind(strings.ToLower(je.Kind)),
			Target:    je.Target,
			Synthetic: je.Synthetic,
		}}, nil
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "hide", "hidden":
		v := false
		return monitorInput{visible: &v}, nil
	case "show", "visible":
		v := true
		return monitorInput{visible: &v}, nil
	}

	ev := &activity.Event{Kind: activity.Kind(strings.ToLower(fields[0]))}
	rest := fields[1:]
	if n := len(rest); n > 0 && rest[n-1] == "synthetic" {
		ev.Synthetic = true
		rest = rest[:n-1]
	}
	ev.Target = strings.Join(rest, " ")
	return monitorInput{event: ev}, nil
}

// feedMonitor reads input lines until r is exhausted or ctx is done.
func feedMonitor(ctx context.Context, r io.Reader, m *activity.Monitor, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		in, err := parseMonitorLine(scanner.Text())
		if err != nil {
			logger.Warn("ignoring monitor input", "error", err)
			continue
		}
		switch {
		case in.visible != nil:
			err = m.VisibilityChanged(ctx, *in.visible)
		case in.event != nil:
			if !in.event.Kind.Qualifies() {
				logger.Debug("ignoring non-qualifying event", "kind", in.event.Kind)
				continue
			}
			err = m.Record(ctx, *in.event)
		}
		if err != nil {
			logger.Warn("monitor input failed", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("monitor input closed", "error", err)
	}
}

// watchStore forwards changes made by other processes to the monitor until
// ctx is done. It returns once the watch is registered.
func watchStore(ctx context.Context, kv outbound.WatchableStore, a *app, m *activity.Monitor) {
	err := kv.Watch(ctx, func(key string) {
		var err error
		switch key {
		case session.KeyLiveSessionActive:
			err = m.ExemptionChanged(ctx)
		case session.KeyLastActivity:
			err = m.Reconcile(ctx)
		case session.KeyAccessToken:
			var ok bool
			ok, err = a.gateway.Authenticated(ctx)
			if err == nil && !ok {
				a.logger.Info("session ended by another process")
				err = a.gateway.Logout(ctx)
			}
		}
		if err != nil {
			a.logger.Warn("failed to apply store change", "key", key, "error", err)
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, outbound.ErrWatchUnsupported):
		a.logger.Info("store cannot be watched; changes by other processes are seen on the next check")
	default:
		a.logger.Warn("store watch failed", "error", err)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(parent, gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ok, err := a.gateway.Authenticated(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("not logged in; run \"lms-session login\" first")
	}

	var filter activity.Filter
	if expr := a.cfg.Session.ActivityFilter; expr != "" {
		f, err := celfilter.NewActivityFilter(expr)
		if err != nil {
			return fmt.Errorf("session.activity_filter: %w", err)
		}
		filter = f
	}

	m, err := activity.NewMonitor(activity.Config{
		Store:       a.store,
		Clock:       a.clock,
		Logout:      a.gateway,
		IdleTimeout: a.cfg.IdleTimeout(),
		Filter:      filter,
		OnExpire:    a.metrics.IdleExpired,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	ended := make(chan session.Ended, 1)
	var once sync.Once
	a.svc.AttachMonitor(m)
	a.gateway.OnSessionEnded(func(ev session.Ended) {
		once.Do(func() { ended <- ev })
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		srv := http.NewServer(addr, a.registry,
			http.WithLogger(a.logger),
			http.WithHealthChecker(http.NewHealthChecker(a.store, m, Version)),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(runCtx); err != nil {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	// The memory store notifies synchronously from inside the monitor's
	// own writes, and no other process can share it.
	if a.cfg.Storage.Driver != service.DriverMemory {
		watchStore(runCtx, a.kv, a, m)
	}

	// Reading stdin blocks without honouring ctx; it ends with the process.
	go feedMonitor(runCtx, cmd.InOrStdin(), m, a.logger)

	if err := m.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	a.logger.Info("monitoring session", "idle_timeout", m.IdleTimeout(), "state", m.State())

	var result error
	select {
	case ev := <-ended:
		fmt.Fprintf(cmd.ErrOrStderr(), "Session ended: %s\n", ev.Reason)
		if ev.Reason.Expired() {
			result = fmt.Errorf("session expired (%s); log in again", ev.Reason)
		}
	case <-ctx.Done():
		// Leave the activity timestamp in place so the next run resumes
		// the countdown instead of restarting it.
		a.logger.Info("monitor interrupted", "state", m.State())
	}

	cancel()
	wg.Wait()
	return result
}
