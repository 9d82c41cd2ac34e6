package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/projectm/lms-session/internal/adapter/inbound/http"
	"github.com/projectm/lms-session/internal/adapter/outbound/gateway"
	"github.com/projectm/lms-session/internal/adapter/outbound/telemetry"
	"github.com/projectm/lms-session/internal/clock"
	"github.com/projectm/lms-session/internal/config"
	"github.com/projectm/lms-session/internal/domain/session"
	"github.com/projectm/lms-session/internal/port/outbound"
	"github.com/projectm/lms-session/internal/service"
)

// app holds the components every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	kv       outbound.WatchableStore
	store    *session.Store
	gateway  *gateway.Gateway
	svc      *service.SessionService
	registry *prometheus.Registry
	metrics  outbound.MetricsRecorder
	clock    clock.Clock

	closers []func(context.Context) error
}

// loadConfig reads and validates the configuration, honouring --dev.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger. DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newApp loads configuration and wires the store, gateway and service.
// The caller must call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	if f := config.ConfigFileUsed(); f != "" {
		logger.Debug("loaded config", "file", f)
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry(), clock: clock.Real()}

	a.kv, err = service.OpenStore(ctx, cfg.Storage.Driver, cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.kv.Close() })
	a.store = session.NewStore(a.kv)

	recorders := telemetry.Multi{http.NewMetrics(a.registry)}
	if cfg.Telemetry.OTelMetrics {
		rec, shutdown, err := telemetry.NewStdoutRecorder(os.Stderr, cfg.OTelInterval())
		if err != nil {
			a.close()
			return nil, err
		}
		recorders = append(recorders, rec)
		a.closers = append(a.closers, shutdown)
	}
	a.metrics = recorders

	var traceOut io.Writer
	if cfg.Telemetry.Trace {
		traceOut = os.Stderr
	}
	tracer, shutdownTracer, err := telemetry.NewTracer(traceOut)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracer)

	a.gateway, err = gateway.New(ctx, cfg.API.BaseURL, a.store,
		gateway.WithTimeout(cfg.APITimeout()),
		gateway.WithRefreshPath(cfg.API.RefreshPath),
		gateway.WithLogger(logger),
		gateway.WithMetrics(a.metrics),
		gateway.WithTracer(tracer),
		gateway.WithClock(a.clock),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	a.svc, err = service.NewSessionService(service.SessionConfig{
		Gateway: a.gateway,
		Store:   a.store,
		Paths: service.AuthPaths{
			Login:         cfg.API.LoginPath,
			Register:      cfg.API.RegisterPath,
			Me:            cfg.API.MePath,
			ResetPassword: cfg.API.ResetPasswordPath,
		},
		Clock:       a.clock,
		IdleTimeout: cfg.IdleTimeout(),
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// addOutputFlag registers -o/--output on c.
func addOutputFlag(c *cobra.Command, target *string) {
	c.Flags().StringVarP(target, "output", "o", "yaml", "Output format: yaml or json")
}

// printValue writes v to w as YAML or indented JSON.
func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}
