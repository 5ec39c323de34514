// Package main implements the entry point for the TrackStream service.
// TrackStream ingests live train telemetry through a circuit-protected
// pipeline, correlates operational metrics, and exposes alerts, health
// and a dashboard over HTTP and websocket feeds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/trackstream/alerting"
	"github.com/c360/trackstream/breaker"
	"github.com/c360/trackstream/config"
	"github.com/c360/trackstream/correlate"
	"github.com/c360/trackstream/gateway/ws"
	"github.com/c360/trackstream/ingest"
	"github.com/c360/trackstream/metric"
	"github.com/c360/trackstream/monitor"
	"github.com/c360/trackstream/store"
	"github.com/c360/trackstream/validate"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "trackstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, cliCfg)

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting TrackStream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"listen_addr", cfg.Server.ListenAddr)

	ctx := context.Background()

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	return runWithSignalHandling(ctx, cfg, app)
}

// applyOverrides layers non-empty CLI values over the file config.
func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.ListenAddr != "" {
		cfg.Server.ListenAddr = cli.ListenAddr
	}
}

// application holds every constructed component in start order.
type application struct {
	registry *metric.Registry
	natsConn *nats.Conn
	breaker  *breaker.Breaker
	pipeline *ingest.Pipeline
	engine   *correlate.Engine
	alerts   *alerting.System
	service  *monitor.Service
	gateway  *ws.Gateway
}

// buildApplication constructs the full component graph. Construction
// order follows the dependency direction so failures surface before
// anything starts.
func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}
	app.registry = metric.NewRegistry()

	app.breaker = breaker.New("upstream",
		cfg.Breaker,
		breaker.WithLogger(logger),
		breaker.WithPlatformMetrics(app.registry.Metrics))

	positions, err := buildStore(ctx, cfg, logger, app)
	if err != nil {
		return nil, err
	}

	filter := validate.NewFilter(validate.WithLogger(logger))

	app.pipeline, err = ingest.New(cfg.Ingest, positions, app.breaker, filter,
		ingest.WithLogger(logger),
		ingest.WithPlatformMetrics(app.registry.Metrics))
	if err != nil {
		return nil, fmt.Errorf("create ingestion pipeline: %w", err)
	}

	app.engine, err = correlate.NewEngine(cfg.Correlate, correlate.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create correlation engine: %w", err)
	}

	app.alerts = alerting.NewSystem(
		alerting.WithLogger(logger),
		alerting.WithPlatformMetrics(app.registry.Metrics))

	app.service, err = monitor.NewService(cfg.Monitor,
		app.breaker, app.pipeline, app.engine, app.alerts,
		monitor.WithLogger(logger),
		monitor.WithPlatformMetrics(app.registry.Metrics))
	if err != nil {
		return nil, fmt.Errorf("create monitoring service: %w", err)
	}

	app.gateway, err = ws.NewGateway(cfg.Gateway, app.pipeline, app.alerts, app.service, logger)
	if err != nil {
		return nil, fmt.Errorf("create websocket gateway: %w", err)
	}

	return app, nil
}

// buildStore selects the JetStream-backed store when a NATS URL is
// configured, or the in-memory store otherwise.
func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger, app *application) (store.PositionStore, error) {
	if cfg.NATS.URL == "" {
		slog.Info("No NATS URL configured, using in-memory position store")
		return store.NewMemory(store.DefaultHistoryDepth), nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	app.natsConn = nc

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	st, err := store.NewNATS(ctx, js, cfg.NATS.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS position store: %w", err)
	}

	slog.Info("Connected position store to NATS",
		"url", cfg.NATS.URL,
		"bucket", cfg.NATS.Store.Bucket)
	return st, nil
}

// start brings up the pipeline, monitoring and gateway, then attaches
// a consumer per configured section so safety checks run on every
// position that arrives.
func (app *application) start(ctx context.Context, sections []string) error {
	if err := app.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := app.service.Start(ctx); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}
	if err := app.gateway.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	for _, sectionID := range sections {
		ch := app.pipeline.SubscribeToSection(sectionID)
		go func(sectionID string) {
			for batch := range ch {
				for _, pos := range batch {
					app.service.RecordPosition(pos)
				}
			}
		}(sectionID)
		slog.Info("Subscribed to section", "section_id", sectionID)
	}
	return nil
}

// stop shuts components down in reverse start order.
func (app *application) stop(timeout time.Duration) {
	if err := app.gateway.Stop(timeout); err != nil {
		slog.Error("Gateway stop failed", "error", err)
	}
	if err := app.service.Stop(timeout); err != nil {
		slog.Error("Monitoring stop failed", "error", err)
	}
	if err := app.pipeline.Stop(timeout); err != nil {
		slog.Error("Pipeline stop failed", "error", err)
	}
	app.engine.Close()
	app.alerts.Close()
}

func (app *application) close() {
	if app.natsConn != nil {
		app.natsConn.Close()
	}
}

// httpHandler assembles the HTTP surface: prometheus metrics, health,
// dashboard and the websocket feed.
func (app *application) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.registry.Handler())
	mux.Handle("/ws", app.gateway.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := app.service.Health().Get()
		w.Header().Set("Content-Type", "application/json")
		if snapshot.Status == monitor.StatusCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})

	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(app.service.GetMonitoringDashboard())
	})

	return mux
}

// runWithSignalHandling starts everything and blocks until SIGINT,
// SIGTERM or a fatal HTTP server error.
func runWithSignalHandling(ctx context.Context, cfg config.Config, app *application) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := app.start(signalCtx, cfg.Sections); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           app.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErr:
		slog.Error("HTTP server failed", "error", err)
		app.stop(cfg.Server.ShutdownTimeout)
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	app.stop(cfg.Server.ShutdownTimeout)

	slog.Info("TrackStream shutdown complete")
	return nil
}
