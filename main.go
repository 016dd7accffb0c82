// occkit serves a record store guarded by optimistic concurrency
// control. The concurrency behavior (policy, conflict callback, version
// signer, 409 handler) is resolved from namespaced settings and stays
// live: edits to the config file are picked up without a restart.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/occkit/occkit/internal/config"
	"github.com/occkit/occkit/internal/constants"
	"github.com/occkit/occkit/internal/hotreload"
	"github.com/occkit/occkit/internal/observability"
	"github.com/occkit/occkit/internal/occ"
	"github.com/occkit/occkit/internal/server"
	"github.com/occkit/occkit/internal/settings"
	"github.com/occkit/occkit/internal/store"
)

func main() {
	var (
		configFile        = pflag.String("config", "", "Path to configuration file (YAML or JSON)")
		host              = pflag.String("host", "", "Server host")
		port              = pflag.String("port", "", "Server port")
		metricsPort       = pflag.String("metrics-port", "", "Metrics server port")
		dbPath            = pflag.String("db-path", "", "Path to the SQLite database")
		logLevel          = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat         = pflag.String("log-format", "", "Log format (json, console)")
		tracingEnabled    = pflag.Bool("tracing-enabled", false, "Enable tracing")
		hotReload         = pflag.Bool("hot-reload", true, "Enable config hot reload")
		hotReloadDebounce = pflag.Duration("hot-reload-debounce", 0, "Hot reload debounce interval")
	)
	pflag.Parse()

	cliFlags := &config.CLIFlags{
		Host:              host,
		Port:              port,
		MetricsPort:       metricsPort,
		DatabasePath:      dbPath,
		LogLevel:          logLevel,
		LogFormat:         logFormat,
		TracingEnabled:    tracingEnabled,
		HotReload:         hotReload,
		HotReloadDebounce: hotReloadDebounce,
	}

	cfg, err := config.LoadConfig(*configFile, cliFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger.Logger)

	metrics := observability.NewMetrics()

	tracer, err := observability.NewTracer(cfg.Observability.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shut down tracer", zap.Error(err))
		}
	}()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	// The reload closure re-reads the config file and hands the
	// coordinator a fresh snapshot of the concurrency section; changed
	// keys flow to the settings listener below.
	manager, err := hotreload.NewManager(func() (map[string]any, error) {
		fresh, err := config.LoadConfig(*configFile, cliFlags)
		if err != nil {
			return nil, err
		}
		return concurrencySnapshot(fresh), nil
	}, concurrencySnapshot(cfg))
	if err != nil {
		logger.Fatal("Failed to initialize hot reload", zap.Error(err))
	}

	st, err := settings.Load(constants.SettingsPrefix,
		settings.WithValues(cfg.ConcurrencyValues()),
		settings.WithLogger(logger.Logger),
		settings.WithAnnounce(func(change settings.Change) {
			_ = manager.Publish(context.Background(), change)
		}),
	)
	if err != nil {
		logger.Fatal("Failed to resolve concurrency settings", zap.Error(err))
	}

	if err := manager.AddListener("settings", st.HandleChange); err != nil {
		logger.Fatal("Failed to register settings listener", zap.Error(err))
	}

	if cfg.HotReload.Enabled && *configFile != "" {
		manager.SetDebounceTime(cfg.HotReload.Debounce)
		if err := manager.AddWatch(*configFile); err != nil {
			logger.Fatal("Failed to watch config file", zap.Error(err))
		}
		if err := manager.Start(); err != nil {
			logger.Fatal("Failed to start hot reload", zap.Error(err))
		}
		defer manager.Stop()
		logger.Info("Hot reload enabled", zap.String("file", *configFile))
	}

	engine := occ.New(st, db, logger.Logger, metrics, tracer)

	srv, err := server.New(cfg, engine, logger, metrics, tracer)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	logger.Info("Starting occkit",
		zap.String("address", cfg.GetServerAddress()),
		zap.String("policy", st.Policy().String()),
		zap.Bool("concurrency_enabled", st.Enabled()),
	)

	if err := srv.Start(); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

// concurrencySnapshot maps the concurrency section onto fully prefixed
// setting keys, the shape the reload diff and the settings listener
// share.
func concurrencySnapshot(cfg *config.Config) map[string]any {
	snapshot := make(map[string]any)
	for key, value := range cfg.ConcurrencyValues() {
		key = strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		snapshot[constants.SettingsPrefix+"_"+key] = value
	}
	return snapshot
}
