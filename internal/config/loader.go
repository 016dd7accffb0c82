package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/occkit/occkit/internal/constants"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration with precedence:
// 1. Explicit CLI flags (highest priority)
// 2. Environment variables
// 3. Configuration file values
// 4. Default configuration values (lowest priority)
//
// The concurrency section is only merged here; its keys are resolved and
// validated by settings.Load.
func LoadConfig(configFile string, cliFlags *CLIFlags) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		mergeConfig(config, fileConfig)
	}

	loadFromEnv(config)

	if cliFlags != nil {
		overrideWithCLI(config, cliFlags)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// CLIFlags contains CLI flag values that can override configuration.
type CLIFlags struct {
	Host              *string
	Port              *string
	MetricsPort       *string
	DatabasePath      *string
	LogLevel          *string
	LogFormat         *string
	TracingEnabled    *bool
	HotReload         *bool
	HotReloadDebounce *time.Duration
}

// loadFromFile loads configuration from a YAML or JSON file.
func loadFromFile(filePath string) (*Config, error) {
	if !filepath.IsAbs(filePath) {
		absPath, err := filepath.Abs(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %s: %w", filePath, err)
		}
		filePath = absPath
	}

	if err := validateFilePath(filePath); err != nil {
		return nil, fmt.Errorf("invalid config file path %s: %w", filePath, err)
	}

	data, err := os.ReadFile(filePath) // #nosec G304 - file path validated by validateFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	config := &Config{}
	ext := filepath.Ext(filePath)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	return config, nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(config *Config) {
	if val := os.Getenv(constants.EnvHost); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv(constants.EnvPort); val != "" {
		config.Server.Port = val
	}
	if val := os.Getenv(constants.EnvMetricsPort); val != "" {
		config.Server.MetricsPort = val
	}
	if val := os.Getenv(constants.EnvReadTimeout); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Server.ReadTimeout = duration
		}
	}
	if val := os.Getenv(constants.EnvWriteTimeout); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Server.WriteTimeout = duration
		}
	}
	if val := os.Getenv(constants.EnvIdleTimeout); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Server.IdleTimeout = duration
		}
	}
	if val := os.Getenv(constants.EnvShutdownTimeout); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Server.ShutdownTimeout = duration
		}
	}
	if val := os.Getenv(constants.EnvDatabasePath); val != "" {
		config.Database.Path = val
	}
	if val := os.Getenv(constants.EnvLogLevel); val != "" {
		config.Observability.Logging.Level = val
	}
	if val := os.Getenv(constants.EnvLogFormat); val != "" {
		config.Observability.Logging.Format = val
	}
	if val := os.Getenv(constants.EnvTracingEnabled); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Observability.Tracing.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvHotReload); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.HotReload.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvHotReloadDebounce); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.HotReload.Debounce = duration
		}
	}
}

// flagSet reports whether a CLI flag should override the configuration.
// When the flag is registered with pflag only an explicitly changed flag
// overrides; a non-nil pointer without a registered flag (tests, embedding)
// always overrides.
func flagSet(name string) bool {
	f := pflag.Lookup(name)
	return f == nil || f.Changed
}

// overrideWithCLI overrides configuration with CLI flag values.
func overrideWithCLI(config *Config, flags *CLIFlags) {
	if flags.Host != nil && flagSet("host") {
		config.Server.Host = *flags.Host
	}
	if flags.Port != nil && flagSet("port") {
		config.Server.Port = *flags.Port
	}
	if flags.MetricsPort != nil && flagSet("metrics-port") {
		config.Server.MetricsPort = *flags.MetricsPort
	}
	if flags.DatabasePath != nil && flagSet("db-path") {
		config.Database.Path = *flags.DatabasePath
	}
	if flags.LogLevel != nil && flagSet("log-level") {
		config.Observability.Logging.Level = *flags.LogLevel
	}
	if flags.LogFormat != nil && flagSet("log-format") {
		config.Observability.Logging.Format = *flags.LogFormat
	}
	if flags.TracingEnabled != nil && flagSet("tracing-enabled") {
		config.Observability.Tracing.Enabled = *flags.TracingEnabled
	}
	if flags.HotReload != nil && flagSet("hot-reload") {
		config.HotReload.Enabled = *flags.HotReload
	}
	if flags.HotReloadDebounce != nil && flagSet("hot-reload-debounce") {
		config.HotReload.Debounce = *flags.HotReloadDebounce
	}
}

// mergeConfig merges file configuration into the base configuration.
func mergeConfig(base *Config, file *Config) {
	if file.Server.Host != "" {
		base.Server.Host = file.Server.Host
	}
	if file.Server.Port != "" {
		base.Server.Port = file.Server.Port
	}
	if file.Server.MetricsPort != "" {
		base.Server.MetricsPort = file.Server.MetricsPort
	}
	if file.Server.ReadTimeout > 0 {
		base.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout > 0 {
		base.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout > 0 {
		base.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.ShutdownTimeout > 0 {
		base.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}

	if file.Database.Path != "" {
		base.Database.Path = file.Database.Path
	}

	if file.Observability.Logging.Level != "" {
		base.Observability.Logging.Level = file.Observability.Logging.Level
	}
	if file.Observability.Logging.Format != "" {
		base.Observability.Logging.Format = file.Observability.Logging.Format
	}
	if file.Observability.Metrics.Enabled != base.Observability.Metrics.Enabled {
		base.Observability.Metrics.Enabled = file.Observability.Metrics.Enabled
	}
	if file.Observability.Metrics.Path != "" {
		base.Observability.Metrics.Path = file.Observability.Metrics.Path
	}
	if file.Observability.Tracing.Enabled != base.Observability.Tracing.Enabled {
		base.Observability.Tracing.Enabled = file.Observability.Tracing.Enabled
	}
	if file.Observability.Tracing.ServiceName != "" {
		base.Observability.Tracing.ServiceName = file.Observability.Tracing.ServiceName
	}

	if file.HotReload.Enabled != base.HotReload.Enabled {
		base.HotReload.Enabled = file.HotReload.Enabled
	}
	if file.HotReload.Debounce > 0 {
		base.HotReload.Debounce = file.HotReload.Debounce
	}

	for key, value := range file.Concurrency {
		base.Concurrency[key] = value
	}
}

// validateFilePath checks if the file path is safe to read.
func validateFilePath(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	cleanPath := filepath.Clean(absPath)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal attempts")
	}
	return nil
}
