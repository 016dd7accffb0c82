package config

import (
	"errors"
	"fmt"
	"strings"
)

// ObservabilityConfig contains observability-related configuration.
type ObservabilityConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Format      string `json:"format" yaml:"format"`
	Development bool   `json:"development" yaml:"development"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Environment string `json:"environment" yaml:"environment"`
}

// DefaultObservabilityConfig returns default observability configuration.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "occkit",
			Version:     "dev",
			Environment: "development",
		},
	}
}

// Validate validates the observability configuration.
func (o *ObservabilityConfig) Validate() error {
	var errs []error

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(o.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level must be one of: debug, info, warn, error"))
	}

	validFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validFormats[strings.ToLower(o.Logging.Format)] {
		errs = append(errs, fmt.Errorf("logging.format must be one of: json, console"))
	}

	if o.Metrics.Enabled {
		if o.Metrics.Path == "" {
			errs = append(errs, errors.New("metrics.path cannot be empty when metrics are enabled"))
		} else if !strings.HasPrefix(o.Metrics.Path, "/") {
			errs = append(errs, errors.New("metrics.path must start with /"))
		}
	}

	if o.Tracing.Enabled && o.Tracing.ServiceName == "" {
		errs = append(errs, errors.New("tracing.service_name cannot be empty when tracing is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
