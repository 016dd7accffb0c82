package config

import (
	"errors"
	"fmt"
)

// Config is the unified application configuration.
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	HotReload     HotReloadConfig     `json:"hot_reload" yaml:"hot_reload"`

	// Concurrency holds the raw values of the concurrency settings
	// namespace. It is handed to settings.Load as-is; resolution,
	// defaulting and validation of these keys happen there.
	Concurrency map[string]any `json:"concurrency" yaml:"concurrency"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Database:      DefaultDatabaseConfig(),
		Observability: DefaultObservabilityConfig(),
		HotReload:     DefaultHotReloadConfig(),
		Concurrency:   map[string]any{},
	}
}

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}
	if err := c.HotReload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hot reload: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ConcurrencyValues returns a copy of the concurrency section, safe to
// hand to another goroutine.
func (c *Config) ConcurrencyValues() map[string]any {
	values := make(map[string]any, len(c.Concurrency))
	for k, v := range c.Concurrency {
		values[k] = v
	}
	return values
}

// GetServerAddress returns the full server address.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetMetricsAddress returns the full metrics server address.
func (c *Config) GetMetricsAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.MetricsPort)
}
