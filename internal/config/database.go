package config

import "fmt"

// DatabaseConfig contains the embedded database configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything
	// in-process, which the tests rely on.
	Path string `json:"path" yaml:"path"`
}

// DefaultDatabaseConfig returns default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path: "occkit.db",
	}
}

// Validate validates the database configuration.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	return nil
}
