package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/occkit/occkit/internal/constants"
)

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            string        `json:"port" yaml:"port"`
	MetricsPort     string        `json:"metrics_port" yaml:"metrics_port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "localhost",
		Port:            "8080",
		MetricsPort:     "9090",
		ReadTimeout:     constants.ServerReadTimeout,
		WriteTimeout:    constants.ServerWriteTimeout,
		IdleTimeout:     constants.ServerIdleTimeout,
		ShutdownTimeout: constants.ServerShutdownTimeout,
	}
}

// Validate validates the server configuration.
func (s *ServerConfig) Validate() error {
	var errs []error

	if s.Host == "" {
		errs = append(errs, errors.New("host cannot be empty"))
	}
	if err := validatePort(s.Port, "port"); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort(s.MetricsPort, "metrics_port"); err != nil {
		errs = append(errs, err)
	}
	if s.Port == s.MetricsPort {
		errs = append(errs, errors.New("port and metrics_port cannot be the same"))
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read_timeout must be positive"))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write_timeout must be positive"))
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout must be positive"))
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validatePort validates a port string.
func validatePort(portStr, fieldName string) error {
	if portStr == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s must be a valid port number: %w", fieldName, err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", fieldName)
	}
	return nil
}
