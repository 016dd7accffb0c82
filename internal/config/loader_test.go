package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// Helper functions for pointers
func stringPtr(s string) *string                 { return &s }
func boolPtr(b bool) *bool                       { return &b }
func durationPtr(d time.Duration) *time.Duration { return &d }

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name           string
		configFile     string
		fileContent    string
		envVars        map[string]string
		cliFlags       *CLIFlags
		expectedConfig *Config
		wantErr        bool
	}{
		{
			name:           "Default Config Only",
			expectedConfig: DefaultConfig(),
		},
		{
			name:        "Load from YAML file",
			fileContent: `server: {port: "8081"}`,
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.Server.Port = "8081"
				return cfg
			}(),
		},
		{
			name:        "Load from JSON file",
			fileContent: `{"server": {"port": "8082"}}`,
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.Server.Port = "8082"
				return cfg
			}(),
		},
		{
			name:        "Concurrency section passes through",
			fileContent: "concurrency: {policy: \"abort-all|raise\", callback: log}",
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.Concurrency["policy"] = "abort-all|raise"
				cfg.Concurrency["callback"] = "log"
				return cfg
			}(),
		},
		{
			name:       "File not found",
			configFile: "nonexistent.yaml",
			wantErr:    true,
		},
		{
			name:        "Invalid file content",
			fileContent: `server: {port: "8081"`,
			wantErr:     true,
		},
		{
			name: "Load from Environment Variables",
			envVars: map[string]string{
				"OCCKIT_PORT":    "8083",
				"OCCKIT_DB_PATH": ":memory:",
			},
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.Server.Port = "8083"
				cfg.Database.Path = ":memory:"
				return cfg
			}(),
		},
		{
			name: "Override with CLI Flags",
			cliFlags: &CLIFlags{
				Port: stringPtr("8084"),
			},
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.Server.Port = "8084"
				return cfg
			}(),
		},
		{
			name:        "Precedence: CLI > Env > File > Default",
			fileContent: `server: {port: "8085"}`,
			envVars: map[string]string{
				"OCCKIT_PORT": "8086",
			},
			cliFlags: &CLIFlags{
				Port: stringPtr("8087"),
			},
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.Server.Port = "8087"
				return cfg
			}(),
		},
		{
			name: "Validation Error from CLI",
			cliFlags: &CLIFlags{
				Port: stringPtr("invalid-port"),
			},
			wantErr: true,
		},
		{
			name:        "Validation Error from File",
			fileContent: `server: {port: "invalid-port"}`,
			wantErr:     true,
		},
		{
			name: "Validation Error from Env",
			envVars: map[string]string{
				"OCCKIT_PORT": "invalid-port",
			},
			wantErr: true,
		},
		{
			name: "Hot reload flags",
			cliFlags: &CLIFlags{
				HotReload:         boolPtr(false),
				HotReloadDebounce: durationPtr(time.Second),
			},
			expectedConfig: func() *Config {
				cfg := DefaultConfig()
				cfg.HotReload.Enabled = false
				cfg.HotReload.Debounce = time.Second
				return cfg
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			configFile := tt.configFile
			if tt.fileContent != "" {
				path := filepath.Join(t.TempDir(), "config.yaml")
				if err := os.WriteFile(path, []byte(tt.fileContent), 0o600); err != nil {
					t.Fatalf("failed to write config file: %v", err)
				}
				configFile = path
			}

			cfg, err := LoadConfig(configFile, tt.cliFlags)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if !reflect.DeepEqual(cfg, tt.expectedConfig) {
				t.Errorf("config mismatch:\ngot:  %+v\nwant: %+v", cfg, tt.expectedConfig)
			}
		})
	}
}

func TestLoadConfigUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("port = 8080"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := LoadConfig(path, nil); err == nil {
		t.Fatal("expected error for unsupported config format")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(c *Config) {}},
		{name: "empty host", mutate: func(c *Config) { c.Server.Host = "" }, wantErr: true},
		{name: "port collision", mutate: func(c *Config) { c.Server.MetricsPort = c.Server.Port }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = "70000" }, wantErr: true},
		{name: "negative read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }, wantErr: true},
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Observability.Logging.Level = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Observability.Logging.Format = "xml" }, wantErr: true},
		{name: "metrics path without slash", mutate: func(c *Config) { c.Observability.Metrics.Path = "metrics" }, wantErr: true},
		{name: "negative debounce", mutate: func(c *Config) { c.HotReload.Debounce = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestConcurrencyValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency["policy"] = "silent|raise"

	values := cfg.ConcurrencyValues()
	values["policy"] = "mutated"

	if cfg.Concurrency["policy"] != "silent|raise" {
		t.Error("ConcurrencyValues did not return a copy")
	}
}
