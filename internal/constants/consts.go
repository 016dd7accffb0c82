package constants

import "time"

// Environment variable constants
const (
	EnvHost              = "OCCKIT_HOST"
	EnvPort              = "OCCKIT_PORT"
	EnvMetricsPort       = "OCCKIT_METRICS_PORT"
	EnvReadTimeout       = "OCCKIT_READ_TIMEOUT"
	EnvWriteTimeout      = "OCCKIT_WRITE_TIMEOUT"
	EnvIdleTimeout       = "OCCKIT_IDLE_TIMEOUT"
	EnvShutdownTimeout   = "OCCKIT_SHUTDOWN_TIMEOUT"
	EnvDatabasePath      = "OCCKIT_DB_PATH"
	EnvHotReload         = "OCCKIT_HOT_RELOAD"
	EnvHotReloadDebounce = "OCCKIT_HOT_RELOAD_DEBOUNCE"
	EnvLogLevel          = "OCCKIT_LOG_LEVEL"
	EnvLogFormat         = "OCCKIT_LOG_FORMAT"
	EnvTracingEnabled    = "OCCKIT_TRACING_ENABLED"
)

// SettingsPrefix is the namespace for concurrency settings. Individual
// settings are looked up as <prefix>_<KEY> (CONCURRENCY_POLICY and so on).
const SettingsPrefix = "CONCURRENCY"

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderRecordVersion = "X-Record-Version"
)

// Content type constants
const (
	ContentTypeJSON = "application/json"
)

// Path constants
const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"
)

// Server timeout defaults
const (
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 15 * time.Second
	ServerIdleTimeout     = 60 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Conflict callback damping defaults. The limiter caps how often the
// configured callback fires during a conflict storm.
const (
	CallbackRatePerSecond = 10
	CallbackBurst         = 20
)

// Recent-version cache defaults
const (
	VersionCacheTTL             = 30 * time.Second
	VersionCacheCleanupInterval = 5 * time.Minute
)
