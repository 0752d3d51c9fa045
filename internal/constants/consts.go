package constants

import "time"

// Environment variable constants
const (
	EnvConfigFile        = "DEVRELOAD_CONFIG"
	EnvWatchPaths        = "DEVRELOAD_WATCH_PATHS"
	EnvPollInterval      = "DEVRELOAD_POLL_INTERVAL"
	EnvQuietPeriod       = "DEVRELOAD_QUIET_PERIOD"
	EnvWatchNotify       = "DEVRELOAD_WATCH_NOTIFY"
	EnvContentHash       = "DEVRELOAD_CONTENT_HASH"
	EnvRestartEnabled    = "DEVRELOAD_RESTART_ENABLED"
	EnvTriggerFile       = "DEVRELOAD_TRIGGER_FILE"
	EnvAdditionalExclude = "DEVRELOAD_ADDITIONAL_EXCLUDE"
	EnvShutdownTimeout   = "DEVRELOAD_SHUTDOWN_TIMEOUT"
	EnvLiveReload        = "DEVRELOAD_LIVERELOAD_ENABLED"
	EnvLiveReloadHost    = "DEVRELOAD_LIVERELOAD_HOST"
	EnvLiveReloadPort    = "DEVRELOAD_LIVERELOAD_PORT"
	EnvMetricsEnabled    = "DEVRELOAD_METRICS_ENABLED"
	EnvMetricsPort       = "DEVRELOAD_METRICS_PORT"
	EnvLogLevel          = "DEVRELOAD_LOG_LEVEL"
	EnvLogFormat         = "DEVRELOAD_LOG_FORMAT"
	EnvTracingEnabled    = "DEVRELOAD_TRACING_ENABLED"
	EnvRedisEnabled      = "DEVRELOAD_REDIS_ENABLED"
	EnvRedisURL          = "DEVRELOAD_REDIS_URL"
	EnvRedisChannel      = "DEVRELOAD_REDIS_CHANNEL"
	EnvRemoteEnabled     = "DEVRELOAD_REMOTE_ENABLED"
	EnvRemotePort        = "DEVRELOAD_REMOTE_PORT"
	EnvRemoteSecret      = "DEVRELOAD_REMOTE_SECRET"
)

// Variables exported to relaunched child processes
const (
	EnvLoadableRoots = "DEVRELOAD_LOADABLE_ROOTS"
	EnvGeneration    = "DEVRELOAD_GENERATION"
)

// DefaultEnvFile is loaded before environment parsing when present
const DefaultEnvFile = ".env"

// LiveReload protocol constants
const (
	LiveReloadDefaultPort = 35729
	LiveReloadPath        = "/livereload"
	LiveReloadServerName  = "devreload"

	CommandHello  = "hello"
	CommandReload = "reload"

	// FullReloadPath asks clients to reload the whole page
	FullReloadPath = "*"

	ProtocolOfficial7              = "http://livereload.com/protocols/official-7"
	ProtocolOfficial8              = "http://livereload.com/protocols/official-8"
	ProtocolOfficial9              = "http://livereload.com/protocols/official-9"
	ProtocolOriginVersionNegotiate = "http://livereload.com/protocols/2.x-origin-version-negotiation"
	ProtocolRemoteControl          = "http://livereload.com/protocols/2.x-remote-control"
)

// SupportedProtocols lists LiveReload protocols in server preference order
var SupportedProtocols = []string{
	ProtocolOfficial7,
	ProtocolOfficial8,
	ProtocolOfficial9,
	ProtocolOriginVersionNegotiate,
	ProtocolRemoteControl,
}

// Watch defaults
const (
	DefaultPollInterval = time.Second
	DefaultQuietPeriod  = 400 * time.Millisecond
)

// Restart defaults
const (
	DefaultStartupGrace    = 500 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
	DefaultKillDelay       = 5 * time.Second
)

// LiveReload server defaults
const (
	// LiveReloadReadTimeout is the ping interval for idle peers
	LiveReloadReadTimeout      = 4 * time.Second
	LiveReloadWriteTimeout     = 4 * time.Second
	LiveReloadHandshakeTimeout = 4 * time.Second
	LiveReloadMaxConnections   = 64
)

// Handshake limiter defaults
const (
	HandshakeRequestsPerSecond = 10
	HandshakeBurstSize         = 20
	HandshakeLimiterExpiry     = 5 * time.Minute
)

// Remote update defaults
const (
	RemoteDefaultPort    = "35730"
	RemoteMaxUploadBytes = 64 << 20
)

// Error code constants
const (
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeForbidden         = "FORBIDDEN"
	ErrorCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrorCodeInvalidUpdate     = "INVALID_UPDATE"
	ErrorCodeUpdateFailed      = "UPDATE_FAILED"
)

// HTTP header constants
const (
	HeaderContentType       = "Content-Type"
	HeaderRetryAfter        = "Retry-After"
	HeaderWebSocketProtocol = "Sec-WebSocket-Protocol"
	HeaderAuthToken         = "X-AUTH-TOKEN"
	ContentTypeJSON         = "application/json"
)

// Path constants
const (
	PathHealth  = "/healthz"
	PathMetrics = "/metrics"
	PathRestart = "/restart"
)
