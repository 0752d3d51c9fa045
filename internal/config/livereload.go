package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/leslieo2/devreload/internal/constants"
)

// LiveReloadConfig contains LiveReload server configuration
type LiveReloadConfig struct {
	Enabled          bool                 `json:"enabled" yaml:"enabled"`
	Host             string               `json:"host" yaml:"host"`
	Port             int                  `json:"port" yaml:"port"`
	ReadTimeout      time.Duration        `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     time.Duration        `json:"write_timeout" yaml:"write_timeout"`
	HandshakeTimeout time.Duration        `json:"handshake_timeout" yaml:"handshake_timeout"`
	MaxConnections   int                  `json:"max_connections" yaml:"max_connections"`
	HandshakeLimit   HandshakeLimitConfig `json:"handshake_limit" yaml:"handshake_limit"`
}

// HandshakeLimitConfig limits how often a single client may open connections
type HandshakeLimitConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	RequestsPerSecond int           `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size"`
	Expiry            time.Duration `json:"expiry" yaml:"expiry"`
}

// DefaultLiveReloadConfig returns default LiveReload configuration
func DefaultLiveReloadConfig() LiveReloadConfig {
	return LiveReloadConfig{
		Enabled:          true,
		Host:             "localhost",
		Port:             constants.LiveReloadDefaultPort,
		ReadTimeout:      constants.LiveReloadReadTimeout,
		WriteTimeout:     constants.LiveReloadWriteTimeout,
		HandshakeTimeout: constants.LiveReloadHandshakeTimeout,
		MaxConnections:   constants.LiveReloadMaxConnections,
		HandshakeLimit:   DefaultHandshakeLimitConfig(),
	}
}

// DefaultHandshakeLimitConfig returns default handshake limiting configuration
func DefaultHandshakeLimitConfig() HandshakeLimitConfig {
	return HandshakeLimitConfig{
		Enabled:           true,
		RequestsPerSecond: constants.HandshakeRequestsPerSecond,
		BurstSize:         constants.HandshakeBurstSize,
		Expiry:            constants.HandshakeLimiterExpiry,
	}
}

// Addr returns the listen address
func (l LiveReloadConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Validate validates the LiveReload configuration
func (l LiveReloadConfig) Validate() error {
	if !l.Enabled {
		return nil
	}

	var errs []error
	if l.Host == "" {
		errs = append(errs, errors.New("host cannot be empty"))
	}
	if l.Port < 1 || l.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", l.Port))
	}
	if l.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read_timeout must be positive"))
	}
	if l.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write_timeout must be positive"))
	}
	if l.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake_timeout must be positive"))
	}
	if l.MaxConnections < 1 {
		errs = append(errs, errors.New("max_connections must be at least 1"))
	}
	if err := l.HandshakeLimit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("handshake_limit: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates the handshake limit configuration
func (h HandshakeLimitConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	if h.BurstSize <= 0 {
		return errors.New("burst_size must be positive")
	}
	if h.Expiry <= 0 {
		return errors.New("expiry must be positive")
	}
	return nil
}

// validatePort validates a port string
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

	// Reject privileged ports (1-1023) except for common HTTP/HTTPS ports
	if port < 1024 && port != 80 && port != 443 {
		return fmt.Errorf("%s %d is a privileged port (1-1023) and requires elevated privileges - use ports 1024-65535 instead", fieldName, port)
	}

	return nil
}
