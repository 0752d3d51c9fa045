package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/leslieo2/devreload/internal/constants"
)

// RemoteConfig configures the endpoint that accepts file updates pushed
// from another machine
type RemoteConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Host           string `json:"host" yaml:"host"`
	Port           string `json:"port" yaml:"port"`
	Secret         string `json:"secret" yaml:"secret"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DefaultRemoteConfig returns default remote update configuration
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Enabled:        false,
		Host:           "localhost",
		Port:           constants.RemoteDefaultPort,
		MaxUploadBytes: constants.RemoteMaxUploadBytes,
	}
}

// Validate validates the remote update configuration. An enabled
// endpoint always requires a secret.
func (r RemoteConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Secret == "" {
		return errors.New("secret is required when the remote endpoint is enabled")
	}
	if r.Host == "" {
		return errors.New("host cannot be empty")
	}
	if err := validatePort(r.Port, "port"); err != nil {
		return err
	}
	if r.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", r.MaxUploadBytes)
	}
	return nil
}

// Addr returns the host:port listen address.
func (r RemoteConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}
