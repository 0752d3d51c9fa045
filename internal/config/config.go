package config

import (
	"fmt"
)

// Config represents the unified configuration structure
type Config struct {
	Watch         WatchConfig         `json:"watch" yaml:"watch"`
	Restart       RestartConfig       `json:"restart" yaml:"restart"`
	LiveReload    LiveReloadConfig    `json:"livereload" yaml:"livereload"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Events        EventsConfig        `json:"events" yaml:"events"`
	Remote        RemoteConfig        `json:"remote" yaml:"remote"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Watch:         DefaultWatchConfig(),
		Restart:       DefaultRestartConfig(),
		LiveReload:    DefaultLiveReloadConfig(),
		Observability: DefaultObservabilityConfig(),
		Events:        DefaultEventsConfig(),
		Remote:        DefaultRemoteConfig(),
	}
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch config validation failed: %w", err)
	}
	if err := c.Restart.Validate(); err != nil {
		return fmt.Errorf("restart config validation failed: %w", err)
	}
	if err := c.LiveReload.Validate(); err != nil {
		return fmt.Errorf("livereload config validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config validation failed: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config validation failed: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote config validation failed: %w", err)
	}
	return nil
}

// LoadableRoots returns the roots handed to each new generation. They
// default to the watched paths.
func (c *Config) LoadableRoots() []string {
	if len(c.Restart.LoadableRoots) > 0 {
		return append([]string(nil), c.Restart.LoadableRoots...)
	}
	return append([]string(nil), c.Watch.Paths...)
}
