package config

import (
	"fmt"
	"time"

	"github.com/leslieo2/devreload/internal/constants"
)

// WatchConfig represents file watching configuration
type WatchConfig struct {
	Paths        []string      `json:"paths" yaml:"paths"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	QuietPeriod  time.Duration `json:"quiet_period" yaml:"quiet_period"`
	Notify       bool          `json:"notify" yaml:"notify"`
	ContentHash  bool          `json:"content_hash" yaml:"content_hash"`
}

// DefaultWatchConfig returns default watch configuration
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Paths:        []string{"."},
		PollInterval: constants.DefaultPollInterval,
		QuietPeriod:  constants.DefaultQuietPeriod,
		Notify:       true,
		ContentHash:  false,
	}
}

// Validate validates watch configuration
func (w WatchConfig) Validate() error {
	if len(w.Paths) == 0 {
		return fmt.Errorf("at least one watch path is required")
	}
	for i, p := range w.Paths {
		if p == "" {
			return fmt.Errorf("watch path %d cannot be empty", i)
		}
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if w.QuietPeriod < 0 {
		return fmt.Errorf("quiet period must be non-negative")
	}
	if w.PollInterval <= w.QuietPeriod {
		return fmt.Errorf("poll interval %s must be greater than quiet period %s", w.PollInterval, w.QuietPeriod)
	}
	return nil
}
