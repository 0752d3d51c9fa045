package config

import (
	"fmt"
	"strings"
)

// EventsConfig configures where change events are published
type EventsConfig struct {
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig configures the Redis pub/sub publisher
type RedisConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Channel string `json:"channel" yaml:"channel"`
}

// DefaultEventsConfig returns default events configuration
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		Redis: RedisConfig{
			Enabled: false,
			URL:     "redis://localhost:6379/0",
			Channel: "devreload.changes",
		},
	}
}

// Validate validates events configuration
func (e EventsConfig) Validate() error {
	if !e.Redis.Enabled {
		return nil
	}
	if !strings.HasPrefix(e.Redis.URL, "redis://") && !strings.HasPrefix(e.Redis.URL, "rediss://") {
		return fmt.Errorf("redis url must use the redis:// or rediss:// scheme")
	}
	if e.Redis.Channel == "" {
		return fmt.Errorf("redis channel cannot be empty")
	}
	return nil
}
