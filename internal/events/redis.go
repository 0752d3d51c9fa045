package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/observability"
)

// publisher is the subset of *redis.Client the publisher uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher forwards change events to a Redis pub/sub channel so
// tools outside the process can follow reloads.
type RedisPublisher struct {
	client  publisher
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher connects to cfg.URL and checks the connection.
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opt.Addr, err)
	}

	return newRedisPublisher(client, cfg.Channel, logger), nil
}

func newRedisPublisher(client publisher, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  observability.OrNop(logger),
	}
}

// Publish sends event as JSON. It has the Listener signature.
func (p *RedisPublisher) Publish(ctx context.Context, event ChangedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	p.logger.Debug("Published change event",
		zap.String("channel", p.channel),
		zap.String("event", event.ID),
		zap.Int64("receivers", receivers))
	return nil
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
