package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	URL           string
	ChannelPrefix string
	PoolSize      int
	MaxRetries    int
}

// RedisPublisher publishes events on Redis pub/sub channels named
// <prefix><event type>. A circuit breaker stops hammering an unreachable
// Redis.
type RedisPublisher struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log := logger.With().Str("component", "events").Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-events",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &RedisPublisher{
		client: client,
		cb:     cb,
		prefix: cfg.ChannelPrefix,
		logger: log,
		now:    time.Now,
	}, nil
}

// Channel returns the pub/sub channel for an event type.
func (p *RedisPublisher) Channel(eventType string) string {
	return p.prefix + eventType
}

// Publish marshals the event envelope and publishes it.
func (p *RedisPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	body, err := json.Marshal(Event{Type: eventType, OccurredAt: p.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.client.Publish(ctx, p.Channel(eventType), body).Err()
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Subscribe returns the raw pub/sub handle for a set of event types. Callers
// own closing it.
func (p *RedisPublisher) Subscribe(ctx context.Context, eventTypes ...string) *redis.PubSub {
	channels := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		channels[i] = p.Channel(t)
	}
	return p.client.Subscribe(ctx, channels...)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
