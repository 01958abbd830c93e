package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/utils"
)

// Tuning channel keys. An operator can observe the live re-crawl offset or
// override it without restarting the process.
const (
	offsetKey         = "crawler:min_offset"
	offsetOverrideKey = "crawler:min_offset_override"
	offsetChannel     = "crawler:offset"
)

// Client wraps the Redis client used as the runtime-tunable configuration
// channel for the crawl parameters.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db))

	return &Client{
		client: rdb,
		logger: logger,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// OffsetOverride reads the operator-supplied minimum re-crawl offset, if any.
// The value is either a Go duration string ("7m30s") or plain seconds.
func (c *Client) OffsetOverride(ctx context.Context) (time.Duration, bool, error) {
	raw, err := c.client.Get(ctx, offsetOverrideKey).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read offset override: %w", err)
	}

	if d, parseErr := time.ParseDuration(raw); parseErr == nil {
		return d, true, nil
	}
	if secs, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
		return time.Duration(secs * float64(time.Second)), true, nil
	}
	return 0, false, fmt.Errorf("offset override %q is neither a duration nor seconds", raw)
}

// PublishOffset records the offset the lag controller computed and notifies
// subscribers. Best-effort: failures are logged, they never affect the
// pipeline.
func (c *Client) PublishOffset(ctx context.Context, offset time.Duration) {
	if err := c.client.Set(ctx, offsetKey, offset.String(), 0).Err(); err != nil {
		c.logger.Warn("Failed to record live offset", zap.Error(err))
		return
	}
	if err := c.client.Publish(ctx, offsetChannel, offset.String()).Err(); err != nil {
		c.logger.Warn("Failed to publish live offset", zap.Error(err))
	}
}
