package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estatepulse/property-crawler-service/common/config"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the go-redis client with the few operations the crawl
// side needs: the per-source crawl cursor and a session lock.
type RedisClient struct {
	client *redis.Client
}

// NewClient creates a new Redis client instance
func NewClient(cfg config.Config) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
	}, nil
}

// Close closes the Redis client connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}

func cursorKey(source string) string {
	return "crawl:last_start:" + source
}

func lockKey(source string) string {
	return "crawl:lock:" + source
}

// LastCrawlStart returns the start time of the last successful crawl for a
// source, used as the discovery cutoff. A missing key means no previous
// crawl: the caller discovers everything.
func (c *RedisClient) LastCrawlStart(ctx context.Context, source string) (time.Time, bool, error) {
	val, err := c.client.Get(ctx, cursorKey(source)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed crawl cursor for %s: %w", source, err)
	}
	return t, true, nil
}

// SetLastCrawlStart records the start time of a crawl that completed
// successfully. The next run paginates only until it sees listings at or
// before this time.
func (c *RedisClient) SetLastCrawlStart(ctx context.Context, source string, t time.Time) error {
	return c.client.Set(ctx, cursorKey(source), t.UTC().Format(time.RFC3339), 0).Err()
}

// AcquireSessionLock takes a best-effort lock so two crawl sessions for the
// same source do not run concurrently. Returns false if another session
// holds it.
func (c *RedisClient) AcquireSessionLock(ctx context.Context, source string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, lockKey(source), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// ReleaseSessionLock releases the crawl session lock.
func (c *RedisClient) ReleaseSessionLock(ctx context.Context, source string) error {
	return c.client.Del(ctx, lockKey(source)).Err()
}

// GetClient returns the underlying Redis client
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}
