package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for job locks and recovery attempt windows.
type Client struct {
	rdb   *redis.Client
	owner string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, owner: uuid.New().String()}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func lockKey(key string) string {
	return fmt.Sprintf("transync:lock:%s", key)
}

func attemptsKey(scope string) string {
	return fmt.Sprintf("transync:attempts:%s", scope)
}

// releaseScript deletes the lock only while this client still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock attempts to acquire an execution lock for a job key.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(key), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases a lock held by this client. Locks taken over by
// another owner after expiry are left alone.
func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, c.owner).Err(); err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}

// RefreshLock extends the TTL of a lock.
func (c *Client) RefreshLock(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, lockKey(key), ttl).Err()
}
