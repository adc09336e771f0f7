package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openchat-io/openchat/internal/config"
)

// redisClient defines the subset of go-redis the backend uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const resetScanCount = 500

// RedisBackend stores one key per online user: {prefix}{userID}.
type RedisBackend struct {
	client redisClient
	prefix string
}

// NewRedisBackend creates a Backend over an existing client.
func NewRedisBackend(client redisClient, prefix string) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

// DialRedis connects to Redis using the presence configuration and verifies
// the connection with a ping.
func DialRedis(ctx context.Context, cfg config.PresenceConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

func (b *RedisBackend) key(userID string) string {
	return b.prefix + userID
}

func (b *RedisBackend) SetOnline(ctx context.Context, userID string) error {
	if err := b.client.Set(ctx, b.key(userID), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key(userID), err)
	}
	return nil
}

func (b *RedisBackend) SetOffline(ctx context.Context, userID string) error {
	if err := b.client.Del(ctx, b.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", b.key(userID), err)
	}
	return nil
}

func (b *RedisBackend) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = b.key(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		if v != nil && i < len(userIDs) {
			out[userIDs[i]] = true
		}
	}
	return out, nil
}

// Reset deletes every key under the prefix. An empty prefix is refused since
// it would match the whole database.
func (b *RedisBackend) Reset(ctx context.Context) (int64, error) {
	if b.prefix == "" {
		return 0, fmt.Errorf("refusing to reset redis presence without a key prefix")
	}
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", resetScanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan %s*: %w", b.prefix, err)
		}
		if len(keys) > 0 {
			n, err := b.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
