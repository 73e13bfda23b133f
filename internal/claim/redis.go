package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/medcia/medreminder/internal/config"
)

// releaseScript deletes the key only while it still holds our token, so a
// claim that expired and was taken by another process is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a cross-process claim stored under a single key with a TTL.
type Redis struct {
	client goredis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedis wraps client. ttl bounds how long a crashed holder blocks others.
func NewRedis(client goredis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

// NewRedisFromConfig dials REDIS_ADDR. The connection is lazy; the first
// Acquire surfaces connectivity errors.
func NewRedisFromConfig(cfg config.ClaimConfig) *Redis {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedis(client, cfg.Key, cfg.TTL)
}

// Acquire implements Locker with SET NX PX.
func (r *Redis) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim/redis: setnx: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			return fmt.Errorf("claim/redis: release: %w", err)
		}
		return nil
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
