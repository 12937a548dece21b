// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ repository.RunLocker = (*RedisLocker)(nil)

const lockPrefix = "restyler:run-lock:"

// RedisLocker serializes writers of one run across processes sharing a store.
type RedisLocker struct {
	cli     *redis.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  *zerolog.Logger
}

func NewLocker(c *Client, ttl time.Duration, logger *zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		cli:     c.cli,
		ttl:     ttl,
		wait:    2 * ttl,
		backoff: 50 * time.Millisecond,
		logger:  logger,
	}
}

// Lock retries SETNX until it wins, ctx is done or the wait budget is spent,
// in which case it returns domain.ErrRunLocked.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	rkey := lockPrefix + key
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.cli.SetNX(ctx, rkey, token, l.ttl).Result()
		if err == nil && ok {
			return func() { l.unlock(rkey, token) }, nil
		}
		if err != nil {
			l.logger.Debug().Err(err).Str("key", rkey).Msg("redis lock attempt failed")
		}
		if time.Now().After(deadline) {
			return nil, domain.ErrRunLocked
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result(); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("redis unlock failed; lock will expire")
	}
}
