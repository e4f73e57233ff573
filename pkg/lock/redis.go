package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix    = "bridge:lock:"
	pollInterval = 100 * time.Millisecond
)

// Delete the key only while it still carries our token.
var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func timeoutDialOptions(password string, database int) []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
		redis.DialPassword(password),
		redis.DialDatabase(database),
	}
}

func NewRedisPool(addr, password string, database int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, timeoutDialOptions(password, database)...)
		},
	}
}

// RedisLocker shares locks between relay instances. Keys expire after the
// ttl so a crashed holder cannot block others forever.
type RedisLocker struct {
	pool *redis.Pool
}

func NewRedisLocker(pool *redis.Pool) *RedisLocker {
	return &RedisLocker{pool: pool}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	token := uuid.New().String()
	_, err = redis.String(conn.Do("SET", keyPrefix+key, token, "NX", "PX", ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("redis set %s: %w", key, err)
	}
	return l.release(key, token), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		release, err := l.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, ErrHeld) {
			return release, err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *RedisLocker) release(key, token string) Release {
	return func() {
		conn := l.pool.Get()
		defer conn.Close()
		if _, err := releaseScript.Do(conn, keyPrefix+key, token); err != nil {
			log.Error().Err(err).Str("key", key).Msg("[RedisLocker] failed to release lock")
		}
	}
}
