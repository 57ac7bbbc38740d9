package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects and verifies the instance is reachable.
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// SessionLocker serializes turn execution per session across instances.
// One engine instance enforces exclusivity locally; the lock extends the
// guarantee when several instances share sessions.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID, turnID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID, turnID string) error
}

// RedisLocker implements SessionLocker with SET NX.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func lockKey(sessionID string) string {
	return "parallax:session-turn:" + sessionID
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID, turnID string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, lockKey(sessionID), turnID, ttl).Result()
}

// Release deletes the lock only when this turn still owns it.
func (l *RedisLocker) Release(ctx context.Context, sessionID, turnID string) error {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`
	return l.client.Eval(ctx, script, []string{lockKey(sessionID)}, turnID).Err()
}

// NoopLocker grants every acquisition. Used when Redis is not
// configured and a single instance owns all sessions.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}
func (NoopLocker) Release(context.Context, string, string) error { return nil }
