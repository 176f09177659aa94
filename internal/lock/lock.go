// Package lock provides the Redis leader lock that keeps a single scheduler
// active when several engine instances share one database.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const leaderKey = "areaengine:scheduler:leader"

// RedisLeaderLock implements the scheduler's LeaderLock on a Redis SET NX key
// with a TTL. The holder renews by resetting the TTL on every tick; when a
// holder dies the key expires and another instance takes over.
type RedisLeaderLock struct {
	client *redis.Client
	id     string
	ttl    time.Duration
}

// NewRedisLeaderLock constructs the lock. ttl should be a few tick intervals
// so a crashed leader is replaced quickly but a slow tick does not lose it.
func NewRedisLeaderLock(client *redis.Client, ttl time.Duration) *RedisLeaderLock {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisLeaderLock{client: client, id: uuid.NewString(), ttl: ttl}
}

// TryAcquire reports whether this instance holds leadership right now.
// Redis being unreachable counts as holding it, so a cache outage degrades to
// every instance scheduling rather than none.
func (l *RedisLeaderLock) TryAcquire(ctx context.Context) bool {
	acquired, err := l.client.SetNX(ctx, leaderKey, l.id, l.ttl).Result()
	if err != nil {
		log.Warnf("lock: redis unreachable, assuming leadership: %v", err)
		return true
	}
	if acquired {
		return true
	}

	holder, err := l.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if err == redis.Nil {
			return false
		}
		log.Warnf("lock: redis unreachable, assuming leadership: %v", err)
		return true
	}
	if holder != l.id {
		return false
	}
	// Still the holder; renew the TTL.
	if errExpire := l.client.Expire(ctx, leaderKey, l.ttl).Err(); errExpire != nil {
		log.Warnf("lock: renew leadership: %v", errExpire)
	}
	return true
}

// Release drops leadership if this instance holds it. Best effort on
// shutdown; the TTL covers the crash path.
func (l *RedisLeaderLock) Release(ctx context.Context) {
	holder, err := l.client.Get(ctx, leaderKey).Result()
	if err != nil || holder != l.id {
		return
	}
	if errDel := l.client.Del(ctx, leaderKey).Err(); errDel != nil {
		log.Warnf("lock: release leadership: %v", errDel)
	}
}
