package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseTimeout bounds the unlock round trip. Release runs on a fresh
// context so a lock is returned even when the caller's context is already
// cancelled.
const releaseTimeout = 5 * time.Second

// releaseSrc deletes the lock key only while it still holds the caller's
// token, so an expired lock reacquired by someone else is never released
// out from under them.
const releaseSrc = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockManager implements domain.LockManager with SET NX and token-checked
// release. Locks expire on their own after the TTL, so a crashed holder
// cannot wedge the resource.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.raw(),
		release: redis.NewScript(releaseSrc),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the named lock for at most ttl and returns the release
// function. Calling release more than once is harmless. When another
// holder has the lock, Acquire returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(relCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
