// Package redis implements the domain lock on Redis keys with TTL. The key
// layout is lock:domain:{domain} -> job UUID; a crashed process simply lets
// its key expire.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:domain:"

// Check-and-delete and check-and-expire must be atomic, so both run as Lua.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker implements pipeline.DomainLocker on a Redis client.
type Locker struct {
	client redis.UniversalClient
}

// New returns a Locker using the given client.
func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Acquire sets the lock key only if absent (SET NX PX).
func (l *Locker) Acquire(ctx context.Context, domain string, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(domain), jobID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", domain, err)
	}
	return ok, nil
}

// Release deletes the lock key only while jobID still owns it. Releasing a
// lock now owned by someone else (or already expired) is a no-op.
func (l *Locker) Release(ctx context.Context, domain string, jobID uuid.UUID) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{lockKey(domain)}, jobID.String()).Int(); err != nil {
		return fmt.Errorf("release lock for %s: %w", domain, err)
	}
	return nil
}

// Renew extends the TTL while jobID still owns the lock.
func (l *Locker) Renew(ctx context.Context, domain string, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{lockKey(domain)}, jobID.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lock for %s: %w", domain, err)
	}
	return n == 1, nil
}

func lockKey(domain string) string {
	return keyPrefix + domain
}
