// Package lock provides a Redis-backed mutual exclusion lease used to
// serialize check-then-create sequences that run on multiple nodes.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only when it still holds the caller's token,
// so an expired lease can never release a newer holder.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker acquires per-key leases in Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewLocker constructs a Locker. Leases expire after ttl; acquisition is
// retried every retry interval until the context is done.
func NewLocker(client *redis.Client, ttl, retry time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &Locker{client: client, ttl: ttl, retry: retry}
}

// Lease is a held lock that must be released by the acquirer.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire blocks until the key is leased or the context is done.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("platform/lock: acquire %s: %w", key, err)
		}
		if ok {
			return &Lease{locker: l, key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("platform/lock: acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release gives up the lease. Releasing an expired lease is a no-op.
func (le *Lease) Release(ctx context.Context) error {
	if err := unlockScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("platform/lock: release %s: %w", le.key, err)
	}
	return nil
}
