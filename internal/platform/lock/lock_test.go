package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-config/meridian/internal/platform/lock"
)

func newLocker(t *testing.T) (*lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return lock.NewLocker(client, time.Minute, 5*time.Millisecond), mr
}

func TestAcquireRelease(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "provision:app:test:lock")
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))

	// Key is free again.
	lease2, err := locker.Acquire(ctx, "provision:app:test:lock")
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "provision:app:held:lock")
	require.NoError(t, err)

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(blockedCtx, "provision:app:held:lock")
	require.Error(t, err)

	require.NoError(t, lease.Release(ctx))

	lease2, err := locker.Acquire(ctx, "provision:app:held:lock")
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestReleaseExpiredLeaseDoesNotStealNewHolder(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "provision:app:ttl:lock")
	require.NoError(t, err)

	// Simulate lease expiry followed by another holder taking the key.
	mr.Del("provision:app:ttl:lock")
	lease2, err := locker.Acquire(ctx, "provision:app:ttl:lock")
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	require.True(t, mr.Exists("provision:app:ttl:lock"))
	require.NoError(t, lease2.Release(ctx))
}
