package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaseManager(t *testing.T) (*LeaseManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client)
	return NewLeaseManager(cache, "lease:pool:", 30*time.Second), mr
}

func TestLeaseExcludesSecondAcquirer(t *testing.T) {
	lm, _ := testLeaseManager(t)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	// While held, nobody else gets it
	second, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	assert.Nil(t, second)

	// A different pool is unaffected
	other, err := lm.Acquire(ctx, "pool-2")
	require.NoError(t, err)
	assert.NotNil(t, other)

	require.NoError(t, lm.Release(ctx, lease))

	third, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestLeaseReleaseChecksToken(t *testing.T) {
	lm, mr := testLeaseManager(t)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	// The lease expires and another holder takes it
	mr.FastForward(time.Minute)
	stolen, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	require.NotNil(t, stolen)

	// Releasing the stale lease must not free the new holder's lease
	require.NoError(t, lm.Release(ctx, lease))
	blocked, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	assert.Nil(t, blocked)
}

func TestLeaseExtendRenewsHeldLease(t *testing.T) {
	lm, mr := testLeaseManager(t)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	mr.FastForward(20 * time.Second)
	require.NoError(t, lm.Extend(ctx, lease))

	// The original TTL would have expired by now; the extension keeps it
	mr.FastForward(20 * time.Second)
	blocked, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	assert.Nil(t, blocked)

	mr.FastForward(time.Minute)
	free, err := lm.Acquire(ctx, "pool-1")
	require.NoError(t, err)
	assert.NotNil(t, free)
}
