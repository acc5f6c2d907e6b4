package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseManager hands out short-lived per-pool leases so only one agent
// instance processes a given pool's transitions, verification sweep, or
// settlement at a time. Leases are advisory; settlement stays exactly-once
// through the payout ledger even if a lease expires mid-run.
type LeaseManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLeaseManager creates a lease manager on top of a Redis connection
func NewLeaseManager(cache *RedisCache, prefix string, ttl time.Duration) *LeaseManager {
	return &LeaseManager{
		client: cache.Client(),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Lease represents a held lease
type Lease struct {
	Key   string
	Token string
}

// Acquire attempts to take the lease for a pool. Returns (nil, nil) when
// another holder already owns it.
func (lm *LeaseManager) Acquire(ctx context.Context, poolID string) (*Lease, error) {
	key := lm.prefix + poolID
	token := uuid.New().String()

	ok, err := lm.client.SetNX(ctx, key, token, lm.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for pool %s: %w", poolID, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lease{Key: key, Token: token}, nil
}

// releaseScript deletes the lease only if the token still matches, so an
// expired lease reacquired by another holder is never released by the
// original one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release gives up a held lease
func (lm *LeaseManager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, lm.client, []string{lease.Key}, lease.Token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease %s: %w", lease.Key, err)
	}
	return nil
}

// Extend renews a held lease's TTL while a long-running sweep is in progress
func (lm *LeaseManager) Extend(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	val, err := lm.client.Get(ctx, lease.Key).Result()
	if err == redis.Nil || val != lease.Token {
		return fmt.Errorf("lease %s no longer held", lease.Key)
	}
	if err != nil {
		return fmt.Errorf("failed to check lease %s: %w", lease.Key, err)
	}

	return lm.client.Expire(ctx, lease.Key, lm.ttl).Err()
}
