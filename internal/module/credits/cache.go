package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no cached balance exists for the user.
var ErrCacheMiss = errors.New("balance cache miss")

// BalanceCache caches read-only balance snapshots so access checks do not
// hit the database on every feature call. Mutations invalidate rather than
// update: the next read repopulates from the ledger, which stays the source
// of truth.
type BalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewBalanceCache creates a balance cache. A nil client disables caching;
// all reads miss and invalidations are no-ops.
func NewBalanceCache(client redis.UniversalClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID uuid.UUID) string {
	return "credits:balance:" + userID.String()
}

// Get returns the cached balance snapshot, or ErrCacheMiss.
func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (*AccessStatus, error) {
	if c.client == nil {
		return nil, ErrCacheMiss
	}
	data, err := c.client.Get(ctx, balanceKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get balance cache: %w", err)
	}
	var status AccessStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode balance cache: %w", err)
	}
	return &status, nil
}

// Set stores a balance snapshot with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, userID uuid.UUID, status *AccessStatus) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode balance cache: %w", err)
	}
	if err := c.client.Set(ctx, balanceKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set balance cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot after a ledger mutation.
func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate balance cache: %w", err)
	}
	return nil
}
