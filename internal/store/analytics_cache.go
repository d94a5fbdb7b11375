/**
 * @description
 * This file implements a small Redis cache for pool analytics. The
 * aggregate query joins every payment a pool ever made, so dashboards that
 * poll it lean on this cache instead of the database. The cache is
 * strictly best-effort: a nil client, a miss or a Redis error all fall
 * through to the live query.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/redis/go-redis/v9"
)

const analyticsKeyPrefix = "assistance:pool_analytics"

// AnalyticsCache caches computed pool analytics in Redis with a short TTL.
// All methods are safe to call with a nil receiver or nil client; they
// behave as a permanent miss.
type AnalyticsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewAnalyticsCache(client redis.UniversalClient, ttl time.Duration) *AnalyticsCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &AnalyticsCache{client: client, ttl: ttl}
}

func analyticsKey(poolID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", analyticsKeyPrefix, poolID)
}

// Get returns the cached analytics for a pool, or (nil, false) on a miss.
func (c *AnalyticsCache) Get(ctx context.Context, poolID uuid.UUID) (*domain.PoolAnalytics, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, analyticsKey(poolID)).Bytes()
	if err != nil {
		return nil, false
	}
	var analytics domain.PoolAnalytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		return nil, false
	}
	return &analytics, true
}

// Set stores the analytics under the pool's key for the configured TTL.
func (c *AnalyticsCache) Set(ctx context.Context, poolID uuid.UUID, analytics *domain.PoolAnalytics) error {
	if c == nil || c.client == nil || analytics == nil {
		return nil
	}
	raw, err := json.Marshal(analytics)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, analyticsKey(poolID), raw, c.ttl).Err()
}

// Invalidate drops the cached entries for the given pools. Called after
// any mutation that changes a pool's balances.
func (c *AnalyticsCache) Invalidate(ctx context.Context, poolIDs ...uuid.UUID) error {
	if c == nil || c.client == nil || len(poolIDs) == 0 {
		return nil
	}
	keys := make([]string, len(poolIDs))
	for i, id := range poolIDs {
		keys[i] = analyticsKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
