package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trancheworks/cascade/internal/domain"
)

// resultTTL bounds how long a cached period result is served before
// falling back to the ledger store.
const resultTTL = 24 * time.Hour

// ResultCache implements domain.ResultCache: the latest completed period
// result per deal, serialized as JSON.
type ResultCache struct {
	rdb *redis.Client
}

// NewResultCache creates a ResultCache backed by the given Client.
func NewResultCache(c *Client) *ResultCache {
	return &ResultCache{rdb: c.Underlying()}
}

func resultKey(dealID string) string {
	return "result:latest:" + dealID
}

// SetLatest stores the period result as the deal's latest.
func (rc *ResultCache) SetLatest(ctx context.Context, res domain.PeriodResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: marshal result %s/%d: %w", res.DealID, res.Period, err)
	}
	if err := rc.rdb.Set(ctx, resultKey(res.DealID), data, resultTTL).Err(); err != nil {
		return fmt.Errorf("redis: set latest result %s: %w", res.DealID, err)
	}
	return nil
}

// GetLatest returns the deal's latest cached period result, or
// domain.ErrNotFound when the cache is cold.
func (rc *ResultCache) GetLatest(ctx context.Context, dealID string) (domain.PeriodResult, error) {
	data, err := rc.rdb.Get(ctx, resultKey(dealID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PeriodResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PeriodResult{}, fmt.Errorf("redis: get latest result %s: %w", dealID, err)
	}

	var res domain.PeriodResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.PeriodResult{}, fmt.Errorf("redis: unmarshal result %s: %w", dealID, err)
	}
	return res, nil
}

// Compile-time interface check.
var _ domain.ResultCache = (*ResultCache)(nil)
