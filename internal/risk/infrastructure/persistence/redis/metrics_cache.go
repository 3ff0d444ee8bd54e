package redis

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/cache"
)

// JSONStore 带前缀的 JSON 键值存储，*cache.RedisCache 即为实现
type JSONStore interface {
	Key(parts ...string) string
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
}

type metricsCache struct {
	store JSONStore
}

// NewMetricsCache 创建组合指标缓存，键为 <prefix>:metrics:<portfolio_id>
func NewMetricsCache(store JSONStore) domain.MetricsCache {
	return &metricsCache{store: store}
}

func (c *metricsCache) SetMetrics(ctx context.Context, result *domain.RiskMetricsResult, ttl time.Duration) error {
	if result == nil {
		return nil
	}
	return c.store.SetJSON(ctx, c.store.Key("metrics", result.PortfolioID), result, ttl)
}

func (c *metricsCache) GetMetrics(ctx context.Context, portfolioID string) (*domain.RiskMetricsResult, error) {
	var res domain.RiskMetricsResult
	err := c.store.GetJSON(ctx, c.store.Key("metrics", portfolioID), &res)
	if errors.Is(err, cache.ErrMiss) {
		return nil, domain.NotFound("portfolio_metrics", portfolioID)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
