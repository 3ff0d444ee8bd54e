// Package cache 提供 Redis 客户端封装与 JSON 序列化读写
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/pkg/config"
)

// ErrMiss 键不存在
var ErrMiss = errors.New("cache: miss")

// NewClient 按配置创建 Redis 客户端，多地址时为集群客户端
func NewClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})
}

// RedisCache Redis 缓存实现，所有键自动加前缀
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// New 创建缓存实例并校验连接
func New(ctx context.Context, client redis.UniversalClient, prefix string) (*RedisCache, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logging.Info(ctx, "Redis connected successfully", "prefix", prefix)
	return NewWithClient(client, prefix), nil
}

// NewWithClient 不做连通性检查，直接包装客户端
func NewWithClient(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Key 返回带前缀的完整键
func (rc *RedisCache) Key(parts ...string) string {
	k := rc.prefix
	for i, p := range parts {
		if i > 0 || k != "" {
			k += ":"
		}
		k += p
	}
	return k
}

// GetJSON 读取 JSON 值到 dest，不存在时返回 ErrMiss
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		logging.Error(ctx, "Redis Get failed", "key", key, "error", err)
		return err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("failed to decode cached value %s: %w", key, err)
	}
	return nil
}

// SetJSON 以 JSON 写入，expiration 为 0 时永不过期
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		logging.Error(ctx, "Redis Set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete 删除键
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return rc.client.Del(ctx, keys...).Err()
}

// Close 关闭客户端
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
