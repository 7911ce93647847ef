package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"finops-api/internal/models"
	"finops-api/internal/monitoring"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type CacheService interface {
	// Generic cache operations
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Balance cache operations. Entries live ~30s; every successful
	// execution invalidates the affected wallet before returning.
	CacheBalance(ctx context.Context, balance *models.WalletBalance) error
	GetCachedBalance(ctx context.Context, walletID string) (*models.WalletBalance, error)
	InvalidateBalance(ctx context.Context, walletID string) error

	// Wallet configuration cache operations
	CacheWallet(ctx context.Context, wallet *models.WalletConfiguration, expiration time.Duration) error
	GetCachedWallet(ctx context.Context, walletID string) (*models.WalletConfiguration, error)
	InvalidateWallet(ctx context.Context, walletID string) error

	HealthCheck(ctx context.Context) error
}

type cacheService struct {
	client     *redis.Client
	balanceTTL time.Duration
}

func NewCacheService(client *redis.Client, balanceTTL time.Duration) CacheService {
	return &cacheService{
		client:     client,
		balanceTTL: balanceTTL,
	}
}

const keyPrefix = "finops:"

func buildKey(parts ...string) string {
	key := keyPrefix
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}

func (c *cacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	return nil
}

func (c *cacheService) Get(ctx context.Context, key string, dest interface{}) error {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return nil
}

func (c *cacheService) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

func (c *cacheService) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cache key %s: %w", key, err)
	}
	return count > 0, nil
}

func (c *cacheService) CacheBalance(ctx context.Context, balance *models.WalletBalance) error {
	return c.Set(ctx, buildKey("balance", balance.WalletID), balance, c.balanceTTL)
}

func (c *cacheService) GetCachedBalance(ctx context.Context, walletID string) (*models.WalletBalance, error) {
	var balance models.WalletBalance
	err := c.Get(ctx, buildKey("balance", walletID), &balance)
	if err != nil {
		monitoring.RecordBalanceCache(false)
		return nil, err
	}

	monitoring.RecordBalanceCache(true)
	return &balance, nil
}

func (c *cacheService) InvalidateBalance(ctx context.Context, walletID string) error {
	return c.Delete(ctx, buildKey("balance", walletID))
}

func (c *cacheService) CacheWallet(ctx context.Context, wallet *models.WalletConfiguration, expiration time.Duration) error {
	return c.Set(ctx, buildKey("wallet", wallet.WalletID), wallet, expiration)
}

func (c *cacheService) GetCachedWallet(ctx context.Context, walletID string) (*models.WalletConfiguration, error) {
	var wallet models.WalletConfiguration
	if err := c.Get(ctx, buildKey("wallet", walletID), &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (c *cacheService) InvalidateWallet(ctx context.Context, walletID string) error {
	return c.Delete(ctx, buildKey("wallet", walletID))
}

func (c *cacheService) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
