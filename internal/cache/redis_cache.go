package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const taxRateKey = "smartkiosco:settings:tax_rate"

type RedisSettingsCache struct {
	client *redis.Client
}

func NewRedisSettingsCache(addr string, password string, db int) *RedisSettingsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSettingsCache{client: client}
}

func (c *RedisSettingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettingsCache) Close() error {
	return c.client.Close()
}

func (c *RedisSettingsCache) GetTaxRate(ctx context.Context) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, taxRateKey).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

func (c *RedisSettingsCache) SetTaxRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, taxRateKey, rate.String(), ttl).Err()
}

func (c *RedisSettingsCache) InvalidateTaxRate(ctx context.Context) error {
	return c.client.Del(ctx, taxRateKey).Err()
}
