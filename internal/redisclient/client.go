package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// StockTTL bounds how stale a cached stock figure may get
	StockTTL = 30 * time.Second
	// DeliveryTTL is how long a processed callback fingerprint is remembered
	DeliveryTTL = 24 * time.Hour
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

func deliveryKey(fingerprint string) string {
	return "webhook:delivery:" + fingerprint
}

// GetStock returns the cached stock of a product. ok is false on a cache miss.
func (c *Client) GetStock(ctx context.Context, productID int64) (stock int, ok bool, err error) {
	stock, err = c.rdb.Get(ctx, stockKey(productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached stock: %w", err)
	}
	return stock, true, nil
}

// SetStock caches the stock of a product
func (c *Client) SetStock(ctx context.Context, productID int64, stock int) error {
	if err := c.rdb.Set(ctx, stockKey(productID), stock, StockTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache stock: %w", err)
	}
	return nil
}

// SetStocks caches stock for many products in one round trip
func (c *Client) SetStocks(ctx context.Context, stocks map[int64]int) error {
	pipe := c.rdb.Pipeline()
	for productID, stock := range stocks {
		pipe.Set(ctx, stockKey(productID), stock, StockTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// SeenDelivery reports whether a callback fingerprint was already processed
func (c *Client) SeenDelivery(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.rdb.Exists(ctx, deliveryKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return n > 0, nil
}

// MarkDelivery remembers a processed callback fingerprint
func (c *Client) MarkDelivery(ctx context.Context, fingerprint string) error {
	if err := c.rdb.Set(ctx, deliveryKey(fingerprint), 1, DeliveryTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark delivery: %w", err)
	}
	return nil
}
