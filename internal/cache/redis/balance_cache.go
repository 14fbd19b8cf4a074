package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/openlever/margind/internal/domain"
)

// BalanceCache implements domain.BalanceCache using plain Redis strings at
// key "balance:{owner}". It is a read model maintained by the recorder from
// close confirmations; the engine's book stays authoritative.
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(owner string) string {
	return "balance:" + owner
}

// SetBalance stores the latest known balance for an owner.
func (bc *BalanceCache) SetBalance(ctx context.Context, owner string, balance float64) error {
	val := strconv.FormatFloat(balance, 'f', -1, 64)
	if err := bc.rdb.Set(ctx, balanceKey(owner), val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", owner, err)
	}
	return nil
}

// GetBalance retrieves the cached balance for an owner. It returns
// domain.ErrNotFound when the owner has no cached balance yet.
func (bc *BalanceCache) GetBalance(ctx context.Context, owner string) (float64, error) {
	val, err := bc.rdb.Get(ctx, balanceKey(owner)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get balance %s: %w", owner, err)
	}
	balance, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse balance %s: %w", owner, err)
	}
	return balance, nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
