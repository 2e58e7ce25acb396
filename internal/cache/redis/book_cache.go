package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/openhooks/matchbook/internal/domain"
)

// BookCache implements domain.BookCache using a Redis set of active order
// IDs per market plus one JSON blob per order.
//
// Key schema:
//
//	book:{marketID}:ids        - set of active order IDs (decimal strings)
//	book:{marketID}:order:{id} - JSON-encoded order terms
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.rdb}
}

func bookIDsKey(marketID common.Hash) string {
	return "book:" + marketID.Hex() + ":ids"
}

func bookOrderKey(marketID common.Hash, orderID uint64) string {
	return "book:" + marketID.Hex() + ":order:" + strconv.FormatUint(orderID, 10)
}

// AddOrder records an order in its market's active set.
func (bc *BookCache) AddOrder(ctx context.Context, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("redis: marshal order %d: %w", order.ID, err)
	}

	pipe := bc.rdb.TxPipeline()
	pipe.SAdd(ctx, bookIDsKey(order.MarketID), strconv.FormatUint(order.ID, 10))
	pipe.Set(ctx, bookOrderKey(order.MarketID, order.ID), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add order %d: %w", order.ID, err)
	}
	return nil
}

// RemoveOrder drops an order from its market's active set.
func (bc *BookCache) RemoveOrder(ctx context.Context, marketID common.Hash, orderID uint64) error {
	pipe := bc.rdb.TxPipeline()
	pipe.SRem(ctx, bookIDsKey(marketID), strconv.FormatUint(orderID, 10))
	pipe.Del(ctx, bookOrderKey(marketID, orderID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove order %d: %w", orderID, err)
	}
	return nil
}

// OrderIDs returns the market's cached active order IDs.
func (bc *BookCache) OrderIDs(ctx context.Context, marketID common.Hash) ([]uint64, error) {
	members, err := bc.rdb.SMembers(ctx, bookIDsKey(marketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: order ids for %s: %w", marketID.Hex(), err)
	}

	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
