package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhooks/matchbook/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `order_id, market_id, maker, sell_token0,
	amount_in::text, min_amount_out::text, expiry, status, created_at`

// Insert records a freshly posted order with status open.
func (s *OrderStore) Insert(ctx context.Context, order domain.Order) error {
	const query = `
		INSERT INTO orders (
			order_id, market_id, maker, sell_token0,
			amount_in, min_amount_out, expiry, status, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)
		ON CONFLICT (order_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		int64(order.ID), order.MarketID.Hex(), order.Maker.Hex(), order.SellToken0,
		order.AmountIn.Dec(), order.MinAmountOut.Dec(),
		order.Expiry, string(domain.OrderStatusOpen), order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %d: %w", order.ID, err)
	}
	return nil
}

// UpdateStatus moves an order to a terminal lifecycle status.
func (s *OrderStore) UpdateStatus(ctx context.Context, id uint64, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE orders SET status = $2, updated_at = NOW() WHERE order_id = $1",
		int64(id), string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// GetByID returns one order and its persisted status.
func (s *OrderStore) GetByID(ctx context.Context, id uint64) (domain.Order, domain.OrderStatus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE order_id = $1`, int64(id))

	order, status, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, "", domain.ErrOrderNotFound
		}
		return domain.Order{}, "", fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return order, status, nil
}

// ListByMarket returns orders for a market, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE market_id = $1 ORDER BY order_id DESC`
	args := []any{marketID.Hex()}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", marketID.Hex(), err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListClosedBefore returns terminal-status orders whose last update happened
// before the cutoff; used by the archiver.
func (s *OrderStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status <> $1 AND updated_at < $2 ORDER BY order_id`,
		string(domain.OrderStatusOpen), before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		order, _, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, domain.OrderStatus, error) {
	var o domain.Order
	var id int64
	var marketID, maker, amountIn, minOut, status string
	err := row.Scan(&id, &marketID, &maker, &o.SellToken0,
		&amountIn, &minOut, &o.Expiry, &status, &o.CreatedAt)
	if err != nil {
		return domain.Order{}, "", err
	}

	o.ID = uint64(id)
	o.MarketID = common.HexToHash(marketID)
	o.Maker = common.HexToAddress(maker)
	o.Active = status == string(domain.OrderStatusOpen)
	if o.AmountIn, err = uint256.FromDecimal(amountIn); err != nil {
		return domain.Order{}, "", fmt.Errorf("parse amount_in: %w", err)
	}
	if o.MinAmountOut, err = uint256.FromDecimal(minOut); err != nil {
		return domain.Order{}, "", fmt.Errorf("parse min_amount_out: %w", err)
	}
	return o, domain.OrderStatus(status), nil
}
