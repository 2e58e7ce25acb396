package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhooks/matchbook/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

const matchSelectCols = `order_id, market_id, maker, taker, asset_in, asset_out,
	taker_paid::text, maker_gave::text, matched_at`

// Insert records a settled match. An order matches at most once, so replays
// are silently skipped.
func (s *MatchStore) Insert(ctx context.Context, m domain.Match) error {
	const query = `
		INSERT INTO matches (
			order_id, market_id, maker, taker, asset_in, asset_out,
			taker_paid, maker_gave, matched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9)
		ON CONFLICT (order_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		int64(m.OrderID), m.MarketID.Hex(), m.Maker.Hex(), m.Taker.Hex(),
		m.AssetIn.Hex(), m.AssetOut.Hex(),
		m.TakerPaid.Dec(), m.MakerGave.Dec(), m.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert match for order %d: %w", m.OrderID, err)
	}
	return nil
}

// Delete removes the match recorded for an order. Called by the projector
// when a match is unwound; deleting a row that was never projected is fine.
func (s *MatchStore) Delete(ctx context.Context, orderID uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE order_id = $1`, int64(orderID))
	if err != nil {
		return fmt.Errorf("postgres: delete match for order %d: %w", orderID, err)
	}
	return nil
}

// ListByMarket returns matches for a market, newest first.
func (s *MatchStore) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Match, error) {
	query := `SELECT ` + matchSelectCols + ` FROM matches WHERE market_id = $1 ORDER BY matched_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, marketID.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches for %s: %w", marketID.Hex(), err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

// ListBefore returns matches settled before the cutoff; used by the
// archiver.
func (s *MatchStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchSelectCols+` FROM matches WHERE matched_at < $1 ORDER BY matched_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches before %v: %w", before, err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

func collectMatches(rows pgx.Rows) ([]domain.Match, error) {
	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func scanMatch(row pgx.Row) (domain.Match, error) {
	var m domain.Match
	var id int64
	var marketID, maker, taker, assetIn, assetOut, takerPaid, makerGave string
	err := row.Scan(&id, &marketID, &maker, &taker, &assetIn, &assetOut,
		&takerPaid, &makerGave, &m.At)
	if err != nil {
		return domain.Match{}, err
	}

	m.OrderID = uint64(id)
	m.MarketID = common.HexToHash(marketID)
	m.Maker = common.HexToAddress(maker)
	m.Taker = common.HexToAddress(taker)
	m.AssetIn = common.HexToAddress(assetIn)
	m.AssetOut = common.HexToAddress(assetOut)
	if m.TakerPaid, err = uint256.FromDecimal(takerPaid); err != nil {
		return domain.Match{}, fmt.Errorf("parse taker_paid: %w", err)
	}
	if m.MakerGave, err = uint256.FromDecimal(makerGave); err != nil {
		return domain.Match{}, fmt.Errorf("parse maker_gave: %w", err)
	}
	return m, nil
}
