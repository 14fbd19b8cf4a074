package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlever/margind/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `position_id, request_id, owner, asset, side, margin,
	leverage, quantity, entry_price, close_price, realized_pnl, liquidated, closed_at`

// Insert writes a settled trade. The position id is the primary key, so a
// redelivered close confirmation is a no-op rather than a duplicate row.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			position_id, request_id, owner, asset, side, margin,
			leverage, quantity, entry_price, close_price, realized_pnl,
			liquidated, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
		ON CONFLICT (position_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.PositionID, rec.RequestID, rec.Owner, rec.Asset, string(rec.Side), rec.Margin,
		rec.Leverage, rec.Quantity, rec.EntryPrice, rec.ClosePrice, rec.RealizedPnL,
		rec.Liquidated, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.PositionID, err)
	}
	return nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var side string
		if err := rows.Scan(
			&rec.PositionID, &rec.RequestID, &rec.Owner, &rec.Asset, &side, &rec.Margin,
			&rec.Leverage, &rec.Quantity, &rec.EntryPrice, &rec.ClosePrice, &rec.RealizedPnL,
			&rec.Liquidated, &rec.ClosedAt,
		); err != nil {
			return nil, err
		}
		rec.Side = domain.Side(side)
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}

// ListByOwner returns the owner's settled trades, newest first, with
// pagination and optional time filtering.
func (s *TradeStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE owner = $1`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", owner, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", owner, err)
	}
	return trades, nil
}

// Count returns the total number of settled trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
