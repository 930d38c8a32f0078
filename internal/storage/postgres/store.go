// Package postgres persists orders, trades, positions and the audit log in
// Postgres through pgx. All engine mutations run inside transactions with
// SELECT ... FOR UPDATE re-validation.
package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openequity/sharebook/internal/engine"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn inside one database transaction. Any error from fn rolls the
// whole transaction back.
func (s *Store) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	dbtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx)

	if err := fn(&storeTx{tx: dbtx}); err != nil {
		return err
	}
	return dbtx.Commit(ctx)
}

const orderColumns = "id, shareholder_id, side, price, quantity, remaining, filled, status, created_at, expires_at"

func scanOrder(row pgx.Row) (*engine.Order, error) {
	var o engine.Order
	err := row.Scan(&o.Id, &o.ShareholderId, &o.Side, &o.Price, &o.Quantity, &o.Remaining, &o.Filled, &o.Status, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const tradeColumns = "id, buy_order_id, sell_order_id, buyer_id, seller_id, quantity, price, status, matched_at, approved_at, rejected_at, approver_id, notes, rejection_reason"

func scanTrade(row pgx.Row) (*engine.Trade, error) {
	var t engine.Trade
	err := row.Scan(&t.Id, &t.BuyOrderId, &t.SellOrderId, &t.BuyerId, &t.SellerId, &t.Quantity, &t.Price, &t.Status, &t.MatchedAt, &t.ApprovedAt, &t.RejectedAt, &t.ApproverId, &t.Notes, &t.RejectionReason)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*engine.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*engine.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE id = $1"
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrTradeNotFound
	}
	return t, err
}

func (s *Store) GetPosition(ctx context.Context, shareholderId uuid.UUID) (*engine.Position, error) {
	var p engine.Position
	query := "SELECT shareholder_id, total_shares, locked_shares FROM positions WHERE shareholder_id = $1"
	err := s.pool.QueryRow(ctx, query, shareholderId).Scan(&p.ShareholderId, &p.Total, &p.Locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrShareholderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListOrders(ctx context.Context, page, size int) ([]*engine.Order, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders").Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + orderColumns + " FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2"
	rows, err := s.pool.Query(ctx, query, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]*engine.Order, 0, size)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (s *Store) ListTrades(ctx context.Context, page, size int) ([]*engine.Trade, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + tradeColumns + " FROM trades ORDER BY matched_at DESC LIMIT $1 OFFSET $2"
	rows, err := s.pool.Query(ctx, query, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	trades := make([]*engine.Trade, 0, size)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, 0, err
		}
		trades = append(trades, t)
	}
	return trades, total, rows.Err()
}

func (s *Store) BookLevels(ctx context.Context, side engine.Side, depth int) ([]engine.BookLevel, error) {
	direction := "DESC"
	if side == engine.Sell {
		direction = "ASC"
	}
	query := `
		SELECT price, SUM(remaining)::bigint, COUNT(*)
		FROM orders
		WHERE side = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED')
		GROUP BY price
		ORDER BY price ` + direction + `
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, side, depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]engine.BookLevel, 0, depth)
	for rows.Next() {
		var l engine.BookLevel
		if err := rows.Scan(&l.Price, &l.Quantity, &l.Orders); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}
