package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/openequity/sharebook/internal/engine"
)

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*engine.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1 FOR UPDATE"
	o, err := scanOrder(t.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrOrderNotFound
	}
	return o, err
}

func (t *storeTx) InsertOrder(ctx context.Context, o *engine.Order) error {
	query := `
		INSERT INTO orders (id, shareholder_id, side, price, quantity, remaining, filled, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.Exec(ctx, query, o.Id, o.ShareholderId, o.Side, o.Price, o.Quantity, o.Remaining, o.Filled, o.Status, o.CreatedAt, o.ExpiresAt)
	return err
}

func (t *storeTx) UpdateOrder(ctx context.Context, o *engine.Order) error {
	query := "UPDATE orders SET remaining = $1, filled = $2, status = $3 WHERE id = $4"
	_, err := t.tx.Exec(ctx, query, o.Remaining, o.Filled, o.Status, o.Id)
	return err
}

func (t *storeTx) FindEligibleCounterOrders(ctx context.Context, side engine.Side, bound decimal.Decimal) ([]*engine.Order, error) {
	// Best price first for the incoming side: cheapest asks, dearest bids.
	comparison := "price >= $2 ORDER BY price DESC"
	if side == engine.Sell {
		comparison = "price <= $2 ORDER BY price ASC"
	}
	query := "SELECT " + orderColumns + ` FROM orders
		WHERE side = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED') AND ` + comparison + `, created_at ASC`

	rows, err := t.tx.Query(ctx, query, side, bound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*engine.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (t *storeTx) FindExpiredOrders(ctx context.Context, asOf time.Time) ([]*engine.Order, error) {
	query := "SELECT " + orderColumns + ` FROM orders
		WHERE status IN ('OPEN', 'PARTIALLY_FILLED') AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY created_at ASC`

	rows, err := t.tx.Query(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*engine.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (t *storeTx) InsertTrade(ctx context.Context, tr *engine.Trade) error {
	query := `
		INSERT INTO trades (id, buy_order_id, sell_order_id, buyer_id, seller_id, quantity, price, status, matched_at, approved_at, rejected_at, approver_id, notes, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := t.tx.Exec(ctx, query, tr.Id, tr.BuyOrderId, tr.SellOrderId, tr.BuyerId, tr.SellerId, tr.Quantity, tr.Price, tr.Status, tr.MatchedAt, tr.ApprovedAt, tr.RejectedAt, tr.ApproverId, tr.Notes, tr.RejectionReason)
	return err
}

func (t *storeTx) GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*engine.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE id = $1 FOR UPDATE"
	tr, err := scanTrade(t.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrTradeNotFound
	}
	return tr, err
}

func (t *storeTx) UpdateTrade(ctx context.Context, tr *engine.Trade) error {
	query := `
		UPDATE trades
		SET status = $1, approved_at = $2, rejected_at = $3, approver_id = $4, notes = $5, rejection_reason = $6
		WHERE id = $7
	`
	_, err := t.tx.Exec(ctx, query, tr.Status, tr.ApprovedAt, tr.RejectedAt, tr.ApproverId, tr.Notes, tr.RejectionReason, tr.Id)
	return err
}

func (t *storeTx) GetPositionForUpdate(ctx context.Context, shareholderId uuid.UUID) (*engine.Position, error) {
	var p engine.Position
	query := "SELECT shareholder_id, total_shares, locked_shares FROM positions WHERE shareholder_id = $1 FOR UPDATE"
	err := t.tx.QueryRow(ctx, query, shareholderId).Scan(&p.ShareholderId, &p.Total, &p.Locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrShareholderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *storeTx) UpdatePosition(ctx context.Context, p *engine.Position) error {
	query := "UPDATE positions SET total_shares = $1, locked_shares = $2 WHERE shareholder_id = $3"
	_, err := t.tx.Exec(ctx, query, p.Total, p.Locked, p.ShareholderId)
	return err
}

func (t *storeTx) RecordAudit(ctx context.Context, e *engine.AuditEntry) error {
	before, err := marshalValues(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalValues(e.After)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_log (id, entity_type, entity_id, action, before_values, after_values, actor_id, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = t.tx.Exec(ctx, query, e.Id, e.EntityType, e.EntityId, e.Action, before, after, e.ActorId, e.IP, e.UserAgent, e.CreatedAt)
	return err
}

func marshalValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}
