package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ApproveTrade settles a pending trade: shares move from seller to buyer and
// the trade becomes COMPLETED. A trade that is no longer PENDING_APPROVAL
// fails with ErrTradeNotPending, so duplicate approval clicks or retried
// requests can never settle twice.
func (e *Engine) ApproveTrade(ctx context.Context, tradeId uuid.UUID, actor Actor, notes string) (*Trade, error) {
	var trade *Trade
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTradeForUpdate(ctx, tradeId)
		if err != nil {
			return err
		}
		if t.Status != TradePendingApproval {
			return ErrTradeNotPending
		}

		before := tradeSnapshot(t)
		approvedAt := time.Now().UTC()
		t.Status = TradeCompleted
		t.ApprovedAt = &approvedAt
		t.ApproverId = &actor.UserId
		t.Notes = notes
		if err := tx.UpdateTrade(ctx, t); err != nil {
			return err
		}

		buyer, err := tx.GetPositionForUpdate(ctx, t.BuyerId)
		if err != nil {
			return err
		}
		beforeBuyer := positionSnapshot(buyer)
		buyer.Total += t.Quantity
		if err := tx.UpdatePosition(ctx, buyer); err != nil {
			return err
		}

		seller, err := tx.GetPositionForUpdate(ctx, t.SellerId)
		if err != nil {
			return err
		}
		beforeSeller := positionSnapshot(seller)
		seller.Total -= t.Quantity
		seller.Locked -= t.Quantity
		if err := tx.UpdatePosition(ctx, seller); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, newAudit("trade", t.Id, "trade.approved", before, tradeSnapshot(t), actor)); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, newAudit("position", buyer.ShareholderId, "shares.transferred", beforeBuyer, positionSnapshot(buyer), actor)); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, newAudit("position", seller.ShareholderId, "shares.transferred", beforeSeller, positionSnapshot(seller), actor)); err != nil {
			return err
		}

		trade = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"trade_id": trade.Id.String(),
		"quantity": trade.Quantity,
		"price":    trade.Price.String(),
	}
	e.notifier.Notify(ctx, trade.BuyerId, "trade.approved", payload)
	e.notifier.Notify(ctx, trade.SellerId, "trade.approved", payload)
	return trade, nil
}

// RejectTrade reverses a pending trade: the seller's shares locked for this
// quantity go back to available, both orders get the executed quantity back
// and reopen unless they already reached a terminal state. Fenced exactly
// like ApproveTrade.
func (e *Engine) RejectTrade(ctx context.Context, tradeId uuid.UUID, actor Actor, reason string) (*Trade, error) {
	var trade *Trade
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTradeForUpdate(ctx, tradeId)
		if err != nil {
			return err
		}
		if t.Status != TradePendingApproval {
			return ErrTradeNotPending
		}

		before := tradeSnapshot(t)
		rejectedAt := time.Now().UTC()
		t.Status = TradeRejected
		t.RejectedAt = &rejectedAt
		t.ApproverId = &actor.UserId
		t.RejectionReason = reason
		if err := tx.UpdateTrade(ctx, t); err != nil {
			return err
		}

		if err := releaseLock(ctx, tx, t.SellerId, t.Quantity, actor); err != nil {
			return err
		}

		for _, orderId := range []uuid.UUID{t.BuyOrderId, t.SellOrderId} {
			o, err := tx.GetOrderForUpdate(ctx, orderId)
			if err != nil {
				return err
			}
			// CANCELLED and EXPIRED are final; only filled state reopens.
			if o.Status != OrderFilled && o.Status != OrderPartiallyFilled {
				continue
			}
			beforeOrder := orderSnapshot(o)
			o.reopen(t.Quantity)
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			if err := tx.RecordAudit(ctx, newAudit("order", o.Id, "order.reopened", beforeOrder, orderSnapshot(o), actor)); err != nil {
				return err
			}
		}

		trade = t
		return tx.RecordAudit(ctx, newAudit("trade", t.Id, "trade.rejected", before, tradeSnapshot(t), actor))
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"trade_id": trade.Id.String(),
		"reason":   reason,
	}
	e.notifier.Notify(ctx, trade.BuyerId, "trade.rejected", payload)
	e.notifier.Notify(ctx, trade.SellerId, "trade.rejected", payload)
	return trade, nil
}
