package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// matchOrder is one matching pass: it runs on the intake queue worker and
// repeatedly executes the incoming order against the best eligible
// counter-order until the order is exhausted or no eligible liquidity
// remains. Candidates are re-queried after every fill so price-time priority
// always reflects the current book.
func (e *Engine) matchOrder(ctx context.Context, incoming *Order, actor Actor) error {
	for incoming.Remaining > 0 {
		var candidates []*Order
		err := e.store.InTx(ctx, func(tx Tx) error {
			var err error
			candidates, err = tx.FindEligibleCounterOrders(ctx, incoming.Side.Opposite(), incoming.Price)
			return err
		})
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		matched := false
		for _, counter := range candidates {
			qty := min(incoming.Remaining, counter.Remaining)
			if qty <= 0 {
				continue
			}
			updated, err := e.executeTrade(ctx, incoming, counter, qty, actor)
			if err != nil {
				if errors.Is(err, ErrStaleOrderState) {
					// The counter-order changed under us (cancelled, expired
					// or filled elsewhere). Abandon this match only.
					e.log.Warn("skipping stale counter-order",
						zap.String("order_id", incoming.Id.String()),
						zap.String("counter_order_id", counter.Id.String()))
					continue
				}
				return err
			}
			incoming = updated
			matched = true
			break
		}
		if !matched {
			return nil
		}
	}
	return nil
}

// executeTrade atomically executes one match between two specific orders:
// create the PENDING_APPROVAL trade, consume quantity on both legs, write the
// audit entries. Preconditions are re-validated inside the transaction under
// row locks, not trusted from the matching loop's view. Either everything
// commits or the match did not happen.
func (e *Engine) executeTrade(ctx context.Context, incoming, counter *Order, qty int64, actor Actor) (*Order, error) {
	var (
		trade           *Trade
		updatedIncoming *Order
	)
	err := e.store.InTx(ctx, func(tx Tx) error {
		in, err := tx.GetOrderForUpdate(ctx, incoming.Id)
		if err != nil {
			return err
		}
		ct, err := tx.GetOrderForUpdate(ctx, counter.Id)
		if err != nil {
			return err
		}
		if !in.Matchable() || !ct.Matchable() || in.Remaining < qty || ct.Remaining < qty {
			return ErrStaleOrderState
		}

		buy, sell := in, ct
		if in.Side == Sell {
			buy, sell = ct, in
		}

		trade = &Trade{
			Id:          uuid.New(),
			BuyOrderId:  buy.Id,
			SellOrderId: sell.Id,
			BuyerId:     buy.ShareholderId,
			SellerId:    sell.ShareholderId,
			Quantity:    qty,
			Price:       restingPrice(in, ct),
			Status:      TradePendingApproval,
			MatchedAt:   time.Now().UTC(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		beforeIn, beforeCt := orderSnapshot(in), orderSnapshot(ct)
		in.applyFill(qty)
		ct.applyFill(qty)
		if err := tx.UpdateOrder(ctx, in); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, ct); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, newAudit("trade", trade.Id, "trade.executed", nil, tradeSnapshot(trade), actor)); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, newAudit("order", in.Id, "order.matched", beforeIn, orderSnapshot(in), actor)); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, newAudit("order", ct.Id, "order.matched", beforeCt, orderSnapshot(ct), actor)); err != nil {
			return err
		}

		updatedIncoming = in
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
	e.notifier.Notify(ctx, trade.BuyerId, "trade.matched", payload)
	e.notifier.Notify(ctx, trade.SellerId, "trade.matched", payload)
	e.notifier.NotifyApprovers(ctx, "trade.pending_approval", payload)

	return updatedIncoming, nil
}

// restingPrice picks the execution price: the limit price of whichever order
// was created first. The earlier order was resting on the book and its price
// wins, which rewards time priority.
func restingPrice(a, b *Order) decimal.Decimal {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a.Price
	}
	return b.Price
}
