package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the continuous double-auction matching engine. Orders are
// accepted synchronously (with SELL shares locked up front) and matched
// asynchronously by the intake queue worker; matched trades wait for an
// administrator's approval before any shares actually move.
type Engine struct {
	store    Store
	notifier Notifier
	log      *zap.Logger
	queue    *intakeQueue
}

func New(store Store, notifier Notifier, log *zap.Logger) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		log:      log,
	}
	e.queue = newIntakeQueue(log, e.matchOrder)
	return e
}

// Close drains the intake queue and stops its worker.
func (e *Engine) Close() {
	e.queue.close()
}

// WaitIdle blocks until all queued matching passes have completed. Used for
// graceful shutdown and by tests that need deterministic book state.
func (e *Engine) WaitIdle() {
	e.queue.wait()
}

type SubmitRequest struct {
	ShareholderId uuid.UUID
	Side          Side
	Quantity      int64
	Price         decimal.Decimal
	ExpiresAt     *time.Time
}

// SubmitOrder validates the request, locks shares for SELL orders, persists
// the order OPEN and enqueues it for matching. It returns the created order
// immediately; matching happens asynchronously relative to the caller.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest, actor Actor) (*Order, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}

	order := &Order{
		Id:            uuid.New(),
		ShareholderId: req.ShareholderId,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Remaining:     req.Quantity,
		Filled:        0,
		Status:        OrderOpen,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     req.ExpiresAt,
	}

	err := e.store.InTx(ctx, func(tx Tx) error {
		if req.Side == Sell {
			pos, err := tx.GetPositionForUpdate(ctx, req.ShareholderId)
			if err != nil {
				return err
			}
			if pos.Available() < req.Quantity {
				return ErrInsufficientShares
			}
			before := positionSnapshot(pos)
			pos.Locked += req.Quantity
			if err := tx.UpdatePosition(ctx, pos); err != nil {
				return err
			}
			if err := tx.RecordAudit(ctx, newAudit("position", pos.ShareholderId, "shares.locked", before, positionSnapshot(pos), actor)); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, newAudit("order", order.Id, "order.submitted", nil, orderSnapshot(order), actor))
	})
	if err != nil {
		return nil, err
	}

	e.queue.submit(order, actor)
	return order, nil
}

// CancelOrder transitions an OPEN or PARTIALLY_FILLED order to CANCELLED and
// releases any shares still locked for its remainder. It runs directly
// against the store, not through the queue, so the status precondition is
// re-validated under a row lock to stay safe against the matching worker.
func (e *Engine) CancelOrder(ctx context.Context, orderId uuid.UUID, actor Actor) (*Order, error) {
	var order *Order
	err := e.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderId)
		if err != nil {
			return err
		}
		if actor.UserId != o.ShareholderId && !actor.Admin {
			return ErrUnauthorized
		}
		if !o.Matchable() {
			return ErrNotCancellable
		}

		before := orderSnapshot(o)
		released := o.Remaining
		o.Status = OrderCancelled
		o.Remaining = 0
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if o.Side == Sell && released > 0 {
			if err := releaseLock(ctx, tx, o.ShareholderId, released, actor); err != nil {
				return err
			}
		}
		order = o
		return tx.RecordAudit(ctx, newAudit("order", o.Id, "order.cancelled", before, orderSnapshot(o), actor))
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, order.ShareholderId, "order.cancelled", map[string]any{
		"order_id": order.Id.String(),
	})
	return order, nil
}

// OrderBook returns the book aggregated by price level, at most depth levels
// per side, best price first.
func (e *Engine) OrderBook(ctx context.Context, depth int) (*BookSnapshot, error) {
	if depth <= 0 {
		depth = 10
	}
	bids, err := e.store.BookLevels(ctx, Buy, depth)
	if err != nil {
		return nil, err
	}
	asks, err := e.store.BookLevels(ctx, Sell, depth)
	if err != nil {
		return nil, err
	}
	return &BookSnapshot{Bids: bids, Asks: asks}, nil
}

func (e *Engine) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return e.store.GetOrder(ctx, id)
}

func (e *Engine) GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error) {
	return e.store.GetTrade(ctx, id)
}

func (e *Engine) GetPosition(ctx context.Context, shareholderId uuid.UUID) (*Position, error) {
	return e.store.GetPosition(ctx, shareholderId)
}

func (e *Engine) ListOrders(ctx context.Context, page, size int) ([]*Order, int, error) {
	return e.store.ListOrders(ctx, page, size)
}

func (e *Engine) ListTrades(ctx context.Context, page, size int) ([]*Trade, int, error) {
	return e.store.ListTrades(ctx, page, size)
}

// releaseLock gives qty locked shares back to a shareholder's available pool.
func releaseLock(ctx context.Context, tx Tx, shareholderId uuid.UUID, qty int64, actor Actor) error {
	pos, err := tx.GetPositionForUpdate(ctx, shareholderId)
	if err != nil {
		return err
	}
	before := positionSnapshot(pos)
	pos.Locked -= qty
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	return tx.RecordAudit(ctx, newAudit("position", shareholderId, "shares.released", before, positionSnapshot(pos), actor))
}

func newAudit(entityType string, entityId uuid.UUID, action string, before, after map[string]any, actor Actor) *AuditEntry {
	return &AuditEntry{
		Id:         uuid.New(),
		EntityType: entityType,
		EntityId:   entityId,
		Action:     action,
		Before:     before,
		After:      after,
		ActorId:    actor.UserId,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}
}
