package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side a counter-order must have.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderExpired         OrderStatus = "EXPIRED"
)

type TradeStatus string

const (
	TradePendingApproval TradeStatus = "PENDING_APPROVAL"
	TradeCompleted       TradeStatus = "COMPLETED"
	TradeRejected        TradeStatus = "REJECTED"
)

type Order struct {
	Id            uuid.UUID       `json:"id"`
	ShareholderId uuid.UUID       `json:"shareholder_id"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
	Remaining     int64           `json:"remaining"`
	Filled        int64           `json:"filled"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// Matchable reports whether the order can still participate in matching.
func (o *Order) Matchable() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// applyFill consumes qty from the order and recomputes its status.
// Callers must have validated qty <= Remaining beforehand.
func (o *Order) applyFill(qty int64) {
	o.Remaining -= qty
	o.Filled += qty
	if o.Remaining == 0 {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartiallyFilled
	}
}

// reopen gives qty back to the order after a rejected trade.
func (o *Order) reopen(qty int64) {
	o.Remaining += qty
	o.Filled -= qty
	if o.Filled > 0 {
		o.Status = OrderPartiallyFilled
	} else {
		o.Status = OrderOpen
	}
}

type Trade struct {
	Id              uuid.UUID       `json:"id"`
	BuyOrderId      uuid.UUID       `json:"buy_order_id"`
	SellOrderId     uuid.UUID       `json:"sell_order_id"`
	BuyerId         uuid.UUID       `json:"buyer_id"`
	SellerId        uuid.UUID       `json:"seller_id"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Status          TradeStatus     `json:"status"`
	MatchedAt       time.Time       `json:"matched_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	ApproverId      *uuid.UUID      `json:"approver_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
}

// Position is a shareholder's share balance. Available is derived so that
// available + locked == total holds at every observable point.
type Position struct {
	ShareholderId uuid.UUID `json:"shareholder_id"`
	Total         int64     `json:"total"`
	Locked        int64     `json:"locked"`
}

func (p *Position) Available() int64 {
	return p.Total - p.Locked
}

// BookLevel aggregates resting quantity at a single price.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot is the order book aggregated by price level, best price first
// on both sides.
type BookSnapshot struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

func orderSnapshot(o *Order) map[string]any {
	return map[string]any{
		"status":    string(o.Status),
		"price":     o.Price.String(),
		"quantity":  o.Quantity,
		"remaining": o.Remaining,
		"filled":    o.Filled,
	}
}

func tradeSnapshot(t *Trade) map[string]any {
	return map[string]any{
		"status":        string(t.Status),
		"buy_order_id":  t.BuyOrderId.String(),
		"sell_order_id": t.SellOrderId.String(),
		"quantity":      t.Quantity,
		"price":         t.Price.String(),
	}
}

func positionSnapshot(p *Position) map[string]any {
	return map[string]any{
		"total":     p.Total,
		"locked":    p.Locked,
		"available": p.Available(),
	}
}
