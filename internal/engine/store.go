package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditEntry documents one state transition. Entries are written through the
// same transaction as the transition they describe, so they never commit
// without it.
type AuditEntry struct {
	Id         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityId   uuid.UUID      `json:"entity_id"`
	Action     string         `json:"action"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	ActorId    uuid.UUID      `json:"actor_id"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Tx is the set of operations available inside one store transaction. The
// ForUpdate reads take row locks so preconditions re-validated through them
// hold until commit.
type Tx interface {
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error

	// FindEligibleCounterOrders returns open or partially filled orders on
	// the given side whose limit price crosses bound, ordered by price
	// priority (best price for the opposite side first) then created-at.
	FindEligibleCounterOrders(ctx context.Context, side Side, bound decimal.Decimal) ([]*Order, error)

	// FindExpiredOrders returns still-matchable orders whose expiry has
	// passed as of asOf.
	FindExpiredOrders(ctx context.Context, asOf time.Time) ([]*Order, error)

	InsertTrade(ctx context.Context, t *Trade) error
	GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*Trade, error)
	UpdateTrade(ctx context.Context, t *Trade) error

	GetPositionForUpdate(ctx context.Context, shareholderId uuid.UUID) (*Position, error)
	UpdatePosition(ctx context.Context, p *Position) error

	RecordAudit(ctx context.Context, e *AuditEntry) error
}

// Store is the durable order/trade/position store the engine runs against.
// InTx runs fn inside one transaction: if fn returns an error the whole
// transaction rolls back, otherwise it commits.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error)
	GetPosition(ctx context.Context, shareholderId uuid.UUID) (*Position, error)
	ListOrders(ctx context.Context, page, size int) ([]*Order, int, error)
	ListTrades(ctx context.Context, page, size int) ([]*Trade, int, error)

	// BookLevels aggregates resting liquidity by price for one side, best
	// price first, at most depth levels.
	BookLevels(ctx context.Context, side Side, depth int) ([]BookLevel, error)
}

// Notifier delivers user-facing notifications. Delivery is best effort: a
// failed notification must never fail the operation that produced it, so the
// interface returns nothing and implementations log their own errors.
type Notifier interface {
	Notify(ctx context.Context, userId uuid.UUID, kind string, payload map[string]any)

	// NotifyApprovers fans a notification out to every user holding the
	// trade-approval capability.
	NotifyApprovers(ctx context.Context, kind string, payload map[string]any)
}
