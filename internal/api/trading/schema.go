package trading

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubmitOrderSchema struct {
	ShareholderId uuid.UUID       `json:"shareholder_id" validate:"required"`
	Side          string          `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity      int64           `json:"quantity" validate:"required,gt=0"`
	Price         decimal.Decimal `json:"price" validate:"required"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

type ApproveTradeSchema struct {
	Notes string `json:"notes"`
}

type RejectTradeSchema struct {
	Reason string `json:"reason" validate:"required"`
}
