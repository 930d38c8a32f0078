package engine

import "errors"

var (
	// ErrValidation covers bad input rejected before an order is enqueued.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientShares means a SELL exceeds the owner's available shares.
	ErrInsufficientShares = errors.New("insufficient available shares")

	// ErrStaleOrderState means a counter-order changed between selection and
	// the execution transaction. The match is abandoned, never retried.
	ErrStaleOrderState = errors.New("order state changed since selection")

	// ErrTradeNotPending fences duplicate approve/reject calls.
	ErrTradeNotPending = errors.New("trade is not pending approval")

	// ErrNotCancellable means the order is not OPEN or PARTIALLY_FILLED.
	ErrNotCancellable = errors.New("order is not cancellable")

	ErrUnauthorized = errors.New("not authorized")

	ErrOrderNotFound       = errors.New("order not found")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrShareholderNotFound = errors.New("shareholder not found")
)
