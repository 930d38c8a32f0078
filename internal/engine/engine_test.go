package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openequity/sharebook/internal/engine"
	"github.com/openequity/sharebook/internal/storage/memory"
)

type spyNotifier struct {
	mu     sync.Mutex
	events []string
}

func (s *spyNotifier) Notify(_ context.Context, _ uuid.UUID, kind string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind)
}

func (s *spyNotifier) NotifyApprovers(_ context.Context, kind string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "approvers:"+kind)
}

func (s *spyNotifier) seen(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == kind {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T) (*engine.Engine, *memory.Store, *spyNotifier) {
	t.Helper()
	store := memory.NewStore()
	spy := &spyNotifier{}
	eng := engine.New(store, spy, zap.NewNop())
	t.Cleanup(eng.Close)
	return eng, store, spy
}

func seedHolder(store *memory.Store, total int64) uuid.UUID {
	id := uuid.New()
	store.PutPosition(&engine.Position{ShareholderId: id, Total: total})
	return id
}

func actorFor(id uuid.UUID) engine.Actor {
	return engine.Actor{UserId: id}
}

var approver = engine.Actor{UserId: uuid.New(), Admin: true}

func submit(t *testing.T, eng *engine.Engine, holder uuid.UUID, side engine.Side, qty int64, price int64) *engine.Order {
	t.Helper()
	order, err := eng.SubmitOrder(context.Background(), engine.SubmitRequest{
		ShareholderId: holder,
		Side:          side,
		Quantity:      qty,
		Price:         decimal.NewFromInt(price),
	}, actorFor(holder))
	require.NoError(t, err)
	// CreatedAt drives the resting-price and time-priority rules, keep
	// submissions strictly ordered in time.
	time.Sleep(2 * time.Millisecond)
	return order
}

func allTrades(t *testing.T, store *memory.Store) []*engine.Trade {
	t.Helper()
	trades, _, err := store.ListTrades(context.Background(), 1, 100)
	require.NoError(t, err)
	return trades
}

func requirePosition(t *testing.T, store *memory.Store, holder uuid.UUID, total, available, locked int64) {
	t.Helper()
	pos, err := store.GetPosition(context.Background(), holder)
	require.NoError(t, err)
	assert.Equal(t, total, pos.Total, "total shares")
	assert.Equal(t, available, pos.Available(), "available shares")
	assert.Equal(t, locked, pos.Locked, "locked shares")
	assert.GreaterOrEqual(t, pos.Locked, int64(0))
	assert.LessOrEqual(t, pos.Locked, pos.Total)
}

func TestSubmitOrderValidation(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	holder := seedHolder(store, 100)
	ctx := context.Background()

	t.Run("rejects invalid side", func(t *testing.T) {
		_, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
			ShareholderId: holder, Side: "SHORT", Quantity: 10, Price: decimal.NewFromInt(5),
		}, actorFor(holder))
		assert.ErrorIs(t, err, engine.ErrValidation)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
			ShareholderId: holder, Side: engine.Buy, Quantity: 0, Price: decimal.NewFromInt(5),
		}, actorFor(holder))
		assert.ErrorIs(t, err, engine.ErrValidation)
	})

	t.Run("rejects non-positive price", func(t *testing.T) {
		_, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
			ShareholderId: holder, Side: engine.Sell, Quantity: 10, Price: decimal.Zero,
		}, actorFor(holder))
		assert.ErrorIs(t, err, engine.ErrValidation)
	})

	t.Run("rejects sell beyond available shares", func(t *testing.T) {
		_, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
			ShareholderId: holder, Side: engine.Sell, Quantity: 101, Price: decimal.NewFromInt(5),
		}, actorFor(holder))
		assert.ErrorIs(t, err, engine.ErrInsufficientShares)
		requirePosition(t, store, holder, 100, 100, 0)
	})

	t.Run("locks shares on accepted sell", func(t *testing.T) {
		order := submit(t, eng, holder, engine.Sell, 40, 5)
		assert.Equal(t, engine.OrderOpen, order.Status)
		requirePosition(t, store, holder, 100, 60, 40)
	})
}

func TestEndToEndApproval(t *testing.T) {
	eng, store, spy := newTestEngine(t)
	seller := seedHolder(store, 100)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	sellOrder := submit(t, eng, seller, engine.Sell, 50, 10)
	eng.WaitIdle()
	requirePosition(t, store, seller, 100, 50, 50)

	buyOrder := submit(t, eng, buyer, engine.Buy, 50, 12)
	eng.WaitIdle()

	trades := allTrades(t, store)
	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, int64(50), trade.Quantity)
	assert.True(t, trade.Price.Equal(decimal.NewFromInt(10)), "execution price must be the resting order's price, got %s", trade.Price)
	assert.Equal(t, engine.TradePendingApproval, trade.Status)
	assert.Equal(t, buyer, trade.BuyerId)
	assert.Equal(t, seller, trade.SellerId)

	for _, id := range []uuid.UUID{sellOrder.Id, buyOrder.Id} {
		o, err := store.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, engine.OrderFilled, o.Status)
		assert.Equal(t, int64(0), o.Remaining)
		assert.Equal(t, int64(50), o.Filled)
	}

	approved, err := eng.ApproveTrade(ctx, trade.Id, approver, "looks good")
	require.NoError(t, err)
	assert.Equal(t, engine.TradeCompleted, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.ApproverId)
	assert.Equal(t, approver.UserId, *approved.ApproverId)

	requirePosition(t, store, seller, 50, 50, 0)
	requirePosition(t, store, buyer, 50, 50, 0)
	assert.True(t, spy.seen("trade.approved"))
	assert.True(t, spy.seen("approvers:trade.pending_approval"))
}

func TestApproveTradeIsIdempotentFenced(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seller := seedHolder(store, 100)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	submit(t, eng, seller, engine.Sell, 50, 10)
	submit(t, eng, buyer, engine.Buy, 50, 12)
	eng.WaitIdle()

	trades := allTrades(t, store)
	require.Len(t, trades, 1)

	_, err := eng.ApproveTrade(ctx, trades[0].Id, approver, "")
	require.NoError(t, err)

	_, err = eng.ApproveTrade(ctx, trades[0].Id, approver, "")
	assert.ErrorIs(t, err, engine.ErrTradeNotPending)
	_, err = eng.RejectTrade(ctx, trades[0].Id, approver, "too late")
	assert.ErrorIs(t, err, engine.ErrTradeNotPending)

	// Shares moved exactly once.
	requirePosition(t, store, seller, 50, 50, 0)
	requirePosition(t, store, buyer, 50, 50, 0)
}

func TestRejectTradeReverses(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seller := seedHolder(store, 100)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	sellOrder := submit(t, eng, seller, engine.Sell, 50, 10)
	buyOrder := submit(t, eng, buyer, engine.Buy, 50, 12)
	eng.WaitIdle()

	trades := allTrades(t, store)
	require.Len(t, trades, 1)

	rejected, err := eng.RejectTrade(ctx, trades[0].Id, approver, "pricing dispute")
	require.NoError(t, err)
	assert.Equal(t, engine.TradeRejected, rejected.Status)
	assert.Equal(t, "pricing dispute", rejected.RejectionReason)
	require.NotNil(t, rejected.RejectedAt)

	requirePosition(t, store, seller, 100, 100, 0)
	requirePosition(t, store, buyer, 0, 0, 0)

	for _, id := range []uuid.UUID{sellOrder.Id, buyOrder.Id} {
		o, err := store.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, engine.OrderOpen, o.Status)
		assert.Equal(t, int64(50), o.Remaining)
		assert.Equal(t, int64(0), o.Filled)
	}
}

func TestRejectDoesNotReopenCancelledOrder(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seller := seedHolder(store, 100)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	buyOrder := submit(t, eng, buyer, engine.Buy, 100, 10)
	submit(t, eng, seller, engine.Sell, 50, 10)
	eng.WaitIdle()

	// Buy is partially filled; cancel its remainder before the approval.
	cancelled, err := eng.CancelOrder(ctx, buyOrder.Id, actorFor(buyer))
	require.NoError(t, err)
	assert.Equal(t, engine.OrderCancelled, cancelled.Status)

	trades := allTrades(t, store)
	require.Len(t, trades, 1)
	_, err = eng.RejectTrade(ctx, trades[0].Id, approver, "withdrawn")
	require.NoError(t, err)

	// Cancelled is final: the rejection must not resurrect the buy order.
	o, err := store.GetOrder(ctx, buyOrder.Id)
	require.NoError(t, err)
	assert.Equal(t, engine.OrderCancelled, o.Status)
	assert.Equal(t, int64(0), o.Remaining)

	// The sell leg reopens and the seller's lock is released.
	requirePosition(t, store, seller, 100, 100, 0)
}

func TestPriceTimePriority(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	sellerA := seedHolder(store, 100)
	sellerB := seedHolder(store, 100)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	t.Run("earlier order at same price fills first", func(t *testing.T) {
		first := submit(t, eng, sellerA, engine.Sell, 50, 95)
		second := submit(t, eng, sellerB, engine.Sell, 50, 95)
		submit(t, eng, buyer, engine.Buy, 60, 100)
		eng.WaitIdle()

		firstOrder, err := store.GetOrder(ctx, first.Id)
		require.NoError(t, err)
		assert.Equal(t, engine.OrderFilled, firstOrder.Status, "first resting order fills in full before the second is touched")

		secondOrder, err := store.GetOrder(ctx, second.Id)
		require.NoError(t, err)
		assert.Equal(t, engine.OrderPartiallyFilled, secondOrder.Status)
		assert.Equal(t, int64(10), secondOrder.Filled)

		for _, trade := range allTrades(t, store) {
			assert.True(t, trade.Price.Equal(decimal.NewFromInt(95)))
		}
	})
}

func TestBestPriceWinsOverTime(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	sellerA := seedHolder(store, 100)
	sellerB := seedHolder(store, 100)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	expensive := submit(t, eng, sellerA, engine.Sell, 50, 95)
	cheap := submit(t, eng, sellerB, engine.Sell, 50, 90)
	submit(t, eng, buyer, engine.Buy, 50, 100)
	eng.WaitIdle()

	cheapOrder, err := store.GetOrder(ctx, cheap.Id)
	require.NoError(t, err)
	assert.Equal(t, engine.OrderFilled, cheapOrder.Status, "lower ask wins despite arriving later")

	expensiveOrder, err := store.GetOrder(ctx, expensive.Id)
	require.NoError(t, err)
	assert.Equal(t, engine.OrderOpen, expensiveOrder.Status)
}

func TestNoDoubleMatchingUnderConcurrency(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	buyer := seedHolder(store, 0)
	sellerA := seedHolder(store, 60)
	sellerB := seedHolder(store, 60)
	ctx := context.Background()

	buyOrder := submit(t, eng, buyer, engine.Buy, 100, 10)
	eng.WaitIdle()

	var wg sync.WaitGroup
	for _, seller := range []uuid.UUID{sellerA, sellerB} {
		wg.Add(1)
		go func(holder uuid.UUID) {
			defer wg.Done()
			_, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
				ShareholderId: holder,
				Side:          engine.Sell,
				Quantity:      60,
				Price:         decimal.NewFromInt(10),
			}, actorFor(holder))
			assert.NoError(t, err)
		}(seller)
	}
	wg.Wait()
	eng.WaitIdle()

	// The resting buy provides 100 shares of liquidity; the two sells must
	// split it 60/40, never both fill in full.
	o, err := store.GetOrder(ctx, buyOrder.Id)
	require.NoError(t, err)
	assert.Equal(t, engine.OrderFilled, o.Status)
	assert.Equal(t, int64(100), o.Filled)

	var totalSold int64
	for _, trade := range allTrades(t, store) {
		assert.Positive(t, trade.Quantity)
		totalSold += trade.Quantity
	}
	assert.Equal(t, int64(100), totalSold)
}

func TestConservationAcrossPartialFills(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seller := seedHolder(store, 200)
	buyerA := seedHolder(store, 0)
	buyerB := seedHolder(store, 0)
	ctx := context.Background()

	sellOrder := submit(t, eng, seller, engine.Sell, 150, 20)
	submit(t, eng, buyerA, engine.Buy, 80, 25)
	submit(t, eng, buyerB, engine.Buy, 100, 22)
	eng.WaitIdle()

	var executed int64
	for _, trade := range allTrades(t, store) {
		if trade.SellOrderId == sellOrder.Id {
			executed += trade.Quantity
		}
	}
	assert.Equal(t, int64(150), executed, "sum of fills equals the sell order's quantity")

	o, err := store.GetOrder(ctx, sellOrder.Id)
	require.NoError(t, err)
	assert.Equal(t, engine.OrderFilled, o.Status)
	assert.Equal(t, o.Quantity, o.Filled)
	assert.Equal(t, int64(0), o.Remaining)
}

func TestCancelOrder(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	holder := seedHolder(store, 100)
	ctx := context.Background()

	t.Run("owner cancels and lock is released", func(t *testing.T) {
		order := submit(t, eng, holder, engine.Sell, 30, 50)
		eng.WaitIdle()

		cancelled, err := eng.CancelOrder(ctx, order.Id, actorFor(holder))
		require.NoError(t, err)
		assert.Equal(t, engine.OrderCancelled, cancelled.Status)
		assert.Equal(t, int64(0), cancelled.Remaining)
		requirePosition(t, store, holder, 100, 100, 0)
	})

	t.Run("cancelling twice fails", func(t *testing.T) {
		order := submit(t, eng, holder, engine.Sell, 10, 50)
		eng.WaitIdle()
		_, err := eng.CancelOrder(ctx, order.Id, actorFor(holder))
		require.NoError(t, err)
		_, err = eng.CancelOrder(ctx, order.Id, actorFor(holder))
		assert.ErrorIs(t, err, engine.ErrNotCancellable)
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		order := submit(t, eng, holder, engine.Sell, 10, 50)
		eng.WaitIdle()
		_, err := eng.CancelOrder(ctx, order.Id, actorFor(uuid.New()))
		assert.ErrorIs(t, err, engine.ErrUnauthorized)
	})

	t.Run("admin can cancel on behalf of owner", func(t *testing.T) {
		order := submit(t, eng, holder, engine.Sell, 10, 50)
		eng.WaitIdle()
		_, err := eng.CancelOrder(ctx, order.Id, approver)
		require.NoError(t, err)
	})
}

func TestExpiryReleasesLocks(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	holder := seedHolder(store, 100)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	order, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
		ShareholderId: holder,
		Side:          engine.Sell,
		Quantity:      30,
		Price:         decimal.NewFromInt(5),
		ExpiresAt:     &past,
	}, actorFor(holder))
	require.NoError(t, err)
	eng.WaitIdle()
	requirePosition(t, store, holder, 100, 70, 30)

	count, err := eng.ExpireOverdueOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := store.GetOrder(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, engine.OrderExpired, expired.Status)
	assert.Equal(t, int64(0), expired.Remaining)
	requirePosition(t, store, holder, 100, 100, 0)

	// A second sweep finds nothing.
	count, err = eng.ExpireOverdueOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOrderBookAggregation(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seller := seedHolder(store, 300)
	buyer := seedHolder(store, 0)
	ctx := context.Background()

	submit(t, eng, seller, engine.Sell, 50, 105)
	submit(t, eng, seller, engine.Sell, 30, 105)
	submit(t, eng, seller, engine.Sell, 20, 110)
	submit(t, eng, buyer, engine.Buy, 40, 100)
	submit(t, eng, buyer, engine.Buy, 25, 98)
	eng.WaitIdle()

	book, err := eng.OrderBook(ctx, 10)
	require.NoError(t, err)

	require.Len(t, book.Asks, 2)
	assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(105)), "best ask first")
	assert.Equal(t, int64(80), book.Asks[0].Quantity)
	assert.Equal(t, 2, book.Asks[0].Orders)

	require.Len(t, book.Bids, 2)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(100)), "best bid first")
	assert.Equal(t, int64(40), book.Bids[0].Quantity)
}

func TestMatchingWritesAudit(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seller := seedHolder(store, 100)
	buyer := seedHolder(store, 0)

	submit(t, eng, seller, engine.Sell, 50, 10)
	submit(t, eng, buyer, engine.Buy, 50, 12)
	eng.WaitIdle()

	actions := make(map[string]int)
	for _, entry := range store.AuditEntries() {
		actions[entry.Action]++
	}
	assert.Equal(t, 2, actions["order.submitted"])
	assert.Equal(t, 1, actions["shares.locked"])
	assert.Equal(t, 1, actions["trade.executed"])
	assert.Equal(t, 2, actions["order.matched"])
}
