package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ExpireOverdueOrders finds OPEN and PARTIALLY_FILLED orders past their
// expiry, marks each EXPIRED and releases shares still locked for SELL
// remainders. Every order expires in its own transaction with the usual
// row-lock re-validation, so the sweep is safe against concurrent matching,
// cancellation and even against itself. Returns how many orders expired.
func (e *Engine) ExpireOverdueOrders(ctx context.Context) (int, error) {
	asOf := time.Now().UTC()

	var overdue []*Order
	err := e.store.InTx(ctx, func(tx Tx) error {
		var err error
		overdue, err = tx.FindExpiredOrders(ctx, asOf)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range overdue {
		var order *Order
		err := e.store.InTx(ctx, func(tx Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, candidate.Id)
			if err != nil {
				return err
			}
			if !o.Matchable() || o.ExpiresAt == nil || o.ExpiresAt.After(asOf) {
				return ErrStaleOrderState
			}

			before := orderSnapshot(o)
			released := o.Remaining
			o.Status = OrderExpired
			o.Remaining = 0
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			if o.Side == Sell && released > 0 {
				if err := releaseLock(ctx, tx, o.ShareholderId, released, SystemActor); err != nil {
					return err
				}
			}
			order = o
			return tx.RecordAudit(ctx, newAudit("order", o.Id, "order.expired", before, orderSnapshot(o), SystemActor))
		})
		if err != nil {
			if errors.Is(err, ErrStaleOrderState) {
				continue
			}
			return expired, err
		}
		expired++
		e.notifier.Notify(ctx, order.ShareholderId, "order.expired", map[string]any{
			"order_id": order.Id.String(),
		})
	}
	return expired, nil
}

// Sweeper invokes ExpireOverdueOrders on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(engine *Engine, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				count, err := s.engine.ExpireOverdueOrders(context.Background())
				if err != nil {
					s.log.Error("expiry sweep failed", zap.Error(err))
					continue
				}
				if count > 0 {
					s.log.Info("expired overdue orders", zap.Int("count", count))
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
