// Package memory implements the engine store in process memory. It mirrors
// the transactional semantics of the Postgres store — writes stage inside a
// transaction and only merge on commit — and backs the engine's unit tests
// and local development without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openequity/sharebook/internal/engine"
)

type Store struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*engine.Order
	trades    map[uuid.UUID]*engine.Trade
	positions map[uuid.UUID]*engine.Position
	audit     []*engine.AuditEntry
}

func NewStore() *Store {
	return &Store{
		orders:    make(map[uuid.UUID]*engine.Order),
		trades:    make(map[uuid.UUID]*engine.Trade),
		positions: make(map[uuid.UUID]*engine.Position),
	}
}

// PutPosition seeds or replaces a shareholder's position.
func (s *Store) PutPosition(p *engine.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.ShareholderId] = &cp
}

// AuditEntries returns a copy of everything recorded so far.
func (s *Store) AuditEntries() []*engine.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*engine.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// InTx runs fn under the store lock with staged writes: nothing fn does is
// visible until it returns nil. The single lock gives the same isolation the
// SQL store gets from row locks, one logical operation at a time.
func (s *Store) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		orders:    make(map[uuid.UUID]*engine.Order),
		trades:    make(map[uuid.UUID]*engine.Trade),
		positions: make(map[uuid.UUID]*engine.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*engine.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, engine.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*engine.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, engine.ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetPosition(ctx context.Context, shareholderId uuid.UUID) (*engine.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[shareholderId]
	if !ok {
		return nil, engine.ErrShareholderNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListOrders(ctx context.Context, page, size int) ([]*engine.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*engine.Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, page, size), len(all), nil
}

func (s *Store) ListTrades(ctx context.Context, page, size int) ([]*engine.Trade, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*engine.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		cp := *t
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].MatchedAt.After(all[j].MatchedAt) })
	return paginate(all, page, size), len(all), nil
}

func (s *Store) BookLevels(ctx context.Context, side engine.Side, depth int) ([]engine.BookLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPrice := make(map[string]*engine.BookLevel)
	for _, o := range s.orders {
		if o.Side != side || !o.Matchable() {
			continue
		}
		key := o.Price.String()
		level, ok := byPrice[key]
		if !ok {
			level = &engine.BookLevel{Price: o.Price}
			byPrice[key] = level
		}
		level.Quantity += o.Remaining
		level.Orders++
	}

	levels := make([]engine.BookLevel, 0, len(byPrice))
	for _, l := range byPrice {
		levels = append(levels, *l)
	}
	sort.Slice(levels, func(i, j int) bool {
		if side == engine.Buy {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	if len(levels) > depth {
		levels = levels[:depth]
	}
	return levels, nil
}

func paginate[T any](items []*T, page, size int) []*T {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []*T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// memTx stages all writes until commit. Reads see staged state first, then
// the base store, which matches read-your-writes inside a SQL transaction.
type memTx struct {
	store     *Store
	orders    map[uuid.UUID]*engine.Order
	trades    map[uuid.UUID]*engine.Trade
	positions map[uuid.UUID]*engine.Position
	audit     []*engine.AuditEntry
}

func (tx *memTx) commit() {
	for id, o := range tx.orders {
		tx.store.orders[id] = o
	}
	for id, t := range tx.trades {
		tx.store.trades[id] = t
	}
	for id, p := range tx.positions {
		tx.store.positions[id] = p
	}
	tx.store.audit = append(tx.store.audit, tx.audit...)
}

func (tx *memTx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*engine.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o, nil
	}
	base, ok := tx.store.orders[id]
	if !ok {
		return nil, engine.ErrOrderNotFound
	}
	cp := *base
	tx.orders[id] = &cp
	return &cp, nil
}

func (tx *memTx) InsertOrder(ctx context.Context, o *engine.Order) error {
	cp := *o
	tx.orders[o.Id] = &cp
	return nil
}

func (tx *memTx) UpdateOrder(ctx context.Context, o *engine.Order) error {
	cp := *o
	tx.orders[o.Id] = &cp
	return nil
}

func (tx *memTx) FindEligibleCounterOrders(ctx context.Context, side engine.Side, bound decimal.Decimal) ([]*engine.Order, error) {
	var eligible []*engine.Order
	for _, o := range tx.visibleOrders() {
		if o.Side != side || !o.Matchable() {
			continue
		}
		if side == engine.Sell && o.Price.GreaterThan(bound) {
			continue
		}
		if side == engine.Buy && o.Price.LessThan(bound) {
			continue
		}
		cp := *o
		eligible = append(eligible, &cp)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !a.Price.Equal(b.Price) {
			if side == engine.Buy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return eligible, nil
}

func (tx *memTx) FindExpiredOrders(ctx context.Context, asOf time.Time) ([]*engine.Order, error) {
	var overdue []*engine.Order
	for _, o := range tx.visibleOrders() {
		if !o.Matchable() || o.ExpiresAt == nil || o.ExpiresAt.After(asOf) {
			continue
		}
		cp := *o
		overdue = append(overdue, &cp)
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].CreatedAt.Before(overdue[j].CreatedAt) })
	return overdue, nil
}

func (tx *memTx) visibleOrders() map[uuid.UUID]*engine.Order {
	merged := make(map[uuid.UUID]*engine.Order, len(tx.store.orders)+len(tx.orders))
	for id, o := range tx.store.orders {
		merged[id] = o
	}
	for id, o := range tx.orders {
		merged[id] = o
	}
	return merged
}

func (tx *memTx) InsertTrade(ctx context.Context, t *engine.Trade) error {
	cp := *t
	tx.trades[t.Id] = &cp
	return nil
}

func (tx *memTx) GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*engine.Trade, error) {
	if t, ok := tx.trades[id]; ok {
		return t, nil
	}
	base, ok := tx.store.trades[id]
	if !ok {
		return nil, engine.ErrTradeNotFound
	}
	cp := *base
	tx.trades[id] = &cp
	return &cp, nil
}

func (tx *memTx) UpdateTrade(ctx context.Context, t *engine.Trade) error {
	cp := *t
	tx.trades[t.Id] = &cp
	return nil
}

func (tx *memTx) GetPositionForUpdate(ctx context.Context, shareholderId uuid.UUID) (*engine.Position, error) {
	if p, ok := tx.positions[shareholderId]; ok {
		return p, nil
	}
	base, ok := tx.store.positions[shareholderId]
	if !ok {
		return nil, engine.ErrShareholderNotFound
	}
	cp := *base
	tx.positions[shareholderId] = &cp
	return &cp, nil
}

func (tx *memTx) UpdatePosition(ctx context.Context, p *engine.Position) error {
	cp := *p
	tx.positions[p.ShareholderId] = &cp
	return nil
}

func (tx *memTx) RecordAudit(ctx context.Context, e *engine.AuditEntry) error {
	cp := *e
	tx.audit = append(tx.audit, &cp)
	return nil
}
