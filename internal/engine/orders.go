package engine

import (
	"context"
	"fmt"
	"log/slog"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"
	"trailing_go/pkg/safe"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Place custodies the input funds of a new trailing-stop order, mints the
// owner's claim tokens 1:1 and returns the order id.
func (e *Engine) Place(ctx context.Context, owner domain.Account, p domain.PlaceParams) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var id uint64
	err := e.atomically(ctx, "place", func() error {
		var err error
		id, err = e.place(ctx, owner, p)
		return err
	})
	if err != nil {
		return 0, err
	}

	e.metrics.RecordPlaced()
	slog.Info("ORDER_PLACED",
		slog.Uint64("order_id", id),
		slog.String("market", string(p.Market)),
		slog.String("direction", p.Direction.String()),
		slog.String("amount", p.InputAmount.String()))
	return id, nil
}

func (e *Engine) place(ctx context.Context, owner domain.Account, p domain.PlaceParams) (uint64, error) {
	if owner == "" {
		return 0, fmt.Errorf("owner: %w", domain.ErrUnauthorized)
	}
	if !p.InputAmount.IsPositive() || !safe.IsWhole(p.InputAmount) {
		return 0, fmt.Errorf("input amount %s: %w", p.InputAmount, domain.ErrInvalidAmount)
	}
	if !p.Direction.Valid() {
		return 0, fmt.Errorf("direction %d: %w", p.Direction, domain.ErrInvalidDirection)
	}
	if p.MinOutputAmount != nil && !safe.IsWhole(*p.MinOutputAmount) {
		return 0, fmt.Errorf("min output %s: %w", *p.MinOutputAmount, domain.ErrInvalidAmount)
	}

	ms, err := e.ticks.get(p.Market)
	if err != nil {
		return 0, err
	}
	m := ms.Market

	distance := m.AlignTick(p.TrailingDistance)
	if distance <= 0 {
		return 0, fmt.Errorf("trailing distance %d at spacing %d: %w", p.TrailingDistance, m.TickSpacing, domain.ErrInvalidTrailingDistance)
	}

	current, err := e.oracle.CurrentTick(ctx, p.Market)
	if err != nil {
		return 0, fmt.Errorf("current tick: %w", err)
	}
	if err := domain.ValidateTick(current); err != nil {
		return 0, fmt.Errorf("current tick: %w", err)
	}

	o := &domain.Order{
		Owner:            owner,
		Market:           p.Market,
		Direction:        p.Direction,
		InputAmount:      p.InputAmount,
		TrailingDistance: distance,
		ReferenceTick:    current,
		Status:           domain.OrderStatusActive,
		CreatedAt:        e.now(),
	}
	if p.MinOutputAmount != nil {
		o.MinOutputAmount = lo.ToPtr(*p.MinOutputAmount)
	}
	if p.ActivationTick != nil {
		activation := m.AlignTick(*p.ActivationTick)
		o.ActivationTick = &activation
		if !p.Direction.Side().Activated(current, activation) {
			o.Status = domain.OrderStatusPending
			o.ReferenceTick = activation
		}
	}
	o.ID = e.orders.allocate()

	in := p.Direction.InputAsset(m)
	if err := e.custody.Deposit(ctx, owner, in, p.InputAmount); err != nil {
		return 0, fmt.Errorf("custody %s %s: %w", p.InputAmount, in, err)
	}

	pos, err := e.ledger.deposit(o, p.Direction.OutputAsset(m), p.InputAmount)
	if err != nil {
		return 0, err
	}
	if err := e.claims.Mint(ctx, owner, pos.ID, p.InputAmount); err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}
	e.orders.add(o)

	e.emit(domain.Record{
		Kind:             domain.RecordPlaced,
		OrderID:          o.ID,
		Market:           o.Market,
		Position:         pos.ID,
		Account:          owner,
		Direction:        o.Direction,
		Status:           o.Status,
		Tick:             o.ReferenceTick,
		TrailingDistance: o.TrailingDistance,
		Amount:           o.InputAmount,
	})
	return o.ID, nil
}

// Cancel refunds the caller's share of a live order. The caller must be the
// owner; their whole claim balance B is burned and B units of input are
// returned. The order is cleared once no input remains.
func (e *Engine) Cancel(ctx context.Context, caller domain.Account, market domain.MarketID, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.atomically(ctx, "cancel", func() error {
		return e.cancel(ctx, caller, market, orderID)
	})
	if err != nil {
		return err
	}

	e.metrics.RecordCancelled()
	slog.Info("ORDER_CANCELLED", slog.Uint64("order_id", orderID), slog.String("owner", string(caller)))
	return nil
}

func (e *Engine) cancel(ctx context.Context, caller domain.Account, market domain.MarketID, orderID uint64) error {
	o, ok := e.orders.get(orderID)
	if !ok || !o.IsLive() || o.Market != market {
		return fmt.Errorf("order %d: %w", orderID, domain.ErrInvalidOrder)
	}
	if o.Owner != caller {
		return fmt.Errorf("order %d: %w", orderID, domain.ErrUnauthorized)
	}
	ms, err := e.ticks.get(market)
	if err != nil {
		return err
	}

	id := domain.NewPositionID(market, orderID)
	p, ok := e.ledger.get(id)
	if !ok {
		return fmt.Errorf("order %d: position %s: %w", orderID, id, domain.ErrInvalidOrder)
	}
	share, err := e.claims.BalanceOf(ctx, caller, id)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", caller, err)
	}
	if !share.IsPositive() {
		return fmt.Errorf("order %d: holder %s: %w", orderID, caller, domain.ErrNotEnoughToClaim)
	}

	rest, err := safe.Sub(o.InputAmount, share)
	if err != nil {
		return fmt.Errorf("order %d: refund %s of %s: %w", orderID, share, o.InputAmount, err)
	}
	if err := e.ledger.withdraw(p, share); err != nil {
		return err
	}
	if err := e.claims.Burn(ctx, caller, id, share); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	in := o.Direction.InputAsset(ms.Market)
	if err := e.custody.Withdraw(ctx, caller, in, share); err != nil {
		return fmt.Errorf("refund %s %s: %w", share, in, err)
	}

	journal.Set(e.journal, &o.InputAmount, rest)
	if rest.IsZero() {
		journal.Set(e.journal, &o.Status, domain.OrderStatusCancelled)
		e.orders.deactivate(o)
	}

	e.emit(domain.Record{
		Kind:      domain.RecordCancelled,
		OrderID:   orderID,
		Market:    market,
		Position:  id,
		Account:   caller,
		Direction: o.Direction,
		Status:    o.Status,
		Tick:      ms.LastTick,
		Amount:    share,
	})
	return nil
}

// PositionID returns the claim bucket key of (market, orderID).
func (e *Engine) PositionID(market domain.MarketID, orderID uint64) domain.PositionID {
	return domain.NewPositionID(market, orderID)
}

// Order returns a copy of an order. Cleared orders keep their last state
// with a zero input amount.
func (e *Engine) Order(id uint64) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders.get(id)
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns copies of every order of a market ascending by id.
func (e *Engine) Orders(market domain.MarketID) []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	return lo.Map(e.orders.byMarket(market), func(o *domain.Order, _ int) domain.Order {
		return *o
	})
}

// ActiveOrders returns copies of the live orders of a market ascending by id.
func (e *Engine) ActiveOrders(market domain.MarketID) []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	return lo.FilterMap(e.orders.activeIDs(market), func(id uint64, _ int) (domain.Order, bool) {
		o, ok := e.orders.get(id)
		if !ok {
			return domain.Order{}, false
		}
		return *o, true
	})
}

// Position returns the claim bucket of (market, orderID).
func (e *Engine) Position(market domain.MarketID, orderID uint64) (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ledger.get(domain.NewPositionID(market, orderID))
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// LastTick returns the last observed tick of a market.
func (e *Engine) LastTick(market domain.MarketID) (int32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.ticks.get(market)
	if err != nil {
		return 0, false
	}
	return s.LastTick, true
}

// Market returns the state of an initialized market.
func (e *Engine) Market(id domain.MarketID) (domain.MarketState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.ticks.get(id)
	if err != nil {
		return domain.MarketState{}, false
	}
	return *s, true
}

// ClaimBalance returns a holder's claim tokens for (market, orderID).
func (e *Engine) ClaimBalance(ctx context.Context, holder domain.Account, market domain.MarketID, orderID uint64) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.claims.BalanceOf(ctx, holder, domain.NewPositionID(market, orderID))
}
