package engine

import (
	"context"
	"fmt"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"

	"github.com/shopspring/decimal"
)

// execute swaps the order's whole input at market price, settles both
// deltas against the venue and credits the output to the order's bucket.
// No price limit is passed to the venue; the order's own floor is the only
// guard.
func (e *Engine) execute(ctx context.Context, m domain.Market, o *domain.Order, tick int32) (decimal.Decimal, error) {
	in := o.InputAmount
	delta, err := e.swap.Swap(ctx, m, o.Direction, in)
	if err != nil {
		return decimal.Zero, domain.NewEngineError("execute", fmt.Errorf("swap: %w", err))
	}

	if err := e.settleDelta(ctx, m.Currency0, delta.Amount0); err != nil {
		return decimal.Zero, domain.NewEngineError("execute", err)
	}
	if err := e.settleDelta(ctx, m.Currency1, delta.Amount1); err != nil {
		return decimal.Zero, domain.NewEngineError("execute", err)
	}

	out := delta.Amount1
	if o.Direction == domain.Buy {
		out = delta.Amount0
	}
	if out.IsNegative() {
		out = decimal.Zero
	}
	if o.MinOutputAmount != nil && out.LessThan(*o.MinOutputAmount) {
		return decimal.Zero, domain.NewEngineError("execute", domain.ErrSlippage)
	}

	id := domain.NewPositionID(o.Market, o.ID)
	p, ok := e.ledger.get(id)
	if !ok {
		return decimal.Zero, domain.NewEngineError("execute", fmt.Errorf("position %s: %w", id, domain.ErrInvalidOrder))
	}
	if err := e.ledger.credit(p, out); err != nil {
		return decimal.Zero, domain.NewEngineError("execute", err)
	}

	journal.Set(e.journal, &o.Status, domain.OrderStatusExecuted)
	journal.Set(e.journal, &o.InputAmount, decimal.Zero)
	e.orders.deactivate(o)

	rec := e.orderRecord(domain.RecordExecuted, o, tick)
	rec.Amount = in
	rec.Output = out
	e.emit(rec)
	return out, nil
}

// settleDelta pays a negative delta to the venue and collects a positive one.
func (e *Engine) settleDelta(ctx context.Context, asset domain.Asset, d decimal.Decimal) error {
	switch d.Sign() {
	case -1:
		if err := e.swap.Settle(ctx, asset, d.Neg()); err != nil {
			return fmt.Errorf("settle %s %s: %w", d.Neg(), asset, err)
		}
	case 1:
		if err := e.swap.Take(ctx, asset, d); err != nil {
			return fmt.Errorf("take %s %s: %w", d, asset, err)
		}
	}
	return nil
}
