package engine

import (
	"context"
	"fmt"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"
	"trailing_go/pkg/safe"

	"github.com/shopspring/decimal"
)

// ledger holds the claim bucket of every order: outstanding claim supply
// (input units) and claimable output.
type ledger struct {
	j         *journal.Journal
	positions map[domain.PositionID]*domain.Position
}

func newLedger(j *journal.Journal) *ledger {
	return &ledger{j: j, positions: make(map[domain.PositionID]*domain.Position)}
}

func (l *ledger) get(id domain.PositionID) (*domain.Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// deposit increases a bucket's claim supply, opening it on first use.
func (l *ledger) deposit(o *domain.Order, out domain.Asset, amount decimal.Decimal) (*domain.Position, error) {
	id := domain.NewPositionID(o.Market, o.ID)
	p, ok := l.positions[id]
	if !ok {
		p = &domain.Position{
			ID:          id,
			Market:      o.Market,
			OrderID:     o.ID,
			OutputAsset: out,
		}
		journal.SetKey(l.j, l.positions, id, p)
	}
	supply, err := safe.Add(p.ClaimSupply, amount)
	if err != nil {
		return nil, err
	}
	journal.Set(l.j, &p.ClaimSupply, supply)
	return p, nil
}

func (l *ledger) withdraw(p *domain.Position, amount decimal.Decimal) error {
	supply, err := safe.Sub(p.ClaimSupply, amount)
	if err != nil {
		return fmt.Errorf("claim supply: %w", err)
	}
	journal.Set(l.j, &p.ClaimSupply, supply)
	return nil
}

func (l *ledger) credit(p *domain.Position, output decimal.Decimal) error {
	claimable, err := safe.Add(p.Claimable, output)
	if err != nil {
		return err
	}
	journal.Set(l.j, &p.Claimable, claimable)
	return nil
}

// payout returns floor(amount * claimable / supply). Rounding favors the
// bucket, so the sum of all payouts never exceeds what was credited.
func (l *ledger) payout(p *domain.Position, amount decimal.Decimal) (decimal.Decimal, error) {
	return safe.MulDivDown(amount, p.Claimable, p.ClaimSupply)
}

// Redeem burns amount of the caller's claim tokens for the position of
// (market, orderID) and pays the caller's pro-rata share of the claimable
// output. It returns the amount paid.
func (e *Engine) Redeem(ctx context.Context, caller domain.Account, market domain.MarketID, orderID uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out decimal.Decimal
	err := e.atomically(ctx, "redeem", func() error {
		var err error
		out, err = e.redeem(ctx, caller, market, orderID, amount)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	e.metrics.RecordRedemption()
	return out, nil
}

func (e *Engine) redeem(ctx context.Context, caller domain.Account, market domain.MarketID, orderID uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() || !safe.IsWhole(amount) {
		return decimal.Zero, fmt.Errorf("redeem %s: %w", amount, domain.ErrInvalidAmount)
	}

	id := domain.NewPositionID(market, orderID)
	p, ok := e.ledger.get(id)
	if !ok || p.Claimable.IsZero() {
		return decimal.Zero, fmt.Errorf("position %s: %w", id, domain.ErrNothingToClaim)
	}

	balance, err := e.claims.BalanceOf(ctx, caller, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", caller, err)
	}
	if balance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("holder %s has %s, wants %s: %w", caller, balance, amount, domain.ErrNotEnoughToClaim)
	}
	if p.ClaimSupply.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("supply %s below %s: %w", p.ClaimSupply, amount, domain.ErrNotEnoughToClaim)
	}

	out, err := e.ledger.payout(p, amount)
	if err != nil {
		return decimal.Zero, err
	}

	claimable, err := safe.Sub(p.Claimable, out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("claimable: %w", err)
	}
	journal.Set(e.journal, &p.Claimable, claimable)
	if err := e.ledger.withdraw(p, amount); err != nil {
		return decimal.Zero, err
	}

	if err := e.claims.Burn(ctx, caller, id, amount); err != nil {
		return decimal.Zero, fmt.Errorf("burn: %w", err)
	}
	if out.IsPositive() {
		if err := e.custody.Withdraw(ctx, caller, p.OutputAsset, out); err != nil {
			return decimal.Zero, fmt.Errorf("pay %s %s: %w", out, p.OutputAsset, err)
		}
	}

	rec := domain.Record{
		Kind:     domain.RecordRedeemed,
		OrderID:  orderID,
		Market:   market,
		Position: id,
		Account:  caller,
		Amount:   amount,
		Output:   out,
	}
	if o, ok := e.orders.get(orderID); ok {
		rec.Direction = o.Direction
		rec.Status = o.Status
	}
	e.emit(rec)
	return out, nil
}
