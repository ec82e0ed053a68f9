package paper

import (
	"context"
	"fmt"
	"sync"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"
	"trailing_go/pkg/safe"

	"github.com/shopspring/decimal"
)

type claimKey struct {
	holder   domain.Account
	position domain.PositionID
}

// ClaimLedger is a fungible-per-position token ledger.
type ClaimLedger struct {
	mu       sync.Mutex
	balances map[claimKey]decimal.Decimal
	supply   map[domain.PositionID]decimal.Decimal
	journal  *journal.Journal
}

// NewClaimLedger creates an empty ledger.
func NewClaimLedger() *ClaimLedger {
	return &ClaimLedger{
		balances: make(map[claimKey]decimal.Decimal),
		supply:   make(map[domain.PositionID]decimal.Decimal),
		journal:  journal.New(),
	}
}

// Mint implements domain.ClaimTokens.
func (c *ClaimLedger) Mint(_ context.Context, holder domain.Account, pos domain.PositionID, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := claimKey{holder, pos}
	bal, err := safe.Add(c.balances[k], amount)
	if err != nil {
		return fmt.Errorf("mint %s to %s: %w", amount, holder, err)
	}
	sup, err := safe.Add(c.supply[pos], amount)
	if err != nil {
		return fmt.Errorf("mint %s to %s: %w", amount, holder, err)
	}
	journal.SetKey(c.journal, c.balances, k, bal)
	journal.SetKey(c.journal, c.supply, pos, sup)
	return nil
}

// Burn implements domain.ClaimTokens.
func (c *ClaimLedger) Burn(_ context.Context, holder domain.Account, pos domain.PositionID, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := claimKey{holder, pos}
	bal, err := safe.Sub(c.balances[k], amount)
	if err != nil {
		return fmt.Errorf("burn %s from %s: %w: %w", amount, holder, domain.ErrInsufficientBalance, err)
	}
	sup, err := safe.Sub(c.supply[pos], amount)
	if err != nil {
		return fmt.Errorf("burn %s from %s: %w", amount, holder, err)
	}
	c.put(k, bal)
	journal.SetKey(c.journal, c.supply, pos, sup)
	return nil
}

// BalanceOf implements domain.ClaimTokens.
func (c *ClaimLedger) BalanceOf(_ context.Context, holder domain.Account, pos domain.PositionID) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[claimKey{holder, pos}], nil
}

// Transfer moves claim tokens between holders.
func (c *ClaimLedger) Transfer(_ context.Context, from, to domain.Account, pos domain.PositionID, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := claimKey{from, pos}
	dst := claimKey{to, pos}
	rest, err := safe.Sub(c.balances[src], amount)
	if err != nil {
		return fmt.Errorf("transfer %s from %s: %w: %w", amount, from, domain.ErrInsufficientBalance, err)
	}
	c.put(src, rest)
	got, err := safe.Add(c.balances[dst], amount)
	if err != nil {
		return fmt.Errorf("transfer %s to %s: %w", amount, to, err)
	}
	journal.SetKey(c.journal, c.balances, dst, got)
	return nil
}

// TotalSupply returns the outstanding tokens of a position.
func (c *ClaimLedger) TotalSupply(pos domain.PositionID) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supply[pos]
}

// put drops zero balances so the book only holds live holders.
func (c *ClaimLedger) put(k claimKey, v decimal.Decimal) {
	if v.IsZero() {
		journal.DeleteKey(c.journal, c.balances, k)
		return
	}
	journal.SetKey(c.journal, c.balances, k, v)
}

// Snapshot implements domain.Transactional.
func (c *ClaimLedger) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.journal.Snapshot()
}

// RevertToSnapshot implements domain.Transactional.
func (c *ClaimLedger) RevertToSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal.RevertToSnapshot(id)
}

// Commit implements domain.Transactional.
func (c *ClaimLedger) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal.Commit()
}
