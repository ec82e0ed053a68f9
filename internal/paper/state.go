package paper

import (
	"cmp"
	"fmt"
	"slices"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"

	"github.com/shopspring/decimal"
)

// WalletEntry is one non-zero balance of a Wallets book.
type WalletEntry struct {
	Account domain.Account  `json:"account"`
	Asset   domain.Asset    `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// Entries returns the non-zero balances sorted by account then asset.
func (w *Wallets) Entries() []WalletEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WalletEntry, 0, len(w.balances))
	for k, v := range w.balances {
		if v.IsZero() {
			continue
		}
		out = append(out, WalletEntry{Account: k.account, Asset: k.asset, Amount: v})
	}
	slices.SortFunc(out, func(a, b WalletEntry) int {
		if c := cmp.Compare(a.Account, b.Account); c != 0 {
			return c
		}
		return cmp.Compare(a.Asset, b.Asset)
	})
	return out
}

// Load replaces the book's balances. Pending undo entries are dropped.
func (w *Wallets) Load(entries []WalletEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.balances = make(map[walletKey]decimal.Decimal, len(entries))
	for _, e := range entries {
		w.balances[walletKey{e.Account, e.Asset}] = e.Amount
	}
	w.journal = journal.New()
}

// ClaimEntry is one holder balance of a ClaimLedger.
type ClaimEntry struct {
	Holder   domain.Account    `json:"holder"`
	Position domain.PositionID `json:"position"`
	Amount   decimal.Decimal   `json:"amount"`
}

// Entries returns the holder balances sorted by position then holder.
func (c *ClaimLedger) Entries() []ClaimEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ClaimEntry, 0, len(c.balances))
	for k, v := range c.balances {
		out = append(out, ClaimEntry{Holder: k.holder, Position: k.position, Amount: v})
	}
	slices.SortFunc(out, func(a, b ClaimEntry) int {
		if c := cmp.Compare(a.Position.String(), b.Position.String()); c != 0 {
			return c
		}
		return cmp.Compare(a.Holder, b.Holder)
	})
	return out
}

// Load replaces the ledger. Supplies are recomputed from the balances.
func (c *ClaimLedger) Load(entries []ClaimEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.balances = make(map[claimKey]decimal.Decimal, len(entries))
	c.supply = make(map[domain.PositionID]decimal.Decimal)
	for _, e := range entries {
		c.balances[claimKey{e.Holder, e.Position}] = e.Amount
		c.supply[e.Position] = c.supply[e.Position].Add(e.Amount)
	}
	c.journal = journal.New()
}

// PoolEntry is the listed state of one venue market.
type PoolEntry struct {
	Market domain.Market   `json:"market"`
	Tick   int32           `json:"tick"`
	Price  decimal.Decimal `json:"price"`
}

// Pools returns the listed markets sorted by id.
func (v *Venue) Pools() []PoolEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]PoolEntry, 0, len(v.pools))
	for _, p := range v.pools {
		out = append(out, PoolEntry{Market: p.market, Tick: p.tick, Price: p.price})
	}
	slices.SortFunc(out, func(a, b PoolEntry) int { return cmp.Compare(a.Market.ID(), b.Market.ID()) })
	return out
}

// LoadPools overwrites tick and price of listed markets and lists the rest.
// Unsettled deltas and pending undo entries are dropped.
func (v *Venue) LoadPools(entries []PoolEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, e := range entries {
		if err := e.Market.Validate(); err != nil {
			return fmt.Errorf("load pool: %w: %w", domain.ErrInvalidMarket, err)
		}
		if err := domain.ValidateTick(e.Tick); err != nil {
			return fmt.Errorf("load pool %s: %w", e.Market.ID(), err)
		}
		if !e.Price.IsPositive() {
			return fmt.Errorf("load pool %s: price must be positive", e.Market.ID())
		}
	}
	for _, e := range entries {
		v.pools[e.Market.ID()] = &pool{market: e.Market, tick: e.Tick, price: e.Price}
	}
	v.owed = make(map[domain.Asset]decimal.Decimal)
	v.credit = make(map[domain.Asset]decimal.Decimal)
	v.journal = journal.New()
	return nil
}
