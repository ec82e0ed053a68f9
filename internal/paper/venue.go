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

const feeDenominator = 1_000_000

var pipsDenominator = decimal.NewFromInt(feeDenominator)

type pool struct {
	market domain.Market
	tick   int32
	price  decimal.Decimal // currency1 per currency0
}

// Venue is a fixed-price swap venue and price oracle.
//
// Swaps are quoted at the market's configured price less the market fee and
// paid out of the venue account's balance. Deltas are left unsettled until
// the swapper calls Settle and Take, mirroring a flash-accounting venue.
type Venue struct {
	mu      sync.Mutex
	wallets *Wallets
	account domain.Account // liquidity holder
	swapper domain.Account // custody account that settles against the venue
	pools   map[domain.MarketID]*pool
	owed    map[domain.Asset]decimal.Decimal // swapper owes venue
	credit  map[domain.Asset]decimal.Decimal // venue owes swapper
	journal *journal.Journal
}

// NewVenue creates a venue whose liquidity sits in account and whose only
// counterparty is swapper.
func NewVenue(wallets *Wallets, account, swapper domain.Account) *Venue {
	return &Venue{
		wallets: wallets,
		account: account,
		swapper: swapper,
		pools:   make(map[domain.MarketID]*pool),
		owed:    make(map[domain.Asset]decimal.Decimal),
		credit:  make(map[domain.Asset]decimal.Decimal),
		journal: journal.New(),
	}
}

// Account returns the venue's liquidity account.
func (v *Venue) Account() domain.Account {
	return v.account
}

// ListMarket adds a market at the given tick and price.
func (v *Venue) ListMarket(m domain.Market, tick int32, price decimal.Decimal) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidMarket, err)
	}
	if err := domain.ValidateTick(tick); err != nil {
		return fmt.Errorf("list %s: %w", m.ID(), err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("list %s: price must be positive", m.ID())
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id := m.ID()
	if _, ok := v.pools[id]; ok {
		return fmt.Errorf("list %s: %w", id, domain.ErrMarketExists)
	}
	v.pools[id] = &pool{market: m, tick: tick, price: price}
	return nil
}

// SetTick moves the market's tick, as an external trade would. It
// implements domain.TickSetter.
func (v *Venue) SetTick(id domain.MarketID, tick int32) error {
	if err := domain.ValidateTick(tick); err != nil {
		return fmt.Errorf("set tick %s: %w", id, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[id]
	if !ok {
		return fmt.Errorf("set tick %s: %w", id, domain.ErrUnknownMarket)
	}
	journal.Set(v.journal, &p.tick, tick)
	return nil
}

// SetPrice changes the execution price of a market.
func (v *Venue) SetPrice(id domain.MarketID, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("set price %s: price must be positive", id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[id]
	if !ok {
		return fmt.Errorf("set price %s: %w", id, domain.ErrUnknownMarket)
	}
	journal.Set(v.journal, &p.price, price)
	return nil
}

// Markets returns the listed market keys.
func (v *Venue) Markets() []domain.Market {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.Market, 0, len(v.pools))
	for _, p := range v.pools {
		out = append(out, p.market)
	}
	return out
}

// CurrentTick implements domain.PriceOracle.
func (v *Venue) CurrentTick(_ context.Context, id domain.MarketID) (int32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[id]
	if !ok {
		return 0, fmt.Errorf("current tick %s: %w", id, domain.ErrUnknownMarket)
	}
	return p.tick, nil
}

// Quote returns the output of an exact-input swap without executing it.
func (v *Venue) Quote(id domain.MarketID, dir domain.Direction, exactInput decimal.Decimal) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("quote %s: %w", id, domain.ErrUnknownMarket)
	}
	return p.quote(dir, exactInput), nil
}

func (p *pool) quote(dir domain.Direction, in decimal.Decimal) decimal.Decimal {
	net := in.Mul(decimal.NewFromInt(int64(feeDenominator - p.market.Fee)))
	var out decimal.Decimal
	if dir.ZeroForOne() {
		out, _ = net.Mul(p.price).QuoRem(pipsDenominator, 0)
	} else {
		out, _ = net.QuoRem(p.price.Mul(pipsDenominator), 0)
	}
	return out
}

// Swap implements domain.SwapEngine. The returned delta is from the
// swapper's point of view: input negative, output positive.
func (v *Venue) Swap(_ context.Context, m domain.Market, dir domain.Direction, exactInput decimal.Decimal) (domain.BalanceDelta, error) {
	if !exactInput.IsPositive() || !safe.IsWhole(exactInput) {
		return domain.BalanceDelta{}, fmt.Errorf("swap %s: %w", exactInput, domain.ErrInvalidAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[m.ID()]
	if !ok {
		return domain.BalanceDelta{}, fmt.Errorf("swap %s: %w", m.ID(), domain.ErrUnknownMarket)
	}

	out := p.quote(dir, exactInput)
	outAsset := dir.OutputAsset(m)
	inAsset := dir.InputAsset(m)

	free := v.wallets.Balance(v.account, outAsset).Sub(v.credit[outAsset])
	if free.LessThan(out) {
		return domain.BalanceDelta{}, fmt.Errorf("swap %s for %s %s: %w", exactInput, out, outAsset, domain.ErrInsufficientLiquidity)
	}

	journal.SetKey(v.journal, v.owed, inAsset, v.owed[inAsset].Add(exactInput))
	journal.SetKey(v.journal, v.credit, outAsset, v.credit[outAsset].Add(out))

	if dir.ZeroForOne() {
		return domain.BalanceDelta{Amount0: exactInput.Neg(), Amount1: out}, nil
	}
	return domain.BalanceDelta{Amount0: out, Amount1: exactInput.Neg()}, nil
}

// Settle implements domain.SwapEngine: the swapper pays what it owes.
func (v *Venue) Settle(_ context.Context, asset domain.Asset, amount decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rest, err := safe.Sub(v.owed[asset], amount)
	if err != nil {
		return fmt.Errorf("settle %s %s: %w", amount, asset, err)
	}
	if err := v.wallets.Transfer(v.swapper, v.account, asset, amount); err != nil {
		return fmt.Errorf("settle %s %s: %w", amount, asset, err)
	}
	journal.SetKey(v.journal, v.owed, asset, rest)
	return nil
}

// Take implements domain.SwapEngine: the swapper collects what it is owed.
func (v *Venue) Take(_ context.Context, asset domain.Asset, amount decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rest, err := safe.Sub(v.credit[asset], amount)
	if err != nil {
		return fmt.Errorf("take %s %s: %w", amount, asset, err)
	}
	if err := v.wallets.Transfer(v.account, v.swapper, asset, amount); err != nil {
		return fmt.Errorf("take %s %s: %w: %w", amount, asset, domain.ErrInsufficientLiquidity, err)
	}
	journal.SetKey(v.journal, v.credit, asset, rest)
	return nil
}

// Unsettled reports the open deltas per asset: what the swapper still owes
// and what it has not collected yet.
func (v *Venue) Unsettled() (owed, credit map[domain.Asset]decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()

	owed = make(map[domain.Asset]decimal.Decimal)
	credit = make(map[domain.Asset]decimal.Decimal)
	for a, d := range v.owed {
		if !d.IsZero() {
			owed[a] = d
		}
	}
	for a, d := range v.credit {
		if !d.IsZero() {
			credit[a] = d
		}
	}
	return owed, credit
}

// Snapshot implements domain.Transactional.
func (v *Venue) Snapshot() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.journal.Snapshot()
}

// RevertToSnapshot implements domain.Transactional.
func (v *Venue) RevertToSnapshot(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal.RevertToSnapshot(id)
}

// Commit implements domain.Transactional.
func (v *Venue) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal.Commit()
}
