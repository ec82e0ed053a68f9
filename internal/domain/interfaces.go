package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceDelta is the signed settlement of a swap from the caller's point of
// view: negative amounts are owed to the venue, positive amounts are owed by it.
type BalanceDelta struct {
	Amount0 decimal.Decimal `json:"amount0"`
	Amount1 decimal.Decimal `json:"amount1"`
}

// SwapEngine executes swaps on the venue and moves funds between the
// caller's custody and the venue.
type SwapEngine interface {
	Swap(ctx context.Context, market Market, dir Direction, exactInput decimal.Decimal) (BalanceDelta, error)
	Settle(ctx context.Context, asset Asset, amount decimal.Decimal) error
	Take(ctx context.Context, asset Asset, amount decimal.Decimal) error
}

// PriceOracle reads the venue's current tick.
type PriceOracle interface {
	CurrentTick(ctx context.Context, market MarketID) (int32, error)
}

// TickSetter is implemented by oracles that follow observed price updates
// instead of reading an external venue.
type TickSetter interface {
	SetTick(market MarketID, tick int32) error
}

// ClaimTokens is the fungible per-position claim ledger.
type ClaimTokens interface {
	Mint(ctx context.Context, holder Account, position PositionID, amount decimal.Decimal) error
	Burn(ctx context.Context, holder Account, position PositionID, amount decimal.Decimal) error
	BalanceOf(ctx context.Context, holder Account, position PositionID) (decimal.Decimal, error)
}

// Custody moves depositor funds into and out of the engine's custody account.
type Custody interface {
	Deposit(ctx context.Context, from Account, asset Asset, amount decimal.Decimal) error
	Withdraw(ctx context.Context, to Account, asset Asset, amount decimal.Decimal) error
}

// RecordSink receives the records of every committed engine call, in order.
type RecordSink interface {
	Publish(ctx context.Context, records []Record) error
}

// Transactional is implemented by collaborators that can roll back their own
// state, which lets an engine call stay all-or-nothing across them.
type Transactional interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit()
}
