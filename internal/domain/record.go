package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind names an engine record emitted on commit.
type RecordKind string

const (
	RecordPlaced    RecordKind = "placed"
	RecordTracked   RecordKind = "tracked"
	RecordActivated RecordKind = "activated"
	RecordExecuted  RecordKind = "executed"
	RecordCancelled RecordKind = "cancelled"
	RecordRedeemed  RecordKind = "redeemed"
)

// Record is an observable engine event.
// Amount is the input-side quantity of the record (deposited, refunded or
// burned); Output is the output-side quantity (executed or paid out).
type Record struct {
	Kind             RecordKind      `json:"kind"`
	OrderID          uint64          `json:"order_id"`
	Market           MarketID        `json:"market"`
	Position         PositionID      `json:"position"`
	Account          Account         `json:"account,omitempty"`
	Direction        Direction       `json:"direction,omitempty"`
	Status           OrderStatus     `json:"status,omitempty"`
	Tick             int32           `json:"tick"`
	TrailingDistance int32           `json:"trailing_distance,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Output           decimal.Decimal `json:"output"`
	At               time.Time       `json:"at"`
}
