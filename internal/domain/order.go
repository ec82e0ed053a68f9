package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a trailing-stop order.
type OrderStatus uint8

const (
	OrderStatusPending OrderStatus = iota + 1
	OrderStatusActive
	OrderStatusExecuted
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusActive:
		return "ACTIVE"
	case OrderStatusExecuted:
		return "EXECUTED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PENDING":
		*s = OrderStatusPending
	case "ACTIVE":
		*s = OrderStatusActive
	case "EXECUTED":
		*s = OrderStatusExecuted
	case "CANCELLED":
		*s = OrderStatusCancelled
	default:
		return fmt.Errorf("unknown order status %q", b)
	}
	return nil
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusCancelled
}

// Order is a trailing-stop order.
// All amounts are whole base units of the respective asset.
type Order struct {
	ID               uint64           `json:"id"`
	Owner            Account          `json:"owner"`
	Market           MarketID         `json:"market"`
	Direction        Direction        `json:"direction"`
	InputAmount      decimal.Decimal  `json:"input_amount"`
	TrailingDistance int32            `json:"trailing_distance"`
	ReferenceTick    int32            `json:"reference_tick"`
	ActivationTick   *int32           `json:"activation_tick,omitempty"`
	MinOutputAmount  *decimal.Decimal `json:"min_output_amount,omitempty"`
	Status           OrderStatus      `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// IsLive reports whether the order still holds input and can be scanned.
func (o *Order) IsLive() bool {
	return o.InputAmount.IsPositive() && !o.Status.Terminal()
}

// TriggerTick returns the tick at or beyond which an active order fires.
// It may fall outside the valid tick range.
func (o *Order) TriggerTick() int64 {
	if o.Direction == Buy {
		return int64(o.ReferenceTick) + int64(o.TrailingDistance)
	}
	return int64(o.ReferenceTick) - int64(o.TrailingDistance)
}

// PlaceParams are the caller-supplied parameters of a new order.
type PlaceParams struct {
	Market           MarketID         `json:"market"`
	Direction        Direction        `json:"direction"`
	TrailingDistance int32            `json:"trailing_distance"`
	InputAmount      decimal.Decimal  `json:"input_amount"`
	ActivationTick   *int32           `json:"activation_tick,omitempty"`
	MinOutputAmount  *decimal.Decimal `json:"min_output_amount,omitempty"`
}
