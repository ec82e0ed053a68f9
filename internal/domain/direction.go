package domain

import (
	"fmt"
	"strings"
)

// Direction is the side of a trailing-stop order.
type Direction uint8

const (
	// Sell swaps currency0 for currency1; it trails the high-water mark.
	Sell Direction = iota + 1
	// Buy swaps currency1 for currency0; it trails the low-water mark.
	Buy
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case Sell:
		return "SELL"
	case Buy:
		return "BUY"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection accepts "SELL"/"BUY" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELL":
		return Sell, nil
	case "BUY":
		return Buy, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid direction %d", d)
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Valid reports whether d is Sell or Buy.
func (d Direction) Valid() bool {
	return d == Sell || d == Buy
}

// ZeroForOne reports whether the swap sells currency0.
func (d Direction) ZeroForOne() bool {
	return d == Sell
}

// InputAsset is the asset deposited at placement.
func (d Direction) InputAsset(m Market) Asset {
	if d == Sell {
		return m.Currency0
	}
	return m.Currency1
}

// OutputAsset is the asset received on execution.
func (d Direction) OutputAsset(m Market) Asset {
	if d == Sell {
		return m.Currency1
	}
	return m.Currency0
}

// Side returns the ratchet/trigger predicates for the direction.
func (d Direction) Side() Side {
	if d == Buy {
		return buySide{}
	}
	return sellSide{}
}

// Side holds the direction-specific predicates of the ratchet.
// All comparisons widen to int64 so tick differences never overflow.
type Side interface {
	// Activated reports whether a pending order arms at the current tick.
	Activated(current, activation int32) bool
	// Improves reports whether current is a new favorable extreme relative to reference.
	Improves(current, reference int32) bool
	// Breached reports whether current has retraced from reference by at least distance.
	Breached(current, reference, distance int32) bool
}

type sellSide struct{}

func (sellSide) Activated(current, activation int32) bool {
	return current >= activation
}

func (sellSide) Improves(current, reference int32) bool {
	return int64(current)-int64(reference) > 0
}

func (sellSide) Breached(current, reference, distance int32) bool {
	delta := int64(current) - int64(reference)
	return delta < 0 && -delta >= int64(distance)
}

type buySide struct{}

func (buySide) Activated(current, activation int32) bool {
	return current <= activation
}

func (buySide) Improves(current, reference int32) bool {
	return int64(current)-int64(reference) < 0
}

func (buySide) Breached(current, reference, distance int32) bool {
	delta := int64(current) - int64(reference)
	return delta > 0 && delta >= int64(distance)
}
