package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// Tick bounds of the venue's discretized price scale.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// Asset identifies a fungible token (e.g. "WETH").
type Asset string

// Account identifies a holder: a depositor, the engine's custody account or the venue.
type Account string

// MarketID is the hex-encoded Keccak-256 of a Market key.
type MarketID string

// Market is the immutable key of a venue instance.
type Market struct {
	Currency0   Asset  `json:"currency0" yaml:"currency0"`
	Currency1   Asset  `json:"currency1" yaml:"currency1"`
	Fee         uint32 `json:"fee" yaml:"fee"` // pips, 1e6 = 100%
	TickSpacing int32  `json:"tick_spacing" yaml:"tick_spacing"`
}

// Validate checks the key is canonical: sorted distinct currencies, sane fee and spacing.
func (m Market) Validate() error {
	if m.Currency0 == "" || m.Currency1 == "" {
		return fmt.Errorf("market currencies must be set")
	}
	if m.Currency0 >= m.Currency1 {
		return fmt.Errorf("market currencies must be sorted and distinct: %s/%s", m.Currency0, m.Currency1)
	}
	if m.Fee >= 1_000_000 {
		return fmt.Errorf("market fee %d pips out of range", m.Fee)
	}
	if m.TickSpacing <= 0 || m.TickSpacing > 16384 {
		return fmt.Errorf("market tick spacing %d out of range", m.TickSpacing)
	}
	return nil
}

// ValidateTick rejects ticks outside [MinTick, MaxTick].
func ValidateTick(tick int32) error {
	if tick < MinTick || tick > MaxTick {
		return fmt.Errorf("%w: tick %d out of range", ErrInvalidMarket, tick)
	}
	return nil
}

// ID derives the market identifier from the key.
func (m Market) ID() MarketID {
	h := sha3.NewLegacyKeccak256()
	writeString(h, string(m.Currency0))
	writeString(h, string(m.Currency1))
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], m.Fee)
	binary.BigEndian.PutUint32(buf[4:], uint32(m.TickSpacing))
	h.Write(buf[:])
	return MarketID("0x" + hex.EncodeToString(h.Sum(nil)))
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// AlignTick rounds t down (toward negative infinity) to a multiple of the tick spacing.
func (m Market) AlignTick(t int32) int32 {
	return AlignTick(t, m.TickSpacing)
}

// AlignTick rounds t down (toward negative infinity) to a multiple of spacing.
func AlignTick(t, spacing int32) int32 {
	q := t / spacing
	if t < 0 && t%spacing != 0 {
		q--
	}
	return q * spacing
}

// MarketState holds the engine's view of a single market.
type MarketState struct {
	Market    Market    `json:"market"`
	ID        MarketID  `json:"id"`
	LastTick  int32     `json:"last_tick"`
	UpdatedAt time.Time `json:"updated_at"`
}
