package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// PositionID keys the claim bucket of one order.
type PositionID [32]byte

// NewPositionID hashes (market, orderID).
func NewPositionID(market MarketID, orderID uint64) PositionID {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(market))
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], orderID)
	h.Write(id[:])

	var p PositionID
	copy(p[:], h.Sum(nil))
	return p
}

func (p PositionID) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

func (p PositionID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PositionID) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(b), "0x"))
	if err != nil {
		return fmt.Errorf("decode position id: %w", err)
	}
	if len(raw) != len(p) {
		return fmt.Errorf("position id must be %d bytes, got %d", len(p), len(raw))
	}
	copy(p[:], raw)
	return nil
}

// Position is the ledger row of a claim bucket.
// ClaimSupply counts outstanding claim tokens (input units); Claimable counts
// output units available for redemption.
type Position struct {
	ID          PositionID      `json:"id"`
	Market      MarketID        `json:"market"`
	OrderID     uint64          `json:"order_id"`
	OutputAsset Asset           `json:"output_asset"`
	ClaimSupply decimal.Decimal `json:"claim_supply"`
	Claimable   decimal.Decimal `json:"claimable"`
}
