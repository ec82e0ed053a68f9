package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSide_TriggerThreshold(t *testing.T) {
	const ref, dist int32 = 440, 180

	t.Run("sell", func(t *testing.T) {
		s := Sell.Side()
		assert.False(t, s.Breached(ref-dist+1, ref, dist), "R-D+1 must not trigger")
		assert.True(t, s.Breached(ref-dist, ref, dist), "R-D must trigger")
		assert.True(t, s.Breached(ref-dist-1, ref, dist))
		assert.False(t, s.Breached(ref+dist, ref, dist))
	})

	t.Run("buy", func(t *testing.T) {
		s := Buy.Side()
		assert.False(t, s.Breached(ref+dist-1, ref, dist), "R+D-1 must not trigger")
		assert.True(t, s.Breached(ref+dist, ref, dist), "R+D must trigger")
		assert.False(t, s.Breached(ref-dist, ref, dist))
	})
}

func TestSide_Improves(t *testing.T) {
	assert.True(t, Sell.Side().Improves(10, 0))
	assert.False(t, Sell.Side().Improves(0, 0))
	assert.False(t, Sell.Side().Improves(-10, 0))

	assert.True(t, Buy.Side().Improves(-10, 0))
	assert.False(t, Buy.Side().Improves(0, 0))
	assert.False(t, Buy.Side().Improves(10, 0))
}

func TestSide_Activated(t *testing.T) {
	assert.True(t, Sell.Side().Activated(60, 60))
	assert.False(t, Sell.Side().Activated(59, 60))
	assert.True(t, Buy.Side().Activated(-60, -60))
	assert.False(t, Buy.Side().Activated(-59, -60))
}

func TestSide_ExtremeTicksDoNotOverflow(t *testing.T) {
	assert.True(t, Sell.Side().Breached(MinTick, MaxTick, MaxTick))
	assert.True(t, Buy.Side().Breached(MaxTick, MinTick, MaxTick))
}

func TestDirection_Assets(t *testing.T) {
	m := Market{Currency0: "USDC", Currency1: "WETH", Fee: 3000, TickSpacing: 60}

	assert.Equal(t, Asset("USDC"), Sell.InputAsset(m))
	assert.Equal(t, Asset("WETH"), Sell.OutputAsset(m))
	assert.Equal(t, Asset("WETH"), Buy.InputAsset(m))
	assert.Equal(t, Asset("USDC"), Buy.OutputAsset(m))
	assert.True(t, Sell.ZeroForOne())
	assert.False(t, Buy.ZeroForOne())
}

func TestDirection_Text(t *testing.T) {
	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("buy")))
	assert.Equal(t, Buy, d)

	b, err := Sell.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SELL", string(b))

	_, err = Direction(0).MarshalText()
	assert.Error(t, err)
	assert.Error(t, d.UnmarshalText([]byte("hold")))
}
