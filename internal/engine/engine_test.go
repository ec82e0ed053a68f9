package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"trailing_go/internal/domain"
	"trailing_go/internal/infra"
	"trailing_go/internal/paper"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	custody domain.Account = "engine"
	venueAc domain.Account = "venue"
	alice   domain.Account = "alice"
	bob     domain.Account = "bob"
	carol   domain.Account = "carol"
)

var testMarket = domain.Market{Currency0: "ASSET0", Currency1: "ASSET1", Fee: 3000, TickSpacing: 60}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got}, msg...)...)
}

type memSink struct {
	mu      sync.Mutex
	records []domain.Record
}

func (s *memSink) Publish(_ context.Context, rs []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rs...)
	return nil
}

func (s *memSink) kinds() []domain.RecordKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.records, func(r domain.Record, _ int) domain.RecordKind { return r.Kind })
}

type harness struct {
	t       testing.TB
	ctx     context.Context
	wallets *paper.Wallets
	venue   *paper.Venue
	claims  *paper.ClaimLedger
	sink    *memSink
	eng     *Engine
	id      domain.MarketID
}

// newHarness lists testMarket at tick 0 and price 1 with deep venue
// liquidity and funds alice with 100e18 of both assets.
func newHarness(t testing.TB) *harness {
	t.Helper()

	w := paper.NewWallets()
	v := paper.NewVenue(w, venueAc, custody)
	c := paper.NewClaimLedger()
	sink := &memSink{}

	require.NoError(t, v.ListMarket(testMarket, 0, dec("1")))
	for _, a := range []domain.Asset{testMarket.Currency0, testMarket.Currency1} {
		require.NoError(t, w.Credit(venueAc, a, dec("1000e18")))
		require.NoError(t, w.Credit(alice, a, dec("100e18")))
	}
	w.Commit()

	eng, err := New(Deps{
		Swap:           v,
		Oracle:         v,
		Claims:         c,
		Custody:        paper.NewVault(w, custody),
		CustodyAccount: custody,
		Sink:           sink,
		Metrics:        &infra.Metrics{},
		Now:            func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(t, err)

	h := &harness{t: t, ctx: context.Background(), wallets: w, venue: v, claims: c, sink: sink, eng: eng, id: testMarket.ID()}
	require.NoError(t, eng.InitializeMarket(h.ctx, testMarket, 0))
	return h
}

func (h *harness) place(owner domain.Account, dir domain.Direction, dist int32, amount string) uint64 {
	h.t.Helper()
	id, err := h.eng.Place(h.ctx, owner, domain.PlaceParams{
		Market:           h.id,
		Direction:        dir,
		TrailingDistance: dist,
		InputAmount:      dec(amount),
	})
	require.NoError(h.t, err)
	return id
}

func (h *harness) tick(tick int32) ScanResult {
	h.t.Helper()
	res, err := h.eng.OnPriceUpdate(h.ctx, h.id, tick)
	require.NoError(h.t, err)
	return res
}

func (h *harness) order(id uint64) domain.Order {
	h.t.Helper()
	o, ok := h.eng.Order(id)
	require.True(h.t, ok, "order %d", id)
	return o
}

func (h *harness) balance(a domain.Account, asset domain.Asset) decimal.Decimal {
	return h.wallets.Balance(a, asset)
}

func TestEngine_EndToEndSell(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Sell, 180, "10e18")

	o := h.order(id)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	assert.Equal(t, int32(0), o.ReferenceTick)
	assertDec(t, "90e18", h.balance(alice, "ASSET0"))
	assertDec(t, "10e18", h.balance(custody, "ASSET0"))

	res := h.tick(440)
	assert.Equal(t, []uint64{id}, res.Tracked)
	assert.Equal(t, int32(440), h.order(id).ReferenceTick)

	res = h.tick(320)
	assert.Empty(t, res.Tracked)
	assert.Empty(t, res.Executed)
	assert.Equal(t, int32(440), h.order(id).ReferenceTick)

	res = h.tick(260)
	require.Len(t, res.Executed, 1)
	assert.Equal(t, id, res.Executed[0].OrderID)

	o = h.order(id)
	assert.Equal(t, domain.OrderStatusExecuted, o.Status)
	assert.True(t, o.InputAmount.IsZero())
	assert.Empty(t, h.eng.ActiveOrders(h.id))

	// 10e18 * 1 * (1 - 0.003)
	pos, ok := h.eng.Position(h.id, id)
	require.True(t, ok)
	assertDec(t, "9.97e18", pos.Claimable)
	assertDec(t, "10e18", pos.ClaimSupply)
	assertDec(t, "9.97e18", h.balance(custody, "ASSET1"))

	owed, credit := h.venue.Unsettled()
	assert.Empty(t, owed)
	assert.Empty(t, credit)

	out, err := h.eng.Redeem(h.ctx, alice, h.id, id, dec("10e18"))
	require.NoError(t, err)
	assertDec(t, "9.97e18", out)
	assertDec(t, "109.97e18", h.balance(alice, "ASSET1"))

	pos, _ = h.eng.Position(h.id, id)
	assert.True(t, pos.Claimable.IsZero())
	assert.True(t, pos.ClaimSupply.IsZero())
	bal, err := h.eng.ClaimBalance(h.ctx, alice, h.id, id)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	last, ok := h.eng.LastTick(h.id)
	require.True(t, ok)
	assert.Equal(t, int32(260), last)

	assert.Equal(t, []domain.RecordKind{
		domain.RecordPlaced,
		domain.RecordTracked,
		domain.RecordExecuted,
		domain.RecordRedeemed,
	}, h.sink.kinds())
}

func TestEngine_EndToEndBuy(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Buy, 180, "5e18")
	assertDec(t, "95e18", h.balance(alice, "ASSET1"))

	h.tick(-440)
	assert.Equal(t, int32(-440), h.order(id).ReferenceTick)

	res := h.tick(-261)
	assert.Empty(t, res.Executed, "R+D-1 must not trigger")

	res = h.tick(-260)
	require.Len(t, res.Executed, 1)

	pos, _ := h.eng.Position(h.id, id)
	assertDec(t, "4.985e18", pos.Claimable)
	assert.Equal(t, domain.Asset("ASSET0"), pos.OutputAsset)
}

func TestEngine_TriggerThreshold(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Sell, 180, "1e18")
	h.tick(440)

	res := h.tick(261)
	assert.Empty(t, res.Executed, "R-D+1 must not trigger")
	assert.Equal(t, domain.OrderStatusActive, h.order(id).Status)

	res = h.tick(260)
	assert.Len(t, res.Executed, 1, "R-D must trigger")
}

func TestEngine_RatchetMonotonic(t *testing.T) {
	ticks := []int32{60, 120, 100, 200, 150, 300, -100, 310}

	t.Run("sell", func(t *testing.T) {
		h := newHarness(t)
		id := h.place(alice, domain.Sell, 60000, "1e18")
		prev := h.order(id).ReferenceTick
		for _, tk := range ticks {
			h.tick(tk)
			ref := h.order(id).ReferenceTick
			assert.GreaterOrEqual(t, ref, prev, "tick %d", tk)
			prev = ref
		}
		assert.Equal(t, int32(310), prev)
	})

	t.Run("buy", func(t *testing.T) {
		h := newHarness(t)
		id := h.place(alice, domain.Buy, 60000, "1e18")
		prev := h.order(id).ReferenceTick
		for _, tk := range ticks {
			h.tick(-tk)
			ref := h.order(id).ReferenceTick
			assert.LessOrEqual(t, ref, prev, "tick %d", -tk)
			prev = ref
		}
		assert.Equal(t, int32(-310), prev)
	})
}

func TestEngine_ActivationGating(t *testing.T) {
	h := newHarness(t)
	id, err := h.eng.Place(h.ctx, alice, domain.PlaceParams{
		Market:           h.id,
		Direction:        domain.Sell,
		TrailingDistance: 120,
		InputAmount:      dec("1e18"),
		ActivationTick:   lo.ToPtr(int32(600)),
	})
	require.NoError(t, err)

	o := h.order(id)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, int32(600), o.ReferenceTick)

	for _, tk := range []int32{540, 0, -5000, 599, -3000} {
		res := h.tick(tk)
		assert.Empty(t, res.Executed)
		assert.Empty(t, res.Tracked)
		o = h.order(id)
		assert.Equal(t, domain.OrderStatusPending, o.Status)
		assert.Equal(t, int32(600), o.ReferenceTick)
	}

	res := h.tick(660)
	assert.Equal(t, []uint64{id}, res.Activated)
	o = h.order(id)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	assert.Equal(t, int32(660), o.ReferenceTick, "activation anchors at the current tick")

	res = h.tick(540)
	assert.Len(t, res.Executed, 1)
}

func TestEngine_Alignment(t *testing.T) {
	for _, current := range []int32{0, -120} {
		h := newHarness(t)
		require.NoError(t, h.venue.SetTick(h.id, current))

		id, err := h.eng.Place(h.ctx, alice, domain.PlaceParams{
			Market:           h.id,
			Direction:        domain.Sell,
			TrailingDistance: 181,
			InputAmount:      dec("1e18"),
			ActivationTick:   lo.ToPtr(current + 61),
		})
		require.NoError(t, err)

		o := h.order(id)
		assert.Equal(t, int32(180), o.TrailingDistance)
		require.NotNil(t, o.ActivationTick)
		assert.Equal(t, current+60, *o.ActivationTick)
	}
}

func TestEngine_PlaceValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		p    domain.PlaceParams
		want error
	}{
		{"zero amount", domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: 60, InputAmount: decimal.Zero}, domain.ErrInvalidAmount},
		{"fractional amount", domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: 60, InputAmount: dec("1.5")}, domain.ErrInvalidAmount},
		{"distance aligns to zero", domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: 59, InputAmount: dec("1")}, domain.ErrInvalidTrailingDistance},
		{"negative distance", domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: -60, InputAmount: dec("1")}, domain.ErrInvalidTrailingDistance},
		{"no direction", domain.PlaceParams{Market: h.id, TrailingDistance: 60, InputAmount: dec("1")}, domain.ErrInvalidDirection},
		{"unknown market", domain.PlaceParams{Market: "0xdead", Direction: domain.Sell, TrailingDistance: 60, InputAmount: dec("1")}, domain.ErrUnknownMarket},
		{"underfunded", domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: 60, InputAmount: dec("101e18")}, domain.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.Place(h.ctx, alice, tt.p)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, domain.KindOf(tt.want), domain.KindOf(err))
			assertDec(t, "100e18", h.balance(alice, "ASSET0"), "no funds move on failure")
		})
	}

	// failed placements give their ids back
	assert.Equal(t, uint64(1), h.place(alice, domain.Sell, 60, "1"))
	assert.Equal(t, []domain.RecordKind{domain.RecordPlaced}, h.sink.kinds())
}

func TestEngine_Cancel(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Sell, 180, "10e18")

	err := h.eng.Cancel(h.ctx, bob, h.id, id)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	err = h.eng.Cancel(h.ctx, alice, "0xother", id)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	require.NoError(t, h.eng.Cancel(h.ctx, alice, h.id, id))
	assertDec(t, "100e18", h.balance(alice, "ASSET0"))
	assert.True(t, h.balance(custody, "ASSET0").IsZero())

	bal, err := h.eng.ClaimBalance(h.ctx, alice, h.id, id)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	o := h.order(id)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.True(t, o.InputAmount.IsZero())
	assert.Empty(t, h.eng.ActiveOrders(h.id))

	err = h.eng.Cancel(h.ctx, alice, h.id, id)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Equal(t, domain.KindState, domain.KindOf(err))

	err = h.eng.Cancel(h.ctx, alice, h.id, 99)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	// a cancelled order never executes
	h.tick(600)
	res := h.tick(-600)
	assert.Empty(t, res.Executed)
}

func TestEngine_CancelRefundsOnlyCallerShare(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Sell, 180, "100")
	pos := h.eng.PositionID(h.id, id)
	require.NoError(t, h.claims.Transfer(h.ctx, alice, bob, pos, dec("40")))

	require.NoError(t, h.eng.Cancel(h.ctx, alice, h.id, id))
	assertDec(t, "100e18", h.balance(alice, "ASSET0").Add(dec("40")))

	o := h.order(id)
	assert.Equal(t, domain.OrderStatusActive, o.Status, "bob's share stays live")
	assertDec(t, "40", o.InputAmount)
	p, _ := h.eng.Position(h.id, id)
	assertDec(t, "40", p.ClaimSupply)

	err := h.eng.Cancel(h.ctx, alice, h.id, id)
	require.ErrorIs(t, err, domain.ErrNotEnoughToClaim)

	h.tick(-180)
	p, _ = h.eng.Position(h.id, id)
	// floor(40 * 0.997)
	assertDec(t, "39", p.Claimable)

	out, err := h.eng.Redeem(h.ctx, bob, h.id, id, dec("40"))
	require.NoError(t, err)
	assertDec(t, "39", out)
	assertDec(t, "39", h.balance(bob, "ASSET1"))
}

func TestEngine_ProRataConservation(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Sell, 60, "1000")
	pos := h.eng.PositionID(h.id, id)
	require.NoError(t, h.claims.Transfer(h.ctx, alice, bob, pos, dec("333")))
	require.NoError(t, h.claims.Transfer(h.ctx, alice, carol, pos, dec("333")))

	require.NoError(t, h.venue.SetPrice(h.id, dec("0.7")))
	h.tick(-60)

	p, _ := h.eng.Position(h.id, id)
	credited := p.Claimable
	// floor(1000 * 0.997 * 0.7)
	assertDec(t, "697", credited)

	paid := decimal.Zero
	steps := []struct {
		who    domain.Account
		amount string
	}{
		{bob, "111"}, {alice, "1"}, {carol, "333"}, {alice, "300"}, {bob, "222"}, {alice, "33"},
	}
	for _, s := range steps {
		out, err := h.eng.Redeem(h.ctx, s.who, h.id, id, dec(s.amount))
		require.NoError(t, err)
		paid = paid.Add(out)
	}

	p, _ = h.eng.Position(h.id, id)
	assert.True(t, p.ClaimSupply.IsZero())
	assert.True(t, paid.LessThanOrEqual(credited), "paid %s of %s", paid, credited)
	assert.True(t, paid.Add(p.Claimable).Equal(credited))
	assert.True(t, h.balance(custody, "ASSET1").Equal(p.Claimable))
}

func TestEngine_RedeemErrors(t *testing.T) {
	h := newHarness(t)
	id := h.place(alice, domain.Sell, 180, "10")

	_, err := h.eng.Redeem(h.ctx, alice, h.id, id, dec("10"))
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
	assert.Equal(t, domain.KindInsufficientClaim, domain.KindOf(err))

	h.tick(-180)

	_, err = h.eng.Redeem(h.ctx, bob, h.id, id, dec("1"))
	require.ErrorIs(t, err, domain.ErrNotEnoughToClaim)

	_, err = h.eng.Redeem(h.ctx, alice, h.id, id, dec("11"))
	require.ErrorIs(t, err, domain.ErrNotEnoughToClaim)

	_, err = h.eng.Redeem(h.ctx, alice, h.id, id, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.eng.Redeem(h.ctx, alice, h.id, 42, dec("1"))
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestEngine_SlippageRevertsWholeScan(t *testing.T) {
	h := newHarness(t)
	first := h.place(alice, domain.Sell, 180, "10e18")
	second, err := h.eng.Place(h.ctx, alice, domain.PlaceParams{
		Market:           h.id,
		Direction:        domain.Sell,
		TrailingDistance: 180,
		InputAmount:      dec("10e18"),
		MinOutputAmount:  lo.ToPtr(dec("11e18")),
	})
	require.NoError(t, err)
	h.tick(440)
	recorded := len(h.sink.kinds())

	_, err = h.eng.OnPriceUpdate(h.ctx, h.id, 260)
	require.ErrorIs(t, err, domain.ErrSlippage)
	assert.Equal(t, domain.KindSlippage, domain.KindOf(err))
	assert.False(t, domain.IsRetriable(err))

	// the first order executed earlier in the same scan is rolled back too
	o := h.order(first)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	assertDec(t, "10e18", o.InputAmount)
	assert.Equal(t, int32(440), o.ReferenceTick)
	p, _ := h.eng.Position(h.id, first)
	assert.True(t, p.Claimable.IsZero())
	assertDec(t, "20e18", h.balance(custody, "ASSET0"))
	assert.True(t, h.balance(custody, "ASSET1").IsZero())
	owed, credit := h.venue.Unsettled()
	assert.Empty(t, owed)
	assert.Empty(t, credit)
	last, _ := h.eng.LastTick(h.id)
	assert.Equal(t, int32(440), last)
	current, err := h.venue.CurrentTick(h.ctx, h.id)
	require.NoError(t, err)
	assert.Equal(t, int32(440), current, "the oracle tick is reverted with the scan")
	assert.Len(t, h.sink.kinds(), recorded, "reverted scans publish nothing")

	// the stuck order blocks the market until it is cancelled
	_, err = h.eng.OnPriceUpdate(h.ctx, h.id, 200)
	require.ErrorIs(t, err, domain.ErrSlippage)

	require.NoError(t, h.eng.Cancel(h.ctx, alice, h.id, second))
	res := h.tick(260)
	require.Len(t, res.Executed, 1)
	assert.Equal(t, first, res.Executed[0].OrderID)
}

func TestEngine_FloorMet(t *testing.T) {
	h := newHarness(t)
	id, err := h.eng.Place(h.ctx, alice, domain.PlaceParams{
		Market:           h.id,
		Direction:        domain.Sell,
		TrailingDistance: 60,
		InputAmount:      dec("1000"),
		MinOutputAmount:  lo.ToPtr(dec("997")),
	})
	require.NoError(t, err)

	res := h.tick(-60)
	require.Len(t, res.Executed, 1)
	assert.Equal(t, id, res.Executed[0].OrderID)
}

func TestEngine_LiquidityFailureReverts(t *testing.T) {
	h := newHarness(t)
	h.place(alice, domain.Sell, 60, "10e18")
	require.NoError(t, h.venue.SetPrice(h.id, dec("1000")))

	_, err := h.eng.OnPriceUpdate(h.ctx, h.id, -60)
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Equal(t, domain.KindCollaborator, domain.KindOf(err))
	assertDec(t, "1000e18", h.balance(venueAc, "ASSET1"))
	assert.Len(t, h.eng.ActiveOrders(h.id), 1)
}

type panickingSwap struct {
	*paper.Venue
}

func (panickingSwap) Swap(context.Context, domain.Market, domain.Direction, decimal.Decimal) (domain.BalanceDelta, error) {
	panic("venue exploded")
}

func TestEngine_PanicReverts(t *testing.T) {
	h := newHarness(t)
	eng, err := New(Deps{
		Swap:           panickingSwap{h.venue},
		Oracle:         h.venue,
		Claims:         h.claims,
		Custody:        paper.NewVault(h.wallets, custody),
		CustodyAccount: custody,
		Metrics:        &infra.Metrics{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.InitializeMarket(h.ctx, testMarket, 0))

	id, err := eng.Place(h.ctx, alice, domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: 60, InputAmount: dec("5")})
	require.NoError(t, err)
	_, err = eng.OnPriceUpdate(h.ctx, h.id, 120)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = eng.OnPriceUpdate(h.ctx, h.id, 0)
	})

	o, ok := eng.Order(id)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	assert.Equal(t, int32(120), o.ReferenceTick)
	last, _ := eng.LastTick(h.id)
	assert.Equal(t, int32(120), last)
}

func TestEngine_ScanOrder(t *testing.T) {
	h := newHarness(t)
	a := h.place(alice, domain.Sell, 60, "1")
	b := h.place(alice, domain.Sell, 120, "1")
	c := h.place(alice, domain.Buy, 60, "1")

	res := h.tick(-60)
	// a triggers, c ratchets down; b holds
	assert.Equal(t, []uint64{c}, res.Tracked)
	require.Len(t, res.Executed, 1)
	assert.Equal(t, a, res.Executed[0].OrderID)
	assert.Equal(t, 3, res.Scanned)

	active := lo.Map(h.eng.ActiveOrders(h.id), func(o domain.Order, _ int) uint64 { return o.ID })
	assert.Equal(t, []uint64{b, c}, active)
	all := lo.Map(h.eng.Orders(h.id), func(o domain.Order, _ int) uint64 { return o.ID })
	assert.Equal(t, []uint64{a, b, c}, all)
}

func TestEngine_InitializeMarket(t *testing.T) {
	h := newHarness(t)

	err := h.eng.InitializeMarket(h.ctx, testMarket, 0)
	require.ErrorIs(t, err, domain.ErrMarketExists)

	bad := testMarket
	bad.TickSpacing = 0
	err = h.eng.InitializeMarket(h.ctx, bad, 0)
	require.ErrorIs(t, err, domain.ErrInvalidMarket)

	_, err = h.eng.OnPriceUpdate(h.ctx, "0xnope", 0)
	require.ErrorIs(t, err, domain.ErrUnknownMarket)

	ms, ok := h.eng.Market(h.id)
	require.True(t, ok)
	assert.Equal(t, testMarket, ms.Market)
}

func TestEngine_StateRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.place(alice, domain.Sell, 180, "10e18")
	buy := h.place(alice, domain.Buy, 600, "1e18")
	h.tick(440)

	state := h.eng.State()
	assert.Equal(t, uint64(3), state.NextOrderID)
	assert.Len(t, state.Orders, 2)
	assert.Len(t, state.Positions, 2)

	fresh, err := New(Deps{
		Swap:           h.venue,
		Oracle:         h.venue,
		Claims:         h.claims,
		Custody:        paper.NewVault(h.wallets, custody),
		CustodyAccount: custody,
		Metrics:        &infra.Metrics{},
	})
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(state))
	assert.Equal(t, state, fresh.State())

	res, err := fresh.OnPriceUpdate(h.ctx, h.id, 260)
	require.NoError(t, err)
	require.Len(t, res.Executed, 1)
	active := fresh.ActiveOrders(h.id)
	require.Len(t, active, 1)
	assert.Equal(t, buy, active[0].ID)

	broken := state
	broken.NextOrderID = 1
	assert.Error(t, fresh.Restore(broken))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	h := newHarness(t)
	_, err = New(Deps{Swap: h.venue, Oracle: h.venue, Claims: h.claims, Custody: paper.NewVault(h.wallets, custody)})
	assert.Error(t, err, "custody account is required")
}

func TestEngine_PlaceAnchorsAtLastObservedTick(t *testing.T) {
	h := newHarness(t)
	h.tick(600)

	current, err := h.venue.CurrentTick(h.ctx, h.id)
	require.NoError(t, err)
	assert.Equal(t, int32(600), current)

	id := h.place(alice, domain.Buy, 180, "1e18")
	last, _ := h.eng.LastTick(h.id)
	assert.Equal(t, last, h.order(id).ReferenceTick)

	// an unchanged price neither ratchets nor fires
	res := h.tick(600)
	assert.Empty(t, res.Executed)
	assert.Empty(t, res.Tracked)
	assert.Equal(t, domain.OrderStatusActive, h.order(id).Status)

	res = h.tick(779)
	assert.Empty(t, res.Executed)
	res = h.tick(780)
	require.Len(t, res.Executed, 1)
	assert.Equal(t, id, res.Executed[0].OrderID)
}

type fixedOracle int32

func (o fixedOracle) CurrentTick(context.Context, domain.MarketID) (int32, error) {
	return int32(o), nil
}

func TestEngine_PlaceRejectsOutOfRangeOracleTick(t *testing.T) {
	h := newHarness(t)
	eng, err := New(Deps{
		Swap:           h.venue,
		Oracle:         fixedOracle(domain.MaxTick + 1),
		Claims:         h.claims,
		Custody:        paper.NewVault(h.wallets, custody),
		CustodyAccount: custody,
		Metrics:        &infra.Metrics{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.InitializeMarket(h.ctx, testMarket, 0))

	_, err = eng.Place(h.ctx, alice, domain.PlaceParams{Market: h.id, Direction: domain.Sell, TrailingDistance: 60, InputAmount: dec("5")})
	require.ErrorIs(t, err, domain.ErrInvalidMarket)
	assertDec(t, "100e18", h.balance(alice, "ASSET0"))
	assert.Empty(t, eng.Orders(h.id))
}
