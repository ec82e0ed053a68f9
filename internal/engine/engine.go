package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"trailing_go/internal/domain"
	"trailing_go/internal/infra"
	"trailing_go/pkg/journal"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Swap    domain.SwapEngine
	Oracle  domain.PriceOracle
	Claims  domain.ClaimTokens
	Custody domain.Custody

	// CustodyAccount is the account holding order funds. Price updates sent
	// by it are the engine's own swaps and are not scanned.
	CustodyAccount domain.Account

	// Optional.
	Sink    domain.RecordSink
	Metrics *infra.Metrics
	Now     func() time.Time
}

// Engine owns all order, tick and position state. Every public mutation is
// all-or-nothing: on error nothing in the engine or in any transactional
// collaborator has changed.
type Engine struct {
	mu sync.Mutex

	swap           domain.SwapEngine
	oracle         domain.PriceOracle
	follower       domain.TickSetter
	claims         domain.ClaimTokens
	custody        domain.Custody
	sink           domain.RecordSink
	custodyAccount domain.Account
	metrics        *infra.Metrics
	now            func() time.Time

	participants []domain.Transactional
	journal      *journal.Journal

	ticks  *tickObserver
	orders *registry
	ledger *ledger

	pending []domain.Record
}

// New validates deps and creates an engine with empty state.
func New(deps Deps) (*Engine, error) {
	if deps.Swap == nil || deps.Oracle == nil || deps.Claims == nil || deps.Custody == nil {
		return nil, errors.New("engine: swap, oracle, claims and custody are required")
	}
	if deps.CustodyAccount == "" {
		return nil, errors.New("engine: custody account is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = infra.GlobalMetrics
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	j := journal.New()
	e := &Engine{
		swap:           deps.Swap,
		oracle:         deps.Oracle,
		claims:         deps.Claims,
		custody:        deps.Custody,
		sink:           deps.Sink,
		custodyAccount: deps.CustodyAccount,
		metrics:        deps.Metrics,
		now:            deps.Now,
		journal:        j,
		ticks:          newTickObserver(j),
		orders:         newRegistry(j),
		ledger:         newLedger(j),
	}
	// an in-process oracle tracks every committed tick
	if ts, ok := deps.Oracle.(domain.TickSetter); ok {
		e.follower = ts
	}
	for _, c := range []any{deps.Swap, deps.Oracle, deps.Claims, deps.Custody} {
		e.enlist(c)
	}
	return e, nil
}

// enlist registers c for snapshot/revert if it can roll back its state.
func (e *Engine) enlist(c any) {
	var t domain.Transactional
	switch v := c.(type) {
	case domain.Transactional:
		t = v
	case interface{ Transactional() domain.Transactional }:
		t = v.Transactional()
	default:
		return
	}
	if !slices.Contains(e.participants, t) {
		e.participants = append(e.participants, t)
	}
}

// CustodyAccount returns the account holding order funds.
func (e *Engine) CustodyAccount() domain.Account {
	return e.custodyAccount
}

// atomically runs fn as one unit. The caller holds e.mu.
// On error or panic the engine journal and every participant are reverted
// and buffered records are dropped; on success records are published.
func (e *Engine) atomically(ctx context.Context, op string, fn func() error) error {
	snap := e.journal.Snapshot()
	snaps := make([]int, len(e.participants))
	for i, p := range e.participants {
		snaps[i] = p.Snapshot()
	}
	e.pending = e.pending[:0]

	rollback := func() {
		for i := len(e.participants) - 1; i >= 0; i-- {
			e.participants[i].RevertToSnapshot(snaps[i])
		}
		e.journal.RevertToSnapshot(snap)
		e.pending = e.pending[:0]
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := fn(); err != nil {
		rollback()
		return domain.NewEngineError(op, err)
	}

	e.journal.Commit()
	for _, p := range e.participants {
		p.Commit()
	}

	if len(e.pending) > 0 && e.sink != nil {
		records := slices.Clone(e.pending)
		if err := e.sink.Publish(ctx, records); err != nil {
			// state is committed; the record journal is best effort
			e.metrics.RecordError()
			slog.Error("Failed to publish records",
				slog.String("op", op),
				slog.Int("count", len(records)),
				slog.Any("error", err))
		}
	}
	e.pending = e.pending[:0]
	return nil
}

func (e *Engine) emit(r domain.Record) {
	r.At = e.now()
	e.pending = append(e.pending, r)
}

// InitializeMarket registers a market and runs the initial price update.
func (e *Engine) InitializeMarket(ctx context.Context, m domain.Market, tick int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.atomically(ctx, "initialize", func() error {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidMarket, err)
		}
		if tick < domain.MinTick || tick > domain.MaxTick {
			return fmt.Errorf("%w: tick %d out of range", domain.ErrInvalidMarket, tick)
		}
		if err := e.ticks.add(m, tick, e.now()); err != nil {
			return err
		}
		_, err := e.scan(ctx, m.ID(), tick)
		return err
	})
}

// OnPriceUpdate is the venue's post-swap callback. It scans the market's
// live orders against tick and stores tick as the last observed tick.
func (e *Engine) OnPriceUpdate(ctx context.Context, market domain.MarketID, tick int32) (ScanResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var res ScanResult
	err := e.atomically(ctx, "price_update", func() error {
		var err error
		res, err = e.scan(ctx, market, tick)
		return err
	})
	if err != nil {
		e.metrics.RecordScanReverted()
		return ScanResult{}, err
	}
	res.Elapsed = time.Since(start)
	for _, x := range res.Executed {
		e.metrics.RecordTriggered()
		slog.Info("ORDER_EXECUTED",
			slog.Uint64("order_id", x.OrderID),
			slog.String("market", string(market)),
			slog.Int("tick", int(tick)),
			slog.String("output", x.Output))
	}
	return res, nil
}
