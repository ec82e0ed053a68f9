package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"
)

// ScanResult summarizes one committed price update.
type ScanResult struct {
	Market    domain.MarketID `json:"market"`
	Tick      int32           `json:"tick"`
	Scanned   int             `json:"scanned"`
	Activated []uint64        `json:"activated,omitempty"`
	Tracked   []uint64        `json:"tracked,omitempty"`
	Executed  []Execution     `json:"executed,omitempty"`
	Elapsed   time.Duration   `json:"elapsed_ns"`
}

// Execution is one order fired during a scan.
type Execution struct {
	OrderID uint64 `json:"order_id"`
	Output  string `json:"output"`
}

// scan walks the market's live orders ascending by id. The id list is taken
// before the loop, so executions in this scan never reorder it.
func (e *Engine) scan(ctx context.Context, market domain.MarketID, tick int32) (ScanResult, error) {
	ms, err := e.ticks.get(market)
	if err != nil {
		return ScanResult{}, err
	}
	if tick < domain.MinTick || tick > domain.MaxTick {
		return ScanResult{}, fmt.Errorf("tick %d out of range: %w", tick, domain.ErrInvalidMarket)
	}
	if e.follower != nil {
		if err := e.follower.SetTick(market, tick); err != nil {
			return ScanResult{}, fmt.Errorf("oracle tick: %w", err)
		}
	}

	res := ScanResult{Market: market, Tick: tick}
	for _, id := range e.orders.activeIDs(market) {
		o, ok := e.orders.get(id)
		if !ok || !o.IsLive() {
			continue
		}
		res.Scanned++
		side := o.Direction.Side()

		switch o.Status {
		case domain.OrderStatusPending:
			if o.ActivationTick == nil || !side.Activated(tick, *o.ActivationTick) {
				continue
			}
			journal.Set(e.journal, &o.Status, domain.OrderStatusActive)
			journal.Set(e.journal, &o.ReferenceTick, tick)
			res.Activated = append(res.Activated, id)
			e.emit(e.orderRecord(domain.RecordActivated, o, tick))

		case domain.OrderStatusActive:
			switch {
			case side.Improves(tick, o.ReferenceTick):
				journal.Set(e.journal, &o.ReferenceTick, tick)
				res.Tracked = append(res.Tracked, id)
				e.emit(e.orderRecord(domain.RecordTracked, o, tick))

			case side.Breached(tick, o.ReferenceTick, o.TrailingDistance):
				out, err := e.execute(ctx, ms.Market, o, tick)
				if err != nil {
					slog.Warn("Execution failed, reverting scan",
						slog.Uint64("order_id", id),
						slog.String("market", string(market)),
						slog.Int("tick", int(tick)),
						slog.Any("error", err))
					return ScanResult{}, fmt.Errorf("order %d: %w", id, err)
				}
				res.Executed = append(res.Executed, Execution{OrderID: id, Output: out.String()})
			}
		}
	}

	e.ticks.observe(ms, tick, e.now())
	return res, nil
}

func (e *Engine) orderRecord(kind domain.RecordKind, o *domain.Order, tick int32) domain.Record {
	return domain.Record{
		Kind:             kind,
		OrderID:          o.ID,
		Market:           o.Market,
		Position:         domain.NewPositionID(o.Market, o.ID),
		Account:          o.Owner,
		Direction:        o.Direction,
		Status:           o.Status,
		Tick:             tick,
		TrailingDistance: o.TrailingDistance,
		Amount:           o.InputAmount,
	}
}
