package engine

import (
	"cmp"
	"fmt"
	"slices"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"

	"github.com/samber/lo"
	"github.com/tidwall/btree"
)

// State is the committed engine state in a serializable form.
type State struct {
	NextOrderID uint64               `json:"next_order_id"`
	Markets     []domain.MarketState `json:"markets"`
	Orders      []domain.Order       `json:"orders"`
	Positions   []domain.Position    `json:"positions"`
}

// State returns a copy of the committed state, sorted for stable output.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state()
}

func (e *Engine) state() State {
	markets := lo.Map(lo.Values(e.ticks.markets), func(s *domain.MarketState, _ int) domain.MarketState {
		return *s
	})
	slices.SortFunc(markets, func(a, b domain.MarketState) int { return cmp.Compare(a.ID, b.ID) })

	orders := lo.Map(lo.Values(e.orders.orders), func(o *domain.Order, _ int) domain.Order {
		return *o
	})
	slices.SortFunc(orders, func(a, b domain.Order) int { return cmp.Compare(a.ID, b.ID) })

	positions := lo.Map(lo.Values(e.ledger.positions), func(p *domain.Position, _ int) domain.Position {
		return *p
	})
	slices.SortFunc(positions, func(a, b domain.Position) int {
		if c := cmp.Compare(a.Market, b.Market); c != 0 {
			return c
		}
		return cmp.Compare(a.OrderID, b.OrderID)
	})

	return State{
		NextOrderID: e.orders.nextID,
		Markets:     markets,
		Orders:      orders,
		Positions:   positions,
	}
}

// Restore replaces the engine state with s. Collaborator state is not
// touched; callers restore it alongside.
func (e *Engine) Restore(s State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j := journal.New()
	ticks := newTickObserver(j)
	orders := newRegistry(j)
	led := newLedger(j)

	for _, m := range s.Markets {
		if m.ID != m.Market.ID() {
			return fmt.Errorf("restore: market %s does not match its key", m.ID)
		}
		st := m
		ticks.markets[m.ID] = &st
	}

	orders.nextID = max(s.NextOrderID, 1)
	for _, o := range s.Orders {
		if o.ID == 0 || o.ID >= orders.nextID {
			return fmt.Errorf("restore: order id %d outside [1, %d)", o.ID, orders.nextID)
		}
		if _, ok := ticks.markets[o.Market]; !ok {
			return fmt.Errorf("restore: order %d: %w", o.ID, domain.ErrUnknownMarket)
		}
		ord := o
		orders.orders[o.ID] = &ord
		if ord.IsLive() {
			idx, ok := orders.active[o.Market]
			if !ok {
				idx = new(btree.Map[uint64, *domain.Order])
				orders.active[o.Market] = idx
			}
			idx.Set(o.ID, &ord)
		}
	}

	for _, p := range s.Positions {
		pos := p
		led.positions[p.ID] = &pos
	}

	e.journal = j
	e.ticks = ticks
	e.orders = orders
	e.ledger = led
	e.pending = nil
	return nil
}
