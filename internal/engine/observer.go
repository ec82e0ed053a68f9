package engine

import (
	"fmt"
	"time"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"
)

// tickObserver keeps the last observed tick of every initialized market.
type tickObserver struct {
	j       *journal.Journal
	markets map[domain.MarketID]*domain.MarketState
}

func newTickObserver(j *journal.Journal) *tickObserver {
	return &tickObserver{j: j, markets: make(map[domain.MarketID]*domain.MarketState)}
}

func (t *tickObserver) add(m domain.Market, tick int32, at time.Time) error {
	id := m.ID()
	if _, ok := t.markets[id]; ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrMarketExists)
	}
	journal.SetKey(t.j, t.markets, id, &domain.MarketState{
		Market:    m,
		ID:        id,
		LastTick:  tick,
		UpdatedAt: at,
	})
	return nil
}

func (t *tickObserver) get(id domain.MarketID) (*domain.MarketState, error) {
	s, ok := t.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, domain.ErrUnknownMarket)
	}
	return s, nil
}

func (t *tickObserver) observe(s *domain.MarketState, tick int32, at time.Time) {
	journal.Set(t.j, &s.LastTick, tick)
	journal.Set(t.j, &s.UpdatedAt, at)
}
