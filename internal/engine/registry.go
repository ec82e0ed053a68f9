package engine

import (
	"cmp"
	"slices"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"

	"github.com/samber/lo"
	"github.com/tidwall/btree"
)

// registry holds every order by id and, per market, an index of the live
// ones ordered by id. Scans walk the index, so cleared orders cost nothing.
type registry struct {
	j      *journal.Journal
	nextID uint64
	orders map[uint64]*domain.Order
	active map[domain.MarketID]*btree.Map[uint64, *domain.Order]
}

func newRegistry(j *journal.Journal) *registry {
	return &registry{
		j:      j,
		nextID: 1,
		orders: make(map[uint64]*domain.Order),
		active: make(map[domain.MarketID]*btree.Map[uint64, *domain.Order]),
	}
}

// allocate reserves the next order id. A reverted call hands its id back;
// a committed one never sees it reused.
func (r *registry) allocate() uint64 {
	id := r.nextID
	journal.Set(r.j, &r.nextID, id+1)
	return id
}

func (r *registry) add(o *domain.Order) {
	journal.SetKey(r.j, r.orders, o.ID, o)

	idx, ok := r.active[o.Market]
	if !ok {
		idx = new(btree.Map[uint64, *domain.Order])
		journal.SetKey(r.j, r.active, o.Market, idx)
	}
	idx.Set(o.ID, o)
	r.j.Append(func() { idx.Delete(o.ID) })
}

func (r *registry) get(id uint64) (*domain.Order, bool) {
	o, ok := r.orders[id]
	return o, ok
}

// deactivate drops o from its market's index.
func (r *registry) deactivate(o *domain.Order) {
	idx, ok := r.active[o.Market]
	if !ok {
		return
	}
	if _, ok := idx.Delete(o.ID); ok {
		r.j.Append(func() { idx.Set(o.ID, o) })
	}
}

// activeIDs returns the live order ids of a market in ascending order.
func (r *registry) activeIDs(market domain.MarketID) []uint64 {
	idx, ok := r.active[market]
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, idx.Len())
	idx.Scan(func(id uint64, _ *domain.Order) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// byMarket returns every order of a market, live or not, ascending by id.
func (r *registry) byMarket(market domain.MarketID) []*domain.Order {
	out := lo.Filter(lo.Values(r.orders), func(o *domain.Order, _ int) bool {
		return o.Market == market
	})
	slices.SortFunc(out, func(a, b *domain.Order) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
