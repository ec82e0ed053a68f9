package event

import (
	"sync"
)

// priceUpdatePool recycles feed events to reduce GC pressure in the hotpath.
//
// Usage:
//
//	ev := AcquirePriceUpdateEvent()
//	ev.Market = id
//	// ... hand to the sequencer ...
//	ReleasePriceUpdateEvent(ev) // after processing
var priceUpdatePool = sync.Pool{
	New: func() interface{} {
		return &PriceUpdateEvent{}
	},
}

// AcquirePriceUpdateEvent gets a PriceUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceUpdateEvent() *PriceUpdateEvent {
	return priceUpdatePool.Get().(*PriceUpdateEvent)
}

// ReleasePriceUpdateEvent resets ev and returns it to the pool.
func ReleasePriceUpdateEvent(ev *PriceUpdateEvent) {
	if ev == nil {
		return
	}
	*ev = PriceUpdateEvent{}
	priceUpdatePool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*PriceUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquirePriceUpdateEvent())
	}
	for _, ev := range evs {
		ReleasePriceUpdateEvent(ev)
	}
}
