package evm

import (
	"sync"

	"github.com/holiman/bloomfilter/v2"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
)

// FixHistoricalOrder guarantees that a HistoricalSyncComplete marker
// referencing a previous event is never forwarded before that referenced
// event has itself been forwarded — replaying historical logs from
// several contracts concurrently can otherwise interleave their
// completion markers ahead of events they logically depend on. A bloom
// filter of "forwarded event ids" lets this stage decide in O(1) whether
// it's safe to release a buffered marker, at the cost of a vanishingly
// rare false-positive early release (acceptable: the downstream consumer
// only uses the marker as a replay-progress hint, not a correctness gate).
type FixHistoricalOrder struct {
	mu       sync.Mutex
	forwarded *bloomfilter.Filter
	buffered  []bufferedMarker
}

type bufferedMarker struct {
	evt  eventbus.Event
	prev eventbus.Event
}

// NewFixHistoricalOrder sizes the bloom filter for an expected number of
// distinct historical events; n should comfortably exceed any single
// replay's event count to keep the false-positive rate negligible.
func NewFixHistoricalOrder(n uint64) *FixHistoricalOrder {
	f, _ := bloomfilter.NewOptimal(n, 0.0001)
	return &FixHistoricalOrder{forwarded: f}
}

// Forward marks evt as forwarded and releases any buffered markers whose
// referenced event has now been forwarded, appending them to ready.
func (f *FixHistoricalOrder) Forward(evt eventbus.Event, ready *[]eventbus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded.Add(idHash(evt.ID()))

	remaining := f.buffered[:0]
	for _, b := range f.buffered {
		if f.forwarded.Contains(idHash(b.prev.ID())) {
			*ready = append(*ready, b.evt)
			f.forwarded.Add(idHash(b.evt.ID()))
		} else {
			remaining = append(remaining, b)
		}
	}
	f.buffered = remaining
}

// Gate decides whether evt (a HistoricalSyncComplete with a non-nil
// PrevEvent) can be forwarded immediately. If its referenced event hasn't
// been forwarded yet, Gate buffers it and returns false.
func (f *FixHistoricalOrder) Gate(evt eventbus.Event, prev eventbus.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwarded.Contains(idHash(prev.ID())) {
		f.forwarded.Add(idHash(evt.ID()))
		return true
	}
	f.buffered = append(f.buffered, bufferedMarker{evt: evt, prev: prev})
	return false
}

func idHash(id string) uint64 {
	var h uint64
	for i := 0; i < len(id); i++ {
		h = h*1099511628211 ^ uint64(id[i])
	}
	return h
}
