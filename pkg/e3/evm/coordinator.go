package evm

import (
	"sort"
	"sync"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
)

// HistoricalCoordinator holds back every reader's HistoricalSyncComplete
// until every registered reader on the same chain has reported one, then
// flushes them in block-number order (ties broken by arrival), so
// extensions never observe one contract's "caught up to head" before a
// sibling contract's lower-numbered historical events have been
// delivered.
type HistoricalCoordinator struct {
	mu       sync.Mutex
	expected map[string]struct{} // reader keys registered for this chain
	arrived  map[string]arrival
	arrivals int
	order    *FixHistoricalOrder
	flushed  bool
}

// arrival is one reader's buffered marker, its reported block and its
// arrival rank.
type arrival struct {
	evt eventbus.Event
	blk uint64
	n   int
}

// NewHistoricalCoordinator registers readerKeys (e.g. "<chainID>:<contract>")
// expected to report before the chain is considered caught up.
func NewHistoricalCoordinator(readerKeys []string, order *FixHistoricalOrder) *HistoricalCoordinator {
	expected := make(map[string]struct{}, len(readerKeys))
	for _, k := range readerKeys {
		expected[k] = struct{}{}
	}
	return &HistoricalCoordinator{expected: expected, arrived: make(map[string]arrival), order: order}
}

// ReaderDone records readerKey's HistoricalSyncComplete event. Once every
// registered reader has reported, it returns the batch to flush in
// block-ordered sequence; otherwise it returns nil and buffers.
func (c *HistoricalCoordinator) ReaderDone(readerKey string, evt eventbus.Event, blockNumber uint64) []eventbus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flushed {
		return []eventbus.Event{evt}
	}

	c.arrivals++
	c.arrived[readerKey] = arrival{evt: evt, blk: blockNumber, n: c.arrivals}
	if len(c.arrived) < len(c.expected) {
		return nil
	}

	entries := make([]arrival, 0, len(c.arrived))
	for _, a := range c.arrived {
		entries = append(entries, a)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].blk != entries[j].blk {
			return entries[i].blk < entries[j].blk
		}
		return entries[i].n < entries[j].n
	})

	c.flushed = true
	out := make([]eventbus.Event, len(entries))
	for i, e := range entries {
		out[i] = e.evt
	}
	return out
}

// Live reports whether every reader has already reached the live boundary.
func (c *HistoricalCoordinator) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushed
}
