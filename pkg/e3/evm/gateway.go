package evm

import (
	"sync"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/eventstore"
)

// GatewayState is the per-chain ingestion state machine stage.
type GatewayState int

const (
	// Init: no reader has reported yet.
	Init GatewayState = iota
	// ForwardToSyncActor: historical replay in progress, events forwarded
	// directly as they're decoded (no buffering needed while behind head).
	ForwardToSyncActor
	// BufferUntilLive: at least one of this chain's readers has caught up
	// to head, but the coordinator hasn't yet flushed the joint
	// HistoricalSyncComplete batch, or a peer causal-sync is in flight —
	// buffer new live events so they don't arrive ahead of a backlog still
	// being ordered or replayed.
	BufferUntilLive
	// Live: steady-state; events are appended straight to the event store.
	Live
)

// Gateway bridges one chain's decoded logs into the local event store,
// honoring the Init -> ForwardToSyncActor -> BufferUntilLive -> Live
// progression so a watcher can't observe live events racing ahead of a
// still-in-flight historical replay or peer resync. Going Live requires
// both: every reader on this chain has finished its historical replay,
// and no net.SyncManager causal-sync is currently in flight — either one
// being incomplete holds the gateway in BufferUntilLive.
type Gateway struct {
	store       *eventstore.Store
	coordinator *HistoricalCoordinator
	chainID     uint64

	sub  eventbus.Subscription
	stop chan struct{}

	mu             sync.Mutex
	state          GatewayState
	buffer         []eventbus.Event
	historicalDone bool
	netSyncing     bool
}

// NewGateway builds a Gateway for one chain. If bus is non-nil, the
// gateway also subscribes to SyncStart/SyncEnd so a peer causal-sync
// (net.SyncManager) holds back the Live transition the same way an
// in-progress historical replay does. SyncStart/SyncEnd events carrying
// ChainID == 0 are treated as applying to every chain, since
// net.SyncManager's causal sync has no chain of its own.
func NewGateway(store *eventstore.Store, coordinator *HistoricalCoordinator, bus eventbus.Bus, chainID uint64) *Gateway {
	g := &Gateway{store: store, coordinator: coordinator, chainID: chainID, state: Init}
	if bus == nil {
		return g
	}

	ch := make(chan eventbus.Event, 16)
	g.sub = bus.Subscribe([]string{"SyncStart", "SyncEnd"}, ch)
	g.stop = make(chan struct{})

	go func() {
		for {
			select {
			case evt := <-ch:
				g.onSyncEvent(evt)
			case <-g.stop:
				return
			}
		}
	}()

	return g
}

// Close stops the gateway's SyncStart/SyncEnd listener, if any.
func (g *Gateway) Close() {
	if g.sub == nil {
		return
	}
	g.sub.Unsubscribe()
	close(g.stop)
}

func (g *Gateway) onSyncEvent(evt eventbus.Event) {
	switch data := evt.Data.(type) {
	case eventbus.SyncStart:
		if data.ChainID != 0 && data.ChainID != g.chainID {
			return
		}
		g.mu.Lock()
		g.netSyncing = true
		if g.state == Live {
			g.state = BufferUntilLive
		}
		g.mu.Unlock()

	case eventbus.SyncEnd:
		if data.ChainID != 0 && data.ChainID != g.chainID {
			return
		}
		g.mu.Lock()
		g.netSyncing = false
		g.mu.Unlock()
		g.tryGoLive()
	}
}

// Observe feeds one extracted log event (not yet a HistoricalEnd marker)
// through the gateway's current state.
func (g *Gateway) Observe(data eventbus.EventData, aggregateID string, ts int64) {
	g.mu.Lock()
	state := g.state
	if state == Init {
		g.state = ForwardToSyncActor
		state = ForwardToSyncActor
	}
	g.mu.Unlock()

	switch state {
	case ForwardToSyncActor, Live:
		_, _ = eventstore.PublishFromRemote(g.store, data, aggregateID, ts)
	case BufferUntilLive:
		g.mu.Lock()
		g.buffer = append(g.buffer, eventbus.Event{Data: data, Ctx: eventbus.Ctx{AggregateID: aggregateID, Timestamp: ts}})
		g.mu.Unlock()
	}
}

// HistoricalEnd marks readerKey's replay as complete; once every reader on
// this chain has reported, the gateway is eligible to go Live — but only
// actually does so once no peer causal-sync is also in flight (see
// tryGoLive).
func (g *Gateway) HistoricalEnd(readerKey string) {
	g.mu.Lock()
	g.state = BufferUntilLive
	g.mu.Unlock()

	marker := eventbus.New(eventbus.HistoricalSyncComplete{}, "")
	batch := g.coordinator.ReaderDone(readerKey, marker, 0)
	if batch == nil {
		return
	}

	g.mu.Lock()
	g.historicalDone = true
	g.mu.Unlock()

	g.tryGoLive()
}

// tryGoLive flushes the buffer and transitions to Live if both gating
// conditions are satisfied: this chain's historical replay has fully
// flushed, and no peer causal-sync is currently in flight.
func (g *Gateway) tryGoLive() {
	g.mu.Lock()
	if !g.historicalDone || g.netSyncing || g.state == Live {
		g.mu.Unlock()
		return
	}
	buffered := g.buffer
	g.buffer = nil
	g.state = Live
	g.mu.Unlock()

	for _, evt := range buffered {
		_, _ = eventstore.PublishFromRemote(g.store, evt.Data, evt.Ctx.AggregateID, evt.Ctx.Timestamp)
	}
}
