package net

import (
	"log/slog"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/eventstore"
)

// SyncManager answers and issues causal-sync requests: when this node
// reconnects after a gap, it publishes a SyncRequest{since}; when it
// receives one from a peer, it replies with every locally stored event at
// or after that point, which the bus then republishes locally as
// NetEventsReceived for the requester.
type SyncManager struct {
	store *eventstore.Store
	bus   eventbus.Bus
	log   *slog.Logger
}

// NewSyncManager builds a SyncManager over store, publishing results on
// bus.
func NewSyncManager(store *eventstore.Store, bus eventbus.Bus, log *slog.Logger) *SyncManager {
	if log == nil {
		log = slog.Default()
	}
	return &SyncManager{store: store, bus: bus, log: log}
}

// RequestSince publishes a SyncRequest asking peers for events since ts,
// bracketed by SyncStart so anything gating on an in-flight causal-sync
// (e.g. evm.Gateway) holds off going live until the matching Received
// call reports SyncEnd. ChainID is left at its zero value: this sync
// applies to the whole local event store, not one EVM chain.
func (m *SyncManager) RequestSince(ts int64, peerID string) {
	m.bus.Publish(eventbus.New(eventbus.SyncStart{}, ""))
	m.bus.Publish(eventbus.New(eventbus.SyncRequest{Since: ts, PeerID: peerID}, ""))
}

// Answer is called when this node receives a peer's SyncRequest (via the
// Translator/Interface, out of band from the local bus to avoid
// rebroadcasting the request itself). It returns every event at or after
// req.Since in sequence order, ready to be gossiped back to the
// requester.
func (m *SyncManager) Answer(req eventbus.SyncRequest) ([]eventbus.Event, error) {
	seq, ok := m.store.Since(req.Since)
	if !ok {
		return nil, nil
	}
	return m.store.ReadFrom(seq)
}

// Received processes a batch of events returned by a peer in response to
// this node's SyncRequest: each is re-appended through the store's
// dedup-aware remote path and the whole batch is surfaced as one
// NetEventsReceived event so extensions can tell a sync catch-up apart
// from live traffic if they care to. SyncEnd always publishes, even for
// an empty or partially-failed batch, so a SyncStart this manager issued
// is never left unmatched.
func (m *SyncManager) Received(batch []eventbus.Event) {
	defer m.bus.Publish(eventbus.New(eventbus.SyncEnd{}, ""))

	applied := make([]eventbus.Event, 0, len(batch))
	for _, evt := range batch {
		stored, err := eventstore.PublishFromRemote(m.store, evt.Data, evt.Ctx.AggregateID, evt.Ctx.Timestamp)
		if err != nil {
			m.log.Warn("failed to apply synced event", "error", err)
			continue
		}
		applied = append(applied, stored)
	}
	if len(applied) == 0 {
		return
	}
	m.bus.Publish(eventbus.New(eventbus.NetEventsReceived{Events: applied}, ""))
}
