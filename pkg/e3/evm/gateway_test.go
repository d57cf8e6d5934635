package evm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/eventstore"
	"github.com/ciphermesh/coordinator/pkg/e3/evm"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
)

func newTestStore() *eventstore.Store {
	ds := persist.NewDataStore(persist.NewMemory()).Scope("events")
	return eventstore.New(ds, nil)
}

func TestGatewayForwardsDuringReplay(t *testing.T) {
	store := newTestStore()
	order := evm.NewFixHistoricalOrder(10)
	coord := evm.NewHistoricalCoordinator([]string{"1:0xa"}, order)
	gw := evm.NewGateway(store, coord, nil, 1)

	gw.Observe(eventbus.KeyshareCreated{E3ID: "e3-1"}, "e3-1", 1)

	events, err := store.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestGatewayStoresEventsBeforeAndAfterHistoricalEnd(t *testing.T) {
	store := newTestStore()
	order := evm.NewFixHistoricalOrder(10)
	coord := evm.NewHistoricalCoordinator([]string{"1:0xa"}, order)
	gw := evm.NewGateway(store, coord, nil, 1)

	gw.Observe(eventbus.KeyshareCreated{E3ID: "e3-1"}, "e3-1", 1)
	gw.HistoricalEnd("1:0xa")

	gw.Observe(eventbus.PublicKeyAggregated{E3ID: "e3-1"}, "e3-1", 2)

	events, err := store.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestGatewayStaysBufferedWhilePeerSyncInFlight(t *testing.T) {
	store := newTestStore()
	order := evm.NewFixHistoricalOrder(10)
	coord := evm.NewHistoricalCoordinator([]string{"1:0xa"}, order)
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	gw := evm.NewGateway(store, coord, bus, 1)
	defer gw.Close()

	// Historical replay finishes first, so the gateway is Live with no
	// peer sync in the picture yet.
	gw.HistoricalEnd("1:0xa")
	gw.Observe(eventbus.KeyshareCreated{E3ID: "e3-1"}, "e3-1", 1)
	events, err := store.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// A peer causal-sync starts; once the listener goroutine has applied
	// it, the gateway drops back to buffering even though it was Live.
	bus.Publish(eventbus.New(eventbus.SyncStart{ChainID: 1}, ""))
	require.Eventually(t, func() bool {
		before, _ := store.ReadFrom(0)
		gw.Observe(eventbus.KeyshareCreated{E3ID: "probe"}, "probe", 2)
		after, _ := store.ReadFrom(0)
		return len(after) == len(before)
	}, time.Second, 5*time.Millisecond, "SyncStart must switch the gateway back to buffering")

	beforeEnd, err := store.ReadFrom(0)
	require.NoError(t, err)

	bus.Publish(eventbus.New(eventbus.SyncEnd{ChainID: 1}, ""))
	require.Eventually(t, func() bool {
		after, _ := store.ReadFrom(0)
		return len(after) > len(beforeEnd)
	}, time.Second, 5*time.Millisecond, "SyncEnd must flush the buffer once peer sync is done")
}

func TestGatewayIgnoresSyncEventsForOtherChains(t *testing.T) {
	store := newTestStore()
	order := evm.NewFixHistoricalOrder(10)
	coord := evm.NewHistoricalCoordinator([]string{"1:0xa"}, order)
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	gw := evm.NewGateway(store, coord, bus, 1)
	defer gw.Close()

	gw.HistoricalEnd("1:0xa")
	bus.Publish(eventbus.New(eventbus.SyncStart{ChainID: 2}, ""))

	require.Eventually(t, func() bool {
		gw.Observe(eventbus.PublicKeyAggregated{E3ID: "e3-1"}, "e3-1", 2)
		events, _ := store.ReadFrom(0)
		return len(events) >= 1
	}, time.Second, 5*time.Millisecond, "a SyncStart for a different chain must not hold this gateway back")
}
