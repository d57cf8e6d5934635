package net_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	e3net "github.com/ciphermesh/coordinator/pkg/e3/net"
)

func TestSyncManagerAnswerReturnsEventsSinceCutoff(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	m := e3net.NewSyncManager(store, bus, nil)

	_, _ = store.Append(eventbus.Event{Data: eventbus.KeyshareCreated{E3ID: "e3-1"}, Ctx: eventbus.Ctx{AggregateID: "e3-1", Timestamp: 10}})
	_, _ = store.Append(eventbus.Event{Data: eventbus.PublicKeyAggregated{E3ID: "e3-1"}, Ctx: eventbus.Ctx{AggregateID: "e3-1", Timestamp: 20}})

	events, err := m.Answer(eventbus.SyncRequest{Since: 15})
	require.NoError(t, err)
	require.Len(t, events, 1)
	_, ok := events[0].Data.(eventbus.PublicKeyAggregated)
	require.True(t, ok)
}

func TestSyncManagerReceivedAppliesAndPublishesBatch(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	ch := make(chan eventbus.Event, 4)
	bus.SubscribeAll(ch)

	m := e3net.NewSyncManager(store, bus, nil)
	m.Received([]eventbus.Event{
		{Data: eventbus.KeyshareCreated{E3ID: "e3-1"}, Ctx: eventbus.Ctx{AggregateID: "e3-1", Timestamp: 1}},
	})

	events, err := store.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var gotNetEvent, gotSyncEnd bool
	for i, n := 0, len(ch); i < n; i++ {
		evt := <-ch
		switch evt.Data.(type) {
		case eventbus.NetEventsReceived:
			gotNetEvent = true
		case eventbus.SyncEnd:
			gotSyncEnd = true
		}
	}
	require.True(t, gotNetEvent)
	require.True(t, gotSyncEnd, "Received must always close out the sync with SyncEnd")
}

func TestSyncManagerRequestSinceBracketsWithSyncStart(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	ch := make(chan eventbus.Event, 4)
	bus.SubscribeAll(ch)

	m := e3net.NewSyncManager(store, bus, nil)
	m.RequestSince(10, "peer-1")

	var gotSyncStart, gotSyncRequest bool
	for i, n := 0, len(ch); i < n; i++ {
		evt := <-ch
		switch evt.Data.(type) {
		case eventbus.SyncStart:
			gotSyncStart = true
		case eventbus.SyncRequest:
			require.True(t, gotSyncStart, "SyncStart must be published before the SyncRequest it brackets")
			gotSyncRequest = true
		}
	}
	require.True(t, gotSyncStart)
	require.True(t, gotSyncRequest)
}

func TestSyncManagerReceivedPublishesSyncEndEvenWhenBatchIsEmpty(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	ch := make(chan eventbus.Event, 4)
	bus.SubscribeAll(ch)

	m := e3net.NewSyncManager(store, bus, nil)
	m.Received(nil)

	select {
	case evt := <-ch:
		_, ok := evt.Data.(eventbus.SyncEnd)
		require.True(t, ok, "expected SyncEnd, got %T", evt.Data)
	default:
		t.Fatal("expected SyncEnd even for an empty batch")
	}
}
