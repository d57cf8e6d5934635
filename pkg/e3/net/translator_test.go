package net_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/eventstore"
	e3net "github.com/ciphermesh/coordinator/pkg/e3/net"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
)

func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	ds := persist.NewDataStore(persist.NewMemory()).Scope("events")
	return eventstore.New(ds, nil)
}

func TestTranslatorSkipsEventsNotAllowListed(t *testing.T) {
	iface := e3net.NewInterface(nil, nil)
	store := newTestStore(t)
	tr := e3net.NewTranslator(iface, store, []string{"KeyshareCreated"}, nil)

	tr.PublishLocal(eventbus.New(eventbus.PublicKeyAggregated{E3ID: "e3-1"}, "e3-1"))

	select {
	case <-iface.Tx:
		t.Fatal("expected no gossip publish for a non-allow-listed type")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTranslatorRoundTripsThroughGossip(t *testing.T) {
	sendIface := e3net.NewInterface(nil, nil)
	sendStore := newTestStore(t)
	sender := e3net.NewTranslator(sendIface, sendStore, []string{"KeyshareCreated"}, nil)

	evt := eventbus.New(eventbus.KeyshareCreated{E3ID: "e3-1", NodeID: "n1"}, "e3-1")
	sender.PublishLocal(evt)

	recvIface := e3net.NewInterface(nil, nil)
	recvStore := newTestStore(t)
	receiver := e3net.NewTranslator(recvIface, recvStore, nil, nil)

	for {
		select {
		case cmd := <-sendIface.Tx:
			pub, ok := cmd.(e3net.Publish)
			require.True(t, ok)
			receiver.HandleIncoming(pub.Data)
		case <-time.After(20 * time.Millisecond):
			events, err := recvStore.ReadFrom(0)
			require.NoError(t, err)
			require.Len(t, events, 1)
			ks, ok := events[0].Data.(eventbus.KeyshareCreated)
			require.True(t, ok)
			require.Equal(t, "n1", ks.NodeID)
			return
		}
	}
}
