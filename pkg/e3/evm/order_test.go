package evm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/evm"
)

func mkEvent(e3ID string, ts int64) eventbus.Event {
	return eventbus.Event{Data: eventbus.KeyshareCreated{E3ID: e3ID}, Ctx: eventbus.Ctx{AggregateID: e3ID, Timestamp: ts}}
}

func TestFixHistoricalOrderReleasesOnceDependencyForwarded(t *testing.T) {
	order := evm.NewFixHistoricalOrder(100)

	dep := mkEvent("e3-1", 1)
	marker := mkEvent("e3-1", 2)

	require.False(t, order.Gate(marker, dep))

	var ready []eventbus.Event
	order.Forward(dep, &ready)

	require.Len(t, ready, 1)
	require.Equal(t, marker.ID(), ready[0].ID())
}

func TestFixHistoricalOrderGatePassesWhenAlreadyForwarded(t *testing.T) {
	order := evm.NewFixHistoricalOrder(100)

	dep := mkEvent("e3-2", 1)
	var ready []eventbus.Event
	order.Forward(dep, &ready)
	require.Empty(t, ready)

	marker := mkEvent("e3-2", 2)
	require.True(t, order.Gate(marker, dep))
}
