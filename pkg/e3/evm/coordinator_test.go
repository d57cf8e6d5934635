package evm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/evm"
)

func TestHistoricalCoordinatorFlushesOnceEveryReaderReports(t *testing.T) {
	order := evm.NewFixHistoricalOrder(10)
	c := evm.NewHistoricalCoordinator([]string{"1:0xa", "1:0xb"}, order)

	first := c.ReaderDone("1:0xa", mkEvent("e3-1", 1), 10)
	require.Nil(t, first)
	require.False(t, c.Live())

	second := c.ReaderDone("1:0xb", mkEvent("e3-1", 2), 20)
	require.Len(t, second, 2)
	require.True(t, c.Live())
}

func TestHistoricalCoordinatorPassesThroughAfterFlush(t *testing.T) {
	order := evm.NewFixHistoricalOrder(10)
	c := evm.NewHistoricalCoordinator([]string{"1:0xa"}, order)

	batch := c.ReaderDone("1:0xa", mkEvent("e3-1", 1), 1)
	require.Len(t, batch, 1)
	require.True(t, c.Live())

	late := c.ReaderDone("1:0xa", mkEvent("e3-1", 2), 2)
	require.Len(t, late, 1)
}
