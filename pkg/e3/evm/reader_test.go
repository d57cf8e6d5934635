package evm_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/evm"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
)

type fakeClient struct {
	head uint64
	logs []types.Log
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeClient) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, nil
}

type fixedExtractor struct{}

func (fixedExtractor) Extract(l types.Log) (evm.ExtractedEvent, bool) {
	return evm.ExtractedEvent{AggregateID: "e3-1", Data: eventbus.KeyshareCreated{E3ID: "e3-1"}}, true
}

func TestReaderReplayEmitsLogsThenHistoricalEnd(t *testing.T) {
	client := &fakeClient{
		head: 100,
		logs: []types.Log{
			{BlockNumber: 1, Address: common.HexToAddress("0x1")},
			{BlockNumber: 2, Address: common.HexToAddress("0x1")},
		},
	}
	cursor := persist.NewPersistable[uint64](persist.NewDataStore(persist.NewMemory()), "cursor")
	r := evm.NewReader(client, evm.ReaderConfig{MinBlockChainDepth: 1, MaxBlockRange: 1000}, fixedExtractor{}, cursor, errors.DefaultRetry, nil, nil)

	out := make(chan evm.LogEvent, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx, 0, out)

	var gotLogs int
	var gotEnd bool
	for i := 0; i < 3; i++ {
		select {
		case ev := <-out:
			if ev.HistoricalEnd {
				gotEnd = true
			} else {
				gotLogs++
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for reader output")
		}
	}
	require.Equal(t, 2, gotLogs)
	require.True(t, gotEnd)
}

func TestReaderPersistsCursorAfterReplay(t *testing.T) {
	client := &fakeClient{head: 50}
	cursor := persist.NewPersistable[uint64](persist.NewDataStore(persist.NewMemory()), "cursor")
	r := evm.NewReader(client, evm.ReaderConfig{MinBlockChainDepth: 0, MaxBlockRange: 1000}, fixedExtractor{}, cursor, errors.DefaultRetry, nil, nil)

	out := make(chan evm.LogEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 10, out)

	select {
	case ev := <-out:
		require.True(t, ev.HistoricalEnd)
	case <-time.After(time.Second):
		t.Fatal("expected historical end marker")
	}

	cur, ok, err := cursor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	// MinBlockChainDepth 0 takes DefaultReaderConfig's 5 blocks, so replay
	// stops at 50-5 and the cursor rests on the next block.
	require.Equal(t, uint64(46), cur)
}
