package aggregator_test

import (
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/aggregator"
	e3err "github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
)

type fakeFHE struct {
	pubkey []byte
	err    error
}

func (f *fakeFHE) AggregatePublicKey(shares [][]byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pubkey, nil
}

func newPubkeyCtx() *router.Context {
	return &router.Context{E3ID: "e3-1", Store: persist.NewDataStore(persist.NewMemory())}
}

func TestPublicKeyAggregatorPublishesOnceThresholdReached(t *testing.T) {
	fhe := &fakeFHE{pubkey: []byte("agg")}
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	a := aggregator.NewPublicKeyAggregator(2, fhe, bus)
	ctx := newPubkeyCtx()
	a.Hydrate(ctx)

	require.Nil(t, a.OnEvent(ctx, eventbus.New(eventbus.KeyshareCreated{E3ID: "e3-1", NodeID: "n1", Keyshare: []byte("a")}, "e3-1")))

	derived := a.OnEvent(ctx, eventbus.New(eventbus.KeyshareCreated{E3ID: "e3-1", NodeID: "n2", Keyshare: []byte("b")}, "e3-1"))
	require.Len(t, derived, 1)
	pub, ok := derived[0].Data.(eventbus.PublicKeyAggregated)
	require.True(t, ok)
	require.Equal(t, []byte("agg"), pub.PubKey)
}

func TestPublicKeyAggregatorReportsKindKeyGenerationOnFailure(t *testing.T) {
	fhe := &fakeFHE{err: goerrors.New("fhe unavailable")}
	bus := eventbus.NewLocalBus(eventbus.DefaultConfig)
	errCh := make(chan *e3err.KindError, 1)
	bus.SubscribeErrors(errCh)

	a := aggregator.NewPublicKeyAggregator(1, fhe, bus)
	ctx := newPubkeyCtx()
	a.Hydrate(ctx)

	derived := a.OnEvent(ctx, eventbus.New(eventbus.KeyshareCreated{E3ID: "e3-1", NodeID: "n1", Keyshare: []byte("a")}, "e3-1"))
	require.Nil(t, derived)

	select {
	case ke := <-errCh:
		require.Equal(t, e3err.KindKeyGeneration, ke.Kind)
	default:
		t.Fatal("expected a KindKeyGeneration error on the bus error topic")
	}
}
