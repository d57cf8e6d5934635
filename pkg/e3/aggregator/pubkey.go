package aggregator

import (
	"github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
)

// FHE is the external collaborator that turns collected keyshares into an
// aggregate public key. The coordinator never implements FHE math itself;
// this interface is satisfied by whatever cryptography package a
// deployment wires in.
type FHE interface {
	AggregatePublicKey(shares [][]byte) ([]byte, error)
}

type pubkeyState struct {
	Threshold int
	Done      bool
}

// PublicKeyAggregator collects one KeyshareCreated per selected ciphernode
// and, once threshold distinct nodes have reported, emits
// PublicKeyAggregated with the committee's aggregate key.
type PublicKeyAggregator struct {
	threshold int
	fhe       FHE
	bus       eventbus.Bus

	collector *Collector[[]byte]
	persisted *persist.Persistable[pubkeyState]
}

// NewPublicKeyAggregator builds the extension requiring threshold distinct
// keyshares before computing. A failed AggregatePublicKey call is reported
// on bus's error topic as errors.KindKeyGeneration so an operator can
// trigger a replay; bus may be nil to discard.
func NewPublicKeyAggregator(threshold int, fhe FHE, bus eventbus.Bus) *PublicKeyAggregator {
	return &PublicKeyAggregator{threshold: threshold, fhe: fhe, bus: bus, collector: NewCollector[[]byte](threshold)}
}

func (a *PublicKeyAggregator) Name() string { return "public_key_aggregator" }

func (a *PublicKeyAggregator) Hydrate(ctx *router.Context) {
	a.persisted = persist.NewPersistable[pubkeyState](ctx.Store, "pubkey_aggregator/state")
	if st, ok, _ := a.persisted.Get(); ok && st.Done {
		a.collector.Finish(nil)
	}
}

func (a *PublicKeyAggregator) OnEvent(ctx *router.Context, evt eventbus.Event) []eventbus.Event {
	share, ok := evt.Data.(eventbus.KeyshareCreated)
	if !ok {
		return nil
	}
	if a.collector.State() == Complete {
		return nil
	}

	crossed := a.collector.Add(share.NodeID, share.Keyshare)
	if !crossed {
		return nil
	}

	pubkey, err := a.fhe.AggregatePublicKey(a.collector.Values())
	if err != nil {
		if a.bus != nil {
			a.bus.PublishError(errors.KeyGeneration("aggregate public key e3_id="+ctx.E3ID, err))
		}
		return nil
	}
	if !a.collector.Finish(pubkey) {
		return nil
	}
	_ = a.persisted.Set(pubkeyState{Threshold: a.threshold, Done: true})

	return []eventbus.Event{eventbus.NewFromParent(eventbus.PublicKeyAggregated{
		E3ID:   ctx.E3ID,
		PubKey: pubkey,
	}, evt)}
}
