package aggregator

import (
	"github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
)

// Decryptor turns collected decryption shares and the published
// ciphertext into the final plaintext.
type Decryptor interface {
	AggregatePlaintext(ciphertext []byte, shares [][]byte) ([]byte, error)
}

// MembershipChecker gates a node's contribution by committee membership,
// so a share from a node sortition never selected for this E3 id is
// silently ignored rather than corrupting the aggregate.
type MembershipChecker interface {
	IsMember(e3ID, node string) bool
}

type plaintextState struct {
	Ciphertext []byte
	Done       bool
}

// PlaintextAggregator collects one DecryptionshareCreated per committee
// member (after the ciphertext is published) and, once threshold distinct
// members have reported, emits PlaintextAggregated.
type PlaintextAggregator struct {
	threshold  int
	decryptor  Decryptor
	membership MembershipChecker
	bus        eventbus.Bus

	collector  *Collector[[]byte]
	ciphertext []byte
	persisted  *persist.Persistable[plaintextState]
}

// NewPlaintextAggregator builds the extension requiring threshold distinct
// decryption shares before computing. A failed AggregatePlaintext call is
// reported on bus's error topic as errors.KindDecryption so an operator
// can trigger a replay; bus may be nil to discard.
func NewPlaintextAggregator(threshold int, decryptor Decryptor, membership MembershipChecker, bus eventbus.Bus) *PlaintextAggregator {
	return &PlaintextAggregator{
		threshold:  threshold,
		decryptor:  decryptor,
		membership: membership,
		bus:        bus,
		collector:  NewCollector[[]byte](threshold),
	}
}

func (a *PlaintextAggregator) Name() string { return "plaintext_aggregator" }

func (a *PlaintextAggregator) Hydrate(ctx *router.Context) {
	a.persisted = persist.NewPersistable[plaintextState](ctx.Store, "plaintext_aggregator/state")
	if st, ok, _ := a.persisted.Get(); ok {
		a.ciphertext = st.Ciphertext
		if st.Done {
			a.collector.Finish(nil)
		}
	}
}

func (a *PlaintextAggregator) OnEvent(ctx *router.Context, evt eventbus.Event) []eventbus.Event {
	switch data := evt.Data.(type) {
	case eventbus.CiphertextOutputPublished:
		a.ciphertext = data.Ciphertext
		_ = a.persisted.Set(plaintextState{Ciphertext: a.ciphertext})
		return nil

	case eventbus.DecryptionshareCreated:
		if a.ciphertext == nil {
			return nil
		}
		if a.collector.State() == Complete {
			return nil
		}
		if a.membership != nil && !a.membership.IsMember(ctx.E3ID, data.NodeID) {
			return nil
		}

		crossed := a.collector.Add(data.NodeID, data.Share)
		if !crossed {
			return nil
		}

		plaintext, err := a.decryptor.AggregatePlaintext(a.ciphertext, a.collector.Values())
		if err != nil {
			if a.bus != nil {
				a.bus.PublishError(errors.Decryption("aggregate plaintext e3_id="+ctx.E3ID, err))
			}
			return nil
		}
		if !a.collector.Finish(plaintext) {
			return nil
		}
		_ = a.persisted.Set(plaintextState{Ciphertext: a.ciphertext, Done: true})

		return []eventbus.Event{eventbus.NewFromParent(eventbus.PlaintextAggregated{
			E3ID:      ctx.E3ID,
			Plaintext: plaintext,
		}, evt)}
	}
	return nil
}
