// Package keyshare implements the single-round keyshare extension: one
// ciphernode generates a keyshare when selected, encrypts and persists it,
// and later decrypts its share of the published ciphertext. The threshold
// subpackage implements the multi-round variant used when a committee
// must jointly derive a key no single node ever holds in full.
package keyshare

import (
	"log/slog"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
)

// Generator produces and later uses this node's keyshare. Implemented by
// whatever FHE package a deployment links in; the coordinator only
// sequences the calls.
type Generator interface {
	Generate() ([]byte, error)
	Encrypt(share []byte) ([]byte, error)
	Decrypt(encrypted, ciphertext []byte) ([]byte, error)
}

type basicState struct {
	Encrypted []byte
	Selected  bool
}

// Basic is the single-round keyshare Extension for one local node id.
type Basic struct {
	nodeID string
	gen    Generator
	log    *slog.Logger

	persisted *persist.Persistable[basicState]
}

// NewBasic builds the extension for nodeID.
func NewBasic(nodeID string, gen Generator, log *slog.Logger) *Basic {
	if log == nil {
		log = slog.Default()
	}
	return &Basic{nodeID: nodeID, gen: gen, log: log}
}

func (b *Basic) Name() string { return "keyshare_basic" }

func (b *Basic) Hydrate(ctx *router.Context) {
	b.persisted = persist.NewPersistable[basicState](ctx.Store, "keyshare/basic/"+b.nodeID)
}

func (b *Basic) OnEvent(ctx *router.Context, evt eventbus.Event) []eventbus.Event {
	switch data := evt.Data.(type) {
	case eventbus.CiphernodeSelected:
		if data.Address != b.nodeID {
			return nil
		}
		share, err := b.gen.Generate()
		if err != nil {
			b.log.Error("keyshare generation failed", "e3_id", ctx.E3ID, "error", err)
			return nil
		}
		encrypted, err := b.gen.Encrypt(share)
		if err != nil {
			b.log.Error("keyshare encryption failed", "e3_id", ctx.E3ID, "error", err)
			return nil
		}
		_ = b.persisted.Set(basicState{Encrypted: encrypted, Selected: true})

		return []eventbus.Event{eventbus.NewFromParent(eventbus.KeyshareCreated{
			E3ID:     ctx.E3ID,
			NodeID:   b.nodeID,
			Keyshare: encrypted,
		}, evt)}

	case eventbus.CiphertextOutputPublished:
		st, ok, _ := b.persisted.Get()
		if !ok || !st.Selected {
			return nil
		}
		dshare, err := b.gen.Decrypt(st.Encrypted, data.Ciphertext)
		if err != nil {
			b.log.Error("decryption share failed", "e3_id", ctx.E3ID, "error", err)
			return nil
		}
		return []eventbus.Event{eventbus.NewFromParent(eventbus.DecryptionshareCreated{
			E3ID:   ctx.E3ID,
			NodeID: b.nodeID,
			Share:  dshare,
		}, evt)}

	case eventbus.E3RequestComplete:
		_ = b.persisted.Clear()
	}
	return nil
}
