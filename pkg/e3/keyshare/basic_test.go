package keyshare_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/keyshare"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
)

type fakeGenerator struct{}

func (fakeGenerator) Generate() ([]byte, error) { return []byte("share"), nil }
func (fakeGenerator) Encrypt(share []byte) ([]byte, error) {
	return append([]byte("enc:"), share...), nil
}
func (fakeGenerator) Decrypt(encrypted, ciphertext []byte) ([]byte, error) {
	return append([]byte("dec:"), encrypted...), nil
}

func newCtx(t *testing.T, e3ID string) *router.Context {
	t.Helper()
	store := persist.NewDataStore(persist.NewMemory()).Scope(e3ID)
	return &router.Context{Context: context.Background(), E3ID: e3ID, Store: store}
}

func TestBasicGeneratesAndEncryptsOnSelection(t *testing.T) {
	b := keyshare.NewBasic("node-a", fakeGenerator{}, nil)
	ctx := newCtx(t, "e3-1")
	b.Hydrate(ctx)

	derived := b.OnEvent(ctx, eventbus.New(eventbus.CiphernodeSelected{E3ID: "e3-1", Address: "node-a"}, "e3-1"))

	require.Len(t, derived, 1)
	ks, ok := derived[0].Data.(eventbus.KeyshareCreated)
	require.True(t, ok)
	require.Equal(t, "node-a", ks.NodeID)
	require.Equal(t, []byte("enc:share"), ks.Keyshare)
}

func TestBasicIgnoresSelectionForOtherNode(t *testing.T) {
	b := keyshare.NewBasic("node-a", fakeGenerator{}, nil)
	ctx := newCtx(t, "e3-1")
	b.Hydrate(ctx)

	derived := b.OnEvent(ctx, eventbus.New(eventbus.CiphernodeSelected{E3ID: "e3-1", Address: "node-b"}, "e3-1"))
	require.Nil(t, derived)
}

func TestBasicDecryptsShareAfterCiphertextPublished(t *testing.T) {
	b := keyshare.NewBasic("node-a", fakeGenerator{}, nil)
	ctx := newCtx(t, "e3-1")
	b.Hydrate(ctx)

	b.OnEvent(ctx, eventbus.New(eventbus.CiphernodeSelected{E3ID: "e3-1", Address: "node-a"}, "e3-1"))
	derived := b.OnEvent(ctx, eventbus.New(eventbus.CiphertextOutputPublished{E3ID: "e3-1", Ciphertext: []byte("ct")}, "e3-1"))

	require.Len(t, derived, 1)
	ds, ok := derived[0].Data.(eventbus.DecryptionshareCreated)
	require.True(t, ok)
	require.Equal(t, []byte("dec:enc:share"), ds.Share)
}

func TestBasicIgnoresCiphertextWhenNotSelected(t *testing.T) {
	b := keyshare.NewBasic("node-a", fakeGenerator{}, nil)
	ctx := newCtx(t, "e3-1")
	b.Hydrate(ctx)

	derived := b.OnEvent(ctx, eventbus.New(eventbus.CiphertextOutputPublished{E3ID: "e3-1", Ciphertext: []byte("ct")}, "e3-1"))
	require.Nil(t, derived)
}

func TestBasicClearsStateOnRequestComplete(t *testing.T) {
	b := keyshare.NewBasic("node-a", fakeGenerator{}, nil)
	ctx := newCtx(t, "e3-1")
	b.Hydrate(ctx)

	b.OnEvent(ctx, eventbus.New(eventbus.CiphernodeSelected{E3ID: "e3-1", Address: "node-a"}, "e3-1"))
	b.OnEvent(ctx, eventbus.New(eventbus.E3RequestComplete{E3ID: "e3-1"}, "e3-1"))

	derived := b.OnEvent(ctx, eventbus.New(eventbus.CiphertextOutputPublished{E3ID: "e3-1", Ciphertext: []byte("ct")}, "e3-1"))
	require.Nil(t, derived)
}
