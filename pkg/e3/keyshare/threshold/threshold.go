// Package threshold implements the multi-round threshold keyshare
// protocol: each committee member contributes a public-key share and an
// encryption key, the nodes exchange encryption keys, jointly derive
// threshold shares, and finally each contributes one decryption share per
// ciphertext. Every round is bounded by a collector.Collector so a
// non-responsive member degrades the round to a named-failure event
// instead of hanging forever. The three threshold-BFV derivations
// themselves never run on this actor's goroutine: each is submitted to a
// compute.Pool and the round resumes only once that Pool echoes back a
// ComputeSucceeded/ComputeFailed event.
package threshold

import (
	goerrors "errors"
	"log/slog"
	"time"

	"github.com/ciphermesh/coordinator/pkg/e3/compute"
	"github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/keyshare/collector"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
)

// Default round timeouts, matching the coordinator's configured defaults;
// override via Config for faster test committees.
const (
	DefaultEncryptionKeyTimeout = 60 * time.Second
	DefaultThresholdShareTimeout = 120 * time.Second
	DefaultDecryptionShareTimeout = 600 * time.Second
)

// Config overrides the three round timeouts.
type Config struct {
	EncryptionKeyTimeout  time.Duration
	ThresholdShareTimeout time.Duration
	DecryptionShareTimeout time.Duration
}

// DefaultConfig uses the coordinator's documented defaults.
var DefaultConfig = Config{
	EncryptionKeyTimeout:   DefaultEncryptionKeyTimeout,
	ThresholdShareTimeout:  DefaultThresholdShareTimeout,
	DecryptionShareTimeout: DefaultDecryptionShareTimeout,
}

// Crypto is the external collaborator performing the actual threshold-BFV
// math; the state machine here only sequences calls into it. Every method
// runs on a compute.Pool worker goroutine, never on the actor goroutine.
type Crypto interface {
	DeriveEncryptionKey() ([]byte, error)
	DeriveThresholdShare(encryptionKeys map[string][]byte) ([]byte, error)
	DeriveDecryptionShare(thresholdShares map[string][]byte, ciphertext []byte) ([]byte, error)
}

// The three compute ops this extension ever submits, also used as the
// stable suffix of a round's deterministic CorrelationID.
const (
	opEncryptionKey   = "derive_encryption_key"
	opThresholdShare  = "derive_threshold_share"
	opDecryptionShare = "derive_decryption_share"
)

type roundState struct {
	Members         []string
	Ciphertext      []byte
	ThresholdReady  bool
	ThresholdShares map[string][]byte
}

// Threshold is the multi-round keyshare Extension for one local node id.
type Threshold struct {
	nodeID string
	crypto Crypto
	bus    eventbus.Bus
	pool   *compute.Pool
	cfg    Config
	log    *slog.Logger

	state     *persist.Persistable[roundState]
	encKeys   *collector.Collector[[]byte]
	shares    *collector.Collector[[]byte]
	decShares *collector.Collector[[]byte]
}

// New builds the extension for nodeID. pool is where DeriveEncryptionKey/
// DeriveThresholdShare/DeriveDecryptionShare calls are dispatched.
func New(nodeID string, crypto Crypto, bus eventbus.Bus, pool *compute.Pool, cfg Config, log *slog.Logger) *Threshold {
	if log == nil {
		log = slog.Default()
	}
	return &Threshold{nodeID: nodeID, crypto: crypto, bus: bus, pool: pool, cfg: cfg, log: log}
}

func (t *Threshold) Name() string { return "keyshare_threshold" }

func (t *Threshold) Hydrate(ctx *router.Context) {
	t.state = persist.NewPersistable[roundState](ctx.Store, "keyshare/threshold/state")
}

func (t *Threshold) OnEvent(ctx *router.Context, evt eventbus.Event) []eventbus.Event {
	switch data := evt.Data.(type) {
	case eventbus.FinalizeCommittee:
		t.startEncryptionKeyRound(ctx, data.Members)
		return nil

	case eventbus.EncryptionKeyReceived:
		if t.encKeys != nil {
			t.encKeys.Add(data.FromNode, data.Key)
		}
		return nil

	case eventbus.AllThresholdSharesCollected:
		// handled via the collector callback directly publishing to bus
		return nil

	case eventbus.ThresholdShareCreated:
		if t.shares != nil {
			t.shares.Add(data.NodeID, data.Share)
		}
		return nil

	case eventbus.CiphertextOutputPublished:
		st, ok, _ := t.state.Get()
		if !ok {
			return nil
		}
		st.Ciphertext = data.Ciphertext
		_ = t.state.Set(st)
		if st.ThresholdReady && t.decShares == nil {
			t.startDecryptionShareRound(ctx, st.Members)
		}
		return nil

	case eventbus.DecryptionshareCreated:
		if t.decShares != nil {
			t.decShares.Add(data.NodeID, data.Share)
		}
		return nil

	case eventbus.ComputeSucceeded:
		t.onComputeSucceeded(ctx, data)
		return nil

	case eventbus.ComputeFailed:
		t.onComputeFailed(ctx, data)
		return nil

	case eventbus.E3RequestComplete:
		t.teardown()
	}
	return nil
}

// correlationID names the in-flight compute job for op on ctx.E3ID. Only
// one round of a given op is ever in flight per E3 id, so this
// deterministic name is enough to route the eventual ComputeSucceeded/
// ComputeFailed back to the right continuation.
func (t *Threshold) correlationID(ctx *router.Context, op string) string {
	return ctx.E3ID + ":" + op
}

func (t *Threshold) onComputeSucceeded(ctx *router.Context, data eventbus.ComputeSucceeded) {
	switch data.CorrelationID {
	case t.correlationID(ctx, opEncryptionKey):
		t.finishEncryptionKeyRound(ctx, data.Output)
	case t.correlationID(ctx, opThresholdShare):
		t.finishThresholdShareRound(ctx, data.Output)
	case t.correlationID(ctx, opDecryptionShare):
		t.finishDecryptionShareRound(ctx, data.Output)
	}
}

func (t *Threshold) onComputeFailed(ctx *router.Context, data eventbus.ComputeFailed) {
	t.log.Error("threshold compute failed", "e3_id", ctx.E3ID, "correlation_id", data.CorrelationID, "reason", data.Reason)
	if t.bus != nil {
		t.bus.PublishError(errors.Compute("threshold derive correlation_id="+data.CorrelationID, goerrors.New(data.Reason)))
	}
}

func (t *Threshold) startEncryptionKeyRound(ctx *router.Context, members []string) {
	_ = t.state.Set(roundState{Members: members})

	t.pool.Submit(compute.Job{
		CorrelationID: t.correlationID(ctx, opEncryptionKey),
		Op:            opEncryptionKey,
		E3ID:          ctx.E3ID,
		Fn:            t.crypto.DeriveEncryptionKey,
	})
}

func (t *Threshold) finishEncryptionKeyRound(ctx *router.Context, key []byte) {
	st, ok, _ := t.state.Get()
	if !ok {
		return
	}
	members := st.Members

	t.encKeys = collector.New[[]byte](members, t.timeout(t.cfg.EncryptionKeyTimeout, DefaultEncryptionKeyTimeout),
		func(keys map[string][]byte) {
			t.bus.Publish(eventbus.New(eventbus.AllEncryptionKeysCollected{E3ID: ctx.E3ID, Keys: keys}, ctx.E3ID))
			t.startThresholdShareRound(ctx, members, keys)
		},
		func(missing []string) {
			t.bus.Publish(eventbus.New(eventbus.EncryptionKeyCollectionFailed{E3ID: ctx.E3ID, Missing: missing}, ctx.E3ID))
		},
	)
	t.encKeys.Add(t.nodeID, key)

	t.bus.Publish(eventbus.New(eventbus.EncryptionKeyCreated{E3ID: ctx.E3ID, NodeID: t.nodeID, Key: key}, ctx.E3ID))
}

func (t *Threshold) startThresholdShareRound(ctx *router.Context, members []string, encKeys map[string][]byte) {
	t.pool.Submit(compute.Job{
		CorrelationID: t.correlationID(ctx, opThresholdShare),
		Op:            opThresholdShare,
		E3ID:          ctx.E3ID,
		Fn:            func() ([]byte, error) { return t.crypto.DeriveThresholdShare(encKeys) },
	})
}

func (t *Threshold) finishThresholdShareRound(ctx *router.Context, share []byte) {
	st, ok, _ := t.state.Get()
	if !ok {
		return
	}
	members := st.Members

	t.shares = collector.New[[]byte](members, t.timeout(t.cfg.ThresholdShareTimeout, DefaultThresholdShareTimeout),
		func(shares map[string][]byte) {
			t.bus.Publish(eventbus.New(eventbus.AllThresholdSharesCollected{E3ID: ctx.E3ID, Shares: shares}, ctx.E3ID))
			if st, ok, _ := t.state.Get(); ok {
				st.ThresholdReady = true
				st.ThresholdShares = shares
				_ = t.state.Set(st)
				if st.Ciphertext != nil {
					t.startDecryptionShareRound(ctx, members)
				}
			}
		},
		func(missing []string) {
			t.bus.Publish(eventbus.New(eventbus.ThresholdShareCollectionFailed{E3ID: ctx.E3ID, Missing: missing}, ctx.E3ID))
		},
	)
	t.shares.Add(t.nodeID, share)

	t.bus.Publish(eventbus.New(eventbus.ThresholdShareCreated{E3ID: ctx.E3ID, NodeID: t.nodeID, Share: share}, ctx.E3ID))
}

func (t *Threshold) startDecryptionShareRound(ctx *router.Context, members []string) {
	st, ok, _ := t.state.Get()
	if !ok {
		return
	}

	t.decShares = collector.New[[]byte](members, t.timeout(t.cfg.DecryptionShareTimeout, DefaultDecryptionShareTimeout),
		func(shares map[string][]byte) {
			t.bus.Publish(eventbus.New(eventbus.AllDecryptionSharesCollected{E3ID: ctx.E3ID, Shares: shares}, ctx.E3ID))
		},
		func(missing []string) {
			t.bus.Publish(eventbus.New(eventbus.DecryptionShareCollectionFailed{E3ID: ctx.E3ID, Missing: missing}, ctx.E3ID))
		},
	)

	t.pool.Submit(compute.Job{
		CorrelationID: t.correlationID(ctx, opDecryptionShare),
		Op:            opDecryptionShare,
		E3ID:          ctx.E3ID,
		Fn:            func() ([]byte, error) { return t.crypto.DeriveDecryptionShare(st.ThresholdShares, st.Ciphertext) },
	})
}

func (t *Threshold) finishDecryptionShareRound(ctx *router.Context, share []byte) {
	if t.decShares == nil {
		return
	}
	t.decShares.Add(t.nodeID, share)
	t.bus.Publish(eventbus.New(eventbus.DecryptionshareCreated{E3ID: ctx.E3ID, NodeID: t.nodeID, Share: share}, ctx.E3ID))
}

func (t *Threshold) timeout(cfg, def time.Duration) time.Duration {
	if cfg > 0 {
		return cfg
	}
	return def
}

func (t *Threshold) teardown() {
	if t.encKeys != nil {
		t.encKeys.Stop()
	}
	if t.shares != nil {
		t.shares.Stop()
	}
	if t.decShares != nil {
		t.decShares.Stop()
	}
}
