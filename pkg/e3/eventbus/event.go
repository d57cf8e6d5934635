// Package eventbus defines the coordinator's event envelope, the closed
// set of domain events every extension and external ingestion pipeline
// produces or consumes, and the in-process pub/sub bus that routes them.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// EventData is the closed set of payloads a domain Event can carry. Every
// concrete type below implements it; Type returns the stable wire name
// used for topic matching and log lines.
type EventData interface {
	Type() string
}

// Ctx carries the metadata every Event needs for causal ordering, content
// hashing, and error-topic correlation, independent of its payload.
type Ctx struct {
	AggregateID string // the E3 id this event belongs to, "" for global events
	Timestamp   int64  // unix millis
	CorrelationID string
}

// Event is the envelope wrapping a domain payload with the context needed
// to persist, dedup and route it.
type Event struct {
	Data EventData
	Ctx  Ctx
	Seq  uint64 // assigned by the event store on local append; 0 until stored
}

// Type returns the wrapped payload's wire type.
func (e Event) Type() string { return e.Data.Type() }

// ID returns a stable content-hash identifier for e, computed over its
// type, JSON-encoded payload, aggregate id and timestamp (never its
// sequence number). Two Events with the same payload, AggregateID and
// Timestamp collide by design — the bus and event store treat that as
// "the same event observed twice" (e.g. once locally and once relayed
// over gossip) and dedup on it.
func (e Event) ID() string {
	payload, _ := json.Marshal(e.Data)

	h1 := xxhash.New()
	fmt.Fprintf(h1, "%s|%s|%d|", e.Data.Type(), e.Ctx.AggregateID, e.Ctx.Timestamp)
	h1.Write(payload)
	lo := h1.Sum64()

	h2 := xxhash.New()
	fmt.Fprintf(h2, "e3-id-salt|%s|%s|%d|", e.Data.Type(), e.Ctx.AggregateID, e.Ctx.Timestamp)
	h2.Write(payload)
	hi := h2.Sum64()

	return fmt.Sprintf("%016x%016x", hi, lo)
}

// New builds an Event for aggregateID with the current time. Global events
// (aggregateID == "", e.g. CiphernodeAdded or a SyncRequest) have no
// aggregate id to correlate by, so they get a fresh uuid instead.
func New(data EventData, aggregateID string) Event {
	correlationID := aggregateID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Event{
		Data: data,
		Ctx: Ctx{
			AggregateID:   aggregateID,
			Timestamp:     time.Now().UnixMilli(),
			CorrelationID: correlationID,
		},
	}
}

// NewFromParent builds an Event inheriting parent's aggregate id and
// correlation id, for events derived while handling another event.
func NewFromParent(data EventData, parent Event) Event {
	evt := New(data, parent.Ctx.AggregateID)
	evt.Ctx.CorrelationID = parent.Ctx.CorrelationID
	return evt
}

// --- concrete domain payloads -------------------------------------------------

type E3Requested struct {
	E3ID          string
	ThresholdM    int
	CommitteeSize int
	Seed          []byte
	StartBlock    uint64
	Duration      time.Duration
}

func (E3Requested) Type() string { return "E3Requested" }

type CommitteeRequested struct {
	E3ID      string
	Seed      []byte
	Size      int
	Deadline  time.Time
}

func (CommitteeRequested) Type() string { return "CommitteeRequested" }

type CiphernodeSelected struct {
	E3ID    string
	Address string
}

func (CiphernodeSelected) Type() string { return "CiphernodeSelected" }

type CiphernodeAdded struct {
	Address    string
	Index      uint32
	NumNodes   uint32
}

func (CiphernodeAdded) Type() string { return "CiphernodeAdded" }

type CiphernodeRemoved struct {
	Address  string
	Index    uint32
	NumNodes uint32
}

func (CiphernodeRemoved) Type() string { return "CiphernodeRemoved" }

type KeyshareCreated struct {
	E3ID      string
	NodeID    string
	Keyshare  []byte
}

func (KeyshareCreated) Type() string { return "KeyshareCreated" }

type PublicKeyAggregated struct {
	E3ID     string
	PubKey   []byte
}

func (PublicKeyAggregated) Type() string { return "PublicKeyAggregated" }

type InputPublished struct {
	E3ID       string
	Data       []byte
	Index      uint64
}

func (InputPublished) Type() string { return "InputPublished" }

type CiphertextOutputPublished struct {
	E3ID       string
	Ciphertext []byte
}

func (CiphertextOutputPublished) Type() string { return "CiphertextOutputPublished" }

type DecryptionshareCreated struct {
	E3ID    string
	NodeID  string
	Share   []byte
}

func (DecryptionshareCreated) Type() string { return "DecryptionshareCreated" }

type PlaintextAggregated struct {
	E3ID      string
	Plaintext []byte
}

func (PlaintextAggregated) Type() string { return "PlaintextAggregated" }

type E3RequestComplete struct {
	E3ID string
}

func (E3RequestComplete) Type() string { return "E3RequestComplete" }

type FinalizeCommittee struct {
	E3ID    string
	Members []string
	PubKey  []byte
}

func (FinalizeCommittee) Type() string { return "FinalizeCommittee" }

type EncryptionKeyCreated struct {
	E3ID   string
	NodeID string
	Key    []byte
}

func (EncryptionKeyCreated) Type() string { return "EncryptionKeyCreated" }

type EncryptionKeyReceived struct {
	E3ID     string
	FromNode string
	Key      []byte
}

func (EncryptionKeyReceived) Type() string { return "EncryptionKeyReceived" }

type AllEncryptionKeysCollected struct {
	E3ID string
	Keys map[string][]byte
}

func (AllEncryptionKeysCollected) Type() string { return "AllEncryptionKeysCollected" }

type EncryptionKeyCollectionFailed struct {
	E3ID    string
	Missing []string
}

func (EncryptionKeyCollectionFailed) Type() string { return "EncryptionKeyCollectionFailed" }

type ThresholdShareCreated struct {
	E3ID   string
	NodeID string
	Share  []byte
}

func (ThresholdShareCreated) Type() string { return "ThresholdShareCreated" }

type AllThresholdSharesCollected struct {
	E3ID   string
	Shares map[string][]byte
}

func (AllThresholdSharesCollected) Type() string { return "AllThresholdSharesCollected" }

type ThresholdShareCollectionFailed struct {
	E3ID    string
	Missing []string
}

func (ThresholdShareCollectionFailed) Type() string { return "ThresholdShareCollectionFailed" }

type AllDecryptionSharesCollected struct {
	E3ID   string
	Shares map[string][]byte
}

func (AllDecryptionSharesCollected) Type() string { return "AllDecryptionSharesCollected" }

type DecryptionShareCollectionFailed struct {
	E3ID    string
	Missing []string
}

func (DecryptionShareCollectionFailed) Type() string { return "DecryptionShareCollectionFailed" }

type ComputeRequested struct {
	CorrelationID string
	Op            string
	Input         []byte
}

func (ComputeRequested) Type() string { return "ComputeRequested" }

type ComputeSucceeded struct {
	CorrelationID string
	Output        []byte
}

func (ComputeSucceeded) Type() string { return "ComputeSucceeded" }

type ComputeFailed struct {
	CorrelationID string
	Reason        string
}

func (ComputeFailed) Type() string { return "ComputeFailed" }

type HistoricalSyncComplete struct {
	ChainID   uint64
	Contract  string
	PrevEvent *Event // nil if this reader had no prior history
}

func (HistoricalSyncComplete) Type() string { return "HistoricalSyncComplete" }

type SyncStart struct {
	ChainID uint64
}

func (SyncStart) Type() string { return "SyncStart" }

type SyncEnd struct {
	ChainID uint64
}

func (SyncEnd) Type() string { return "SyncEnd" }

type SyncRequest struct {
	Since  int64
	PeerID string
}

func (SyncRequest) Type() string { return "SyncRequest" }

type NetEventsReceived struct {
	Events []Event
}

func (NetEventsReceived) Type() string { return "NetEventsReceived" }

type TicketBalanceUpdated struct {
	Address string
	Balance uint64
}

func (TicketBalanceUpdated) Type() string { return "TicketBalanceUpdated" }

type OperatorActivationChanged struct {
	Address string
	Active  bool
}

func (OperatorActivationChanged) Type() string { return "OperatorActivationChanged" }

type SignedProofFailed struct {
	E3ID   string
	NodeID string
	Reason string
}

func (SignedProofFailed) Type() string { return "SignedProofFailed" }

type ConfigurationUpdated struct {
	Key   string
	Value string
}

func (ConfigurationUpdated) Type() string { return "ConfigurationUpdated" }

type Shutdown struct {
	Reason string
}

func (Shutdown) Type() string { return "Shutdown" }

type Die struct {
	Reason string
}

func (Die) Type() string { return "Die" }
