package net

import (
	"bytes"
	"encoding/gob"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/eventstore"
)

// wireEvent is the gob-serializable form of an eventbus.Event sent over
// gossip. EventData concrete types must be gob.Register'd by
// eventstore's init for this to round-trip correctly.
type wireEvent struct {
	Ctx  eventbus.Ctx
	Data eventbus.EventData
}

// Translator bridges the local event bus and the gossip overlay: outbound
// events matching an allow-list are serialized, chunked if large, and
// published; inbound chunks are reassembled and appended to the local
// event store (deduplicated against events this node already has).
type Translator struct {
	iface   *Interface
	store   *eventstore.Store
	allowed map[string]struct{}
	log     *slog.Logger

	emitted      *lru.Cache[string, struct{}] // suppress re-broadcast of what we just received
	reassembler  *Reassembler
}

// NewTranslator builds a Translator forwarding only event types in
// allowedTypes.
func NewTranslator(iface *Interface, store *eventstore.Store, allowedTypes []string, log *slog.Logger) *Translator {
	if log == nil {
		log = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	cache, _ := lru.New[string, struct{}](4096)
	return &Translator{iface: iface, store: store, allowed: allowed, log: log, emitted: cache, reassembler: NewReassembler()}
}

// PublishLocal is called by the bus subscriber loop for each locally
// produced event; it gossips the event if its type is allow-listed and
// this node didn't just receive it itself.
func (t *Translator) PublishLocal(evt eventbus.Event) {
	if _, ok := t.allowed[evt.Type()]; !ok {
		return
	}
	if _, justReceived := t.emitted.Get(evt.ID()); justReceived {
		return
	}

	raw, err := encodeWire(evt)
	if err != nil {
		t.log.Error("encode event for gossip", "error", err)
		return
	}

	for _, c := range Split(raw) {
		encoded, err := encodeChunk(c)
		if err != nil {
			continue
		}
		t.iface.Tx <- Publish{Data: encoded}
	}
}

// HandleIncoming processes one raw gossip message, reassembling chunks and
// appending the completed event to the local store once fully received.
func (t *Translator) HandleIncoming(raw []byte) {
	var c Chunk
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&c); err != nil {
		return
	}
	full, ok := t.reassembler.Add(c)
	if !ok {
		return
	}

	var we wireEvent
	if err := gob.NewDecoder(bytes.NewReader(full)).Decode(&we); err != nil {
		t.log.Warn("discarding malformed gossip event", "error", err)
		return
	}

	evt, err := eventstore.PublishFromRemote(t.store, we.Data, we.Ctx.AggregateID, we.Ctx.Timestamp)
	if err != nil {
		return
	}
	t.emitted.Add(evt.ID(), struct{}{})
}

func encodeWire(evt eventbus.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wireEvent{Ctx: evt.Ctx, Data: evt.Data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeChunk(c Chunk) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
