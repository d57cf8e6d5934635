// Package eventstore durably appends every Event the coordinator sees to
// a local, sequence-numbered log with a timestamp index, so a restarted
// or newly-joined node can replay history and the P2P sync manager can
// answer "send me everything since t" without touching the bus.
package eventstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	e3err "github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
)

// MaxStorageErrors is the number of consecutive append failures the store
// tolerates before it stops accepting writes; beyond this, the log and
// index are assumed to have diverged and the node should be restarted
// against a fresh snapshot rather than silently drop events.
const MaxStorageErrors = 5

// Store is the durable, sequence-numbered event log every node keeps.
type Store struct {
	ds  *persist.DataStore // rooted at "events"
	bus eventbus.Bus

	mu        sync.Mutex
	nextSeq   uint64
	seenIDs   map[string]uint64 // event id -> seq, for idempotent remote replay
	byTs      []tsEntry         // sorted by timestamp for Since()
	errCount  int
}

type tsEntry struct {
	ts  int64
	seq uint64
}

// New opens a Store rooted at ds (callers typically pass a DataStore
// scoped to "events" off the root KV).
func New(ds *persist.DataStore, bus eventbus.Bus) *Store {
	s := &Store{ds: ds, bus: bus, seenIDs: make(map[string]uint64)}
	// Resume from an existing log: restore the sequence counter, dedup ids
	// and timestamp index so appends after a restart continue the sequence.
	_ = ds.Range("log/", func(_ string, value []byte) bool {
		if evt, err := decodeEvent(value); err == nil {
			s.seenIDs[evt.ID()] = evt.Seq
			s.byTs = insertSortedByTs(s.byTs, tsEntry{ts: evt.Ctx.Timestamp, seq: evt.Seq})
			if evt.Seq > s.nextSeq {
				s.nextSeq = evt.Seq
			}
		}
		return true
	})
	return s
}

func logKey(seq uint64) string { return fmt.Sprintf("log/%020d", seq) }

// Append assigns evt the next local sequence number, persists it to the
// log, records it in the in-memory timestamp index, and publishes it on
// the bus. It is a no-op (returning the previously stored copy) if an
// event with the same content-hash id was already appended.
func (s *Store) Append(evt eventbus.Event) (eventbus.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := evt.ID()
	if seq, ok := s.seenIDs[id]; ok {
		evt.Seq = seq
		return evt, nil
	}
	if s.errCount >= MaxStorageErrors {
		return evt, e3err.Data("append: store stopped after MaxStorageErrors consecutive failures", fmt.Errorf("%d consecutive storage errors", s.errCount))
	}

	s.nextSeq++
	seq := s.nextSeq
	evt.Seq = seq

	raw, err := encodeEvent(evt)
	if err != nil {
		s.errCount++
		return evt, e3err.Data("encode event for append", err)
	}

	if err := s.ds.Insert(logKey(seq), raw); err != nil {
		s.errCount++
		if s.errCount >= MaxStorageErrors {
			return evt, e3err.Data("append: log/index diverged, exceeded MaxStorageErrors", err)
		}
		return evt, e3err.Data("append event", err)
	}
	s.errCount = 0

	s.seenIDs[id] = seq
	s.byTs = insertSortedByTs(s.byTs, tsEntry{ts: evt.Ctx.Timestamp, seq: seq})

	if s.bus != nil {
		s.bus.Publish(evt)
	}
	return evt, nil
}

func insertSortedByTs(entries []tsEntry, e tsEntry) []tsEntry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].ts >= e.ts })
	entries = append(entries, tsEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// ReadFrom returns every event appended at or after seq, in sequence
// order.
func (s *Store) ReadFrom(seq uint64) ([]eventbus.Event, error) {
	var out []eventbus.Event
	prefix := "log/"
	err := s.ds.Range(prefix, func(key string, value []byte) bool {
		evt, err := decodeEvent(value)
		if err != nil {
			return true
		}
		if evt.Seq >= seq {
			out = append(out, evt)
		}
		return true
	})
	if err != nil {
		return nil, e3err.Data("read event log", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Since returns the lowest sequence number among events with timestamp >=
// ts, for use as the resume point of a causal sync request.
func (s *Store) Since(ts int64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.byTs), func(i int) bool { return s.byTs[i].ts >= ts })
	if i >= len(s.byTs) {
		return 0, false
	}
	lowest := s.byTs[i].seq
	for _, e := range s.byTs[i+1:] {
		if e.seq < lowest {
			lowest = e.seq
		}
	}
	return lowest, true
}

// PublishFromRemote appends data (already observed on-chain or over
// gossip at timestamp ts) and republishes it locally, deduping against
// events this node has already stored under the same content-hash id.
// Both the EVM gateway's Live state and the P2P sync manager funnel
// inbound events through this single path.
func PublishFromRemote(store *Store, data eventbus.EventData, aggregateID string, ts int64) (eventbus.Event, error) {
	evt := eventbus.Event{Data: data, Ctx: eventbus.Ctx{AggregateID: aggregateID, Timestamp: ts, CorrelationID: aggregateID}}
	return store.Append(evt)
}

func encodeEvent(evt eventbus.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Ctx: evt.Ctx, Seq: evt.Seq, Data: evt.Data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEvent(raw []byte) (eventbus.Event, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return eventbus.Event{}, err
	}
	return eventbus.Event{Data: env.Data, Ctx: env.Ctx, Seq: env.Seq}, nil
}

// envelope is the gob-serializable mirror of eventbus.Event. EventData is
// an interface, so every concrete payload type must be gob.Register'd by
// the importing package's init (see register.go).
type envelope struct {
	Ctx  eventbus.Ctx
	Seq  uint64
	Data eventbus.EventData
}
