// Package sortition selects a deterministic, verifiable committee from
// the active ciphernode set using a ticket-weighted score derived from a
// public seed, so any node can independently recompute and check
// membership without a coordinator vote.
package sortition

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Ticket is one node's entry in the sortition draw: a node may hold
// multiple tickets (proportional to stake/weight), each scored
// independently; only the node's best (lowest) score counts.
type Ticket struct {
	NodeID string
	ID     uint64
}

// score computes H(seed || nodeID || ticketID) as a 128-bit value split
// across two xxhash passes with distinct salts, matching the id-hash
// construction used for event content hashes elsewhere in the module.
func score(seed []byte, t Ticket) (hi, lo uint64) {
	buf := make([]byte, 0, len(seed)+len(t.NodeID)+8)
	buf = append(buf, seed...)
	buf = append(buf, t.NodeID...)
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], t.ID)
	buf = append(buf, idBytes[:]...)

	lo = xxhash.Sum64(buf)
	hiBuf := append(append([]byte(nil), buf...), 0xff)
	hi = xxhash.Sum64(hiBuf)
	return hi, lo
}

type scored struct {
	nodeID   string
	ticketID uint64
	hi, lo   uint64
}

func less(a, b scored) bool {
	if a.hi != b.hi {
		return a.hi < b.hi
	}
	if a.lo != b.lo {
		return a.lo < b.lo
	}
	if a.ticketID != b.ticketID {
		return a.ticketID < b.ticketID
	}
	return a.nodeID < b.nodeID
}

// SelectCommittee deterministically selects size distinct node ids from
// tickets, ranked by each node's best ticket score under seed. Ties are
// broken by ticket id, then node id, for total determinism.
func SelectCommittee(seed []byte, tickets []Ticket, size int) []string {
	best := make(map[string]scored)
	for _, t := range tickets {
		hi, lo := score(seed, t)
		s := scored{nodeID: t.NodeID, ticketID: t.ID, hi: hi, lo: lo}
		cur, ok := best[t.NodeID]
		if !ok || less(s, cur) {
			best[t.NodeID] = s
		}
	}

	ranked := make([]scored, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })

	if size > len(ranked) {
		size = len(ranked)
	}
	out := make([]string, size)
	for i := 0; i < size; i++ {
		out[i] = ranked[i].nodeID
	}
	return out
}

// Checker implements aggregator.MembershipChecker against a fixed,
// per-E3-id committee roster (typically populated from FinalizeCommittee).
type Checker struct {
	committees map[string]map[string]struct{}
}

// NewChecker builds an empty Checker.
func NewChecker() *Checker {
	return &Checker{committees: make(map[string]map[string]struct{})}
}

// SetCommittee records the final member set for e3ID.
func (c *Checker) SetCommittee(e3ID string, members []string) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	c.committees[e3ID] = set
}

// IsMember reports whether node was selected for e3ID's committee.
func (c *Checker) IsMember(e3ID, node string) bool {
	set, ok := c.committees[e3ID]
	if !ok {
		return false
	}
	_, ok = set[node]
	return ok
}
