// Package ordered provides a deterministic-iteration set used everywhere
// the coordinator aggregates contributions (keyshares, decryption shares,
// committee members) from an unordered stream of events into something
// whose final digest does not depend on arrival order.
package ordered

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Set holds comparable, totally-ordered elements with duplicate-insert
// suppression and stable sorted iteration.
type Set[T comparable] struct {
	items []T
	index map[T]int
	less  func(a, b T) bool
}

// New builds an empty Set ordered by less.
func New[T comparable](less func(a, b T) bool) *Set[T] {
	return &Set[T]{index: make(map[T]int), less: less}
}

// Add inserts v if not already present, keeping Items() sorted. Returns
// true if v was newly inserted.
func (s *Set[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	i := sort.Search(len(s.items), func(i int) bool { return !s.less(s.items[i], v) })
	s.items = append(s.items, v)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = v
	for k, item := range s.items[i:] {
		s.index[item] = i + k
	}
	return true
}

// Has reports whether v is in the set.
func (s *Set[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Len returns the element count.
func (s *Set[T]) Len() int { return len(s.items) }

// Items returns the elements in sorted order. The returned slice must not
// be mutated by the caller.
func (s *Set[T]) Items() []T { return s.items }

// NewStringSet is the instantiation aggregators use for node/address ids;
// []byte is not comparable, so raw share/key bytes are not held in a Set.

// NewStringSet orders by natural string comparison.
func NewStringSet() *Set[string] {
	return New[string](func(a, b string) bool { return a < b })
}

// Hash returns a deterministic digest of a string set's sorted contents,
// used to prove aggregation order-independence in tests and to detect
// divergence between nodes that should have seen the same contributions.
func Hash(items []string) uint64 {
	h := xxhash.New()
	for _, it := range items {
		h.WriteString(it)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
