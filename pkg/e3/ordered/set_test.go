package ordered_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/ordered"
)

func TestSetDeduplicatesAndSorts(t *testing.T) {
	s := ordered.NewStringSet()
	require.True(t, s.Add("c"))
	require.True(t, s.Add("a"))
	require.True(t, s.Add("b"))
	require.False(t, s.Add("a")) // duplicate

	require.Equal(t, []string{"a", "b", "c"}, s.Items())
}

func TestSetHashOrderIndependent(t *testing.T) {
	items := []string{"node-1", "node-2", "node-3", "node-4", "node-5"}

	build := func(order []string) uint64 {
		s := ordered.NewStringSet()
		for _, it := range order {
			s.Add(it)
		}
		return ordered.Hash(s.Items())
	}

	h1 := build(items)

	shuffled := append([]string(nil), items...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	h2 := build(shuffled)

	require.Equal(t, h1, h2, "hash over a sorted set must not depend on insertion order")
}
