// Package aggregator implements the two threshold collectors mounted on
// every E3 request: the public-key aggregator (collects one keyshare per
// selected ciphernode, produces the committee's aggregate encryption key)
// and the plaintext aggregator (collects one decryption share per
// responding node, produces the final plaintext). Both specialize the
// same Collecting -> Computing -> Complete state machine.
package aggregator

import (
	"github.com/ciphermesh/coordinator/pkg/e3/ordered"
)

// State is the aggregator's lifecycle stage.
type State int

const (
	Collecting State = iota
	Computing
	Complete
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Computing:
		return "Computing"
	case Complete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Collector accumulates at most one contribution per node id until
// threshold distinct contributors have reported, at which point it's
// ready to compute. Insertion order never affects the final contributor
// set or its digest (ordered.Set guarantees sorted iteration), satisfying
// the "deterministic aggregation" property regardless of event delivery
// order.
type Collector[T any] struct {
	Threshold int

	state     State
	nodes     *ordered.Set[string]
	values    map[string]T
	result    T
}

// NewCollector builds a Collector requiring threshold distinct
// contributions before it becomes ready.
func NewCollector[T any](threshold int) *Collector[T] {
	return &Collector[T]{
		Threshold: threshold,
		nodes:     ordered.NewStringSet(),
		values:    make(map[string]T),
	}
}

// State returns the collector's current lifecycle stage.
func (c *Collector[T]) State() State { return c.state }

// Add records node's contribution v, ignoring repeats from a node already
// recorded. Returns true if this Add crossed the threshold for the first
// time (the caller should now invoke Compute).
func (c *Collector[T]) Add(node string, v T) bool {
	if c.state != Collecting {
		return false
	}
	if c.nodes.Has(node) {
		return false
	}
	c.nodes.Add(node)
	c.values[node] = v

	if c.nodes.Len() >= c.Threshold {
		c.state = Computing
		return true
	}
	return false
}

// Contributors returns the deterministically-sorted set of node ids that
// have contributed so far.
func (c *Collector[T]) Contributors() []string { return c.nodes.Items() }

// Values returns the contribution for each contributor, in the same
// sorted order as Contributors.
func (c *Collector[T]) Values() []T {
	ids := c.nodes.Items()
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = c.values[id]
	}
	return out
}

// Finish records the computed result and moves the collector to Complete.
// It is idempotent: calling it again after Complete is a no-op, so a
// restarted node re-delivering the same completion event doesn't
// re-trigger downstream publishes.
func (c *Collector[T]) Finish(result T) bool {
	if c.state == Complete {
		return false
	}
	c.result = result
	c.state = Complete
	return true
}

// Result returns the computed result once Complete.
func (c *Collector[T]) Result() (T, bool) {
	return c.result, c.state == Complete
}
