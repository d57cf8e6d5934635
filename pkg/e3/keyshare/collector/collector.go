// Package collector implements the bounded, timeout-guarded wait used by
// every round of the threshold keyshare protocol: collect one contribution
// per expected party, emit a single "all collected" event once every party
// has reported, or a "collection failed" event naming the stragglers once
// the round's timeout elapses first.
package collector

import (
	"sync"
	"time"
)

// Collector waits for one contribution per member of an expected party
// set, emitting exactly one terminal result (success or timeout) via
// onComplete/onTimeout.
type Collector[T any] struct {
	mu       sync.Mutex
	expected map[string]struct{}
	got      map[string]T
	done     bool
	timer    *time.Timer

	onComplete func(values map[string]T)
	onTimeout  func(missing []string)
}

// New starts a Collector for expected parties with the given timeout.
// onComplete fires exactly once if every expected party reports before
// timeout; onTimeout fires exactly once otherwise. Calling Stop before
// either fires suppresses both.
func New[T any](expected []string, timeout time.Duration, onComplete func(map[string]T), onTimeout func([]string)) *Collector[T] {
	c := &Collector[T]{
		expected:   make(map[string]struct{}, len(expected)),
		got:        make(map[string]T),
		onComplete: onComplete,
		onTimeout:  onTimeout,
	}
	for _, e := range expected {
		c.expected[e] = struct{}{}
	}

	c.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		if c.done {
			c.mu.Unlock()
			return
		}
		c.done = true
		missing := c.missingLocked()
		c.mu.Unlock()
		if c.onTimeout != nil {
			c.onTimeout(missing)
		}
	})
	return c
}

// Add records party's contribution v. If party is not in the expected set
// it is ignored. Returns true if this Add completed the round.
func (c *Collector[T]) Add(party string, v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	if _, expected := c.expected[party]; !expected {
		return false
	}
	if _, already := c.got[party]; already {
		return false
	}
	c.got[party] = v

	if len(c.got) < len(c.expected) {
		return false
	}

	c.done = true
	c.timer.Stop()
	values := make(map[string]T, len(c.got))
	for k, v := range c.got {
		values[k] = v
	}
	if c.onComplete != nil {
		c.onComplete(values)
	}
	return true
}

func (c *Collector[T]) missingLocked() []string {
	missing := make([]string, 0, len(c.expected)-len(c.got))
	for p := range c.expected {
		if _, ok := c.got[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Stop cancels the collector's timeout without firing onComplete or
// onTimeout, used when the owning E3 request tears down mid-round.
func (c *Collector[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.timer.Stop()
}
