// Package compute is the external worker pool heavy threshold-BFV
// derivations are dispatched to, so the single goroutine running an E3
// actor never blocks on a crypto call. A Job travels round trip as three
// bus events — ComputeRequested, then exactly one of ComputeSucceeded or
// ComputeFailed — correlated by CorrelationID, the same fan-out-by-
// bounded-goroutines shape the coordinator's fork/join execution uses,
// generalized into a long-lived pool rather than a per-call wait group.
package compute

import (
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
)

// Job is one unit of work submitted to a Pool. Fn does the actual
// derivation; CorrelationID lets the caller match the eventual
// ComputeSucceeded/ComputeFailed back to what requested it, and E3ID
// (when non-empty) routes those events to the right per-aggregate actor.
type Job struct {
	CorrelationID string
	Op            string
	E3ID          string
	Fn            func() ([]byte, error)
}

// Pool runs Jobs on a bounded set of worker goroutines, publishing their
// outcome back onto Bus.
type Pool struct {
	bus  eventbus.Bus
	jobs chan Job
}

// NewPool starts workers goroutines pulling from an internal job queue.
// workers <= 0 is treated as 1.
func NewPool(bus eventbus.Bus, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{bus: bus, jobs: make(chan Job, 64)}
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	for job := range p.jobs {
		out, err := job.Fn()
		if err != nil {
			p.bus.Publish(eventbus.New(eventbus.ComputeFailed{
				CorrelationID: job.CorrelationID,
				Reason:        err.Error(),
			}, job.E3ID))
			continue
		}
		p.bus.Publish(eventbus.New(eventbus.ComputeSucceeded{
			CorrelationID: job.CorrelationID,
			Output:        out,
		}, job.E3ID))
	}
}

// Submit enqueues job, publishing ComputeRequested immediately so
// observers can measure dispatch-to-completion latency by
// CorrelationID. Submit never blocks the caller on job.Fn itself; it
// only blocks if every worker is already busy and the internal queue is
// full.
func (p *Pool) Submit(job Job) {
	p.bus.Publish(eventbus.New(eventbus.ComputeRequested{
		CorrelationID: job.CorrelationID,
		Op:            job.Op,
	}, job.E3ID))
	p.jobs <- job
}

// Shutdown stops accepting new jobs. In-flight jobs still complete and
// publish their result; it is the caller's responsibility to stop
// submitting before calling this.
func (p *Pool) Shutdown() {
	close(p.jobs)
}
