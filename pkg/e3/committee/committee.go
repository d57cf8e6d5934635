// Package committee finalizes a requested committee: it calls out to a
// sortition oracle for the current ciphernode roster, waits out the
// request's deadline, and emits FinalizeCommittee so the keyshare and
// aggregator extensions can start collecting contributions from exactly
// that member set.
package committee

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/router"
	"github.com/ciphermesh/coordinator/pkg/e3/sortition"
)

// Oracle resolves the current ticket roster used to select a committee.
// Implemented by whatever reads on-chain ciphernode/ticket state.
type Oracle interface {
	Tickets(ctx context.Context) ([]sortition.Ticket, error)
}

// Finalizer is the Extension that turns a CommitteeRequested into a
// FinalizeCommittee once its deadline has passed.
type Finalizer struct {
	oracle  Oracle
	handler *errors.Handler
	bus     eventbus.Bus
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]context.CancelFunc // e3_id -> cancel
}

// NewFinalizer builds a Finalizer. retry governs the oracle RPC's retry
// policy (exponential backoff); sink receives a KindError if
// the oracle call never succeeds. Because finalization waits out a
// deadline on its own goroutine, the resulting FinalizeCommittee is
// published directly to bus rather than returned from OnEvent.
func NewFinalizer(oracle Oracle, bus eventbus.Bus, retry errors.RetryConfig, sink func(*errors.KindError), log *slog.Logger) *Finalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Finalizer{
		oracle:  oracle,
		handler: errors.NewHandler(retry, sink),
		bus:     bus,
		log:     log,
		pending: make(map[string]context.CancelFunc),
	}
}

func (f *Finalizer) Name() string { return "committee_finalizer" }

func (f *Finalizer) Hydrate(*router.Context) {}

func (f *Finalizer) OnEvent(ctx *router.Context, evt eventbus.Event) []eventbus.Event {
	switch data := evt.Data.(type) {
	case eventbus.CommitteeRequested:
		f.start(ctx, data)
		return nil

	case eventbus.Shutdown, eventbus.E3RequestComplete:
		f.cancel(ctx.E3ID)
		return nil
	}
	return nil
}

func (f *Finalizer) start(ctx *router.Context, req eventbus.CommitteeRequested) {
	runCtx, cancel := context.WithCancel(ctx.Context)
	f.mu.Lock()
	f.pending[ctx.E3ID] = cancel
	f.mu.Unlock()

	go func() {
		tickets, err := errors.Run(runCtx, f.handler, errors.KindSortition, "fetch tickets", f.oracle.Tickets)
		if err != nil {
			f.log.Warn("committee finalization aborted: oracle failed", "e3_id", ctx.E3ID, "error", err)
			return
		}

		wait := time.Until(req.Deadline)
		if wait < 0 {
			wait = 0
		}
		wait += time.Second
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
		}

		members := sortition.SelectCommittee(req.Seed, tickets, req.Size)
		ctx.Log.Info("committee finalized", "e3_id", ctx.E3ID, "members", len(members))

		f.mu.Lock()
		delete(f.pending, ctx.E3ID)
		f.mu.Unlock()

		f.bus.Publish(eventbus.New(eventbus.FinalizeCommittee{
			E3ID:    ctx.E3ID,
			Members: members,
		}, ctx.E3ID))
	}()
}

func (f *Finalizer) cancel(e3ID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel, ok := f.pending[e3ID]; ok {
		cancel()
		delete(f.pending, e3ID)
	}
}

// Shutdown cancels every pending finalization.
func (f *Finalizer) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, cancel := range f.pending {
		cancel()
		delete(f.pending, id)
	}
}
