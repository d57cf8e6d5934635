// Package router dispatches bus events to the per-E3-id set of extensions
// that make up one E3 request's coordination state machine: the public-key
// aggregator, the keyshare handler, the plaintext aggregator, the
// committee finalizer. One single-threaded actor per aggregate id, so a
// slow or stuck E3 request never blocks another's event handling.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/observability"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
)

// Extension is one state machine mounted on an E3 Context: the public-key
// aggregator, a keyshare variant, the plaintext aggregator, or the
// committee finalizer all implement it.
type Extension interface {
	// Name identifies the extension in logs and hydration snapshots.
	Name() string
	// OnEvent handles evt, returning any derived events to publish.
	OnEvent(ctx *Context, evt eventbus.Event) []eventbus.Event
	// Hydrate is called once right after the extension is installed into
	// ctx.recipients (either because its Gate fired, or because a restart
	// found it already installed), letting it load its Persistable state
	// from ctx.Store before any event reaches OnEvent.
	Hydrate(ctx *Context)
}

// Spec describes one extension that MAY be mounted on an E3 Context: a
// stable Name used for the recipient slot and hydration marker, a Gate
// deciding from the event stream when the extension's component should be
// instantiated (e.g. a keyshare handler gates on CiphernodeSelected, a
// committee finalizer on CommitteeRequested), and a Build that constructs
// the live Extension the first time Gate returns true. Until then, events
// addressed to this name are held in the Context's per-name EventBuffer
// and delivered once Build installs the recipient.
type Spec struct {
	Name  string
	Gate  func(evt eventbus.Event) bool
	Build func(ctx *Context, evt eventbus.Event) Extension
}

func recipientMarker(name string) string { return "recipients/" + name }

// Context is the per-E3-id execution environment threaded through every
// Extension call: logger, scoped store, a typed dependency map for
// collaborators (compute pool, FHE bridge, registry writer) that don't
// belong on the bus, and the recipients/EventBuffer pair that implement
// lazy extension instantiation. recipients and buffers are only ever
// touched by the single goroutine running this Context's actor, so they
// need no locking of their own.
type Context struct {
	context.Context

	E3ID   string
	Log    *slog.Logger
	Store  *persist.DataStore
	Buffer *persist.WriteBuffer

	recipients map[string]Extension
	buffers    map[string][]eventbus.Event

	mu   sync.RWMutex
	deps map[depKey]any
}

type depKey struct{ name string }

// Key names a typed dependency slot. Use a package-level var of this type
// so two packages can't collide on the same name.
type Key[T any] struct{ name string }

// NewKey creates a typed dependency key named name.
func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

// Put installs v under k for the lifetime of ctx.
func Put[T any](ctx *Context, k Key[T], v T) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.deps == nil {
		ctx.deps = make(map[depKey]any)
	}
	ctx.deps[depKey{k.name}] = v
}

// Get retrieves the dependency installed under k, or the zero value and
// false if none was installed.
func Get[T any](ctx *Context, k Key[T]) (T, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	v, ok := ctx.deps[depKey{k.name}]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// e3Actor runs one E3 id's extension chain on a single goroutine, so
// extensions never need internal locking against each other.
type e3Actor struct {
	ctx   *Context
	specs []Spec
	inbox chan eventbus.Event
	done  chan struct{}
}

// Router owns the per-E3-id actor set and the factory used to build a
// fresh extension chain for a newly-seen E3 id.
type Router struct {
	bus     eventbus.Bus
	root    *persist.DataStore
	buffer  *persist.WriteBuffer
	log     *slog.Logger
	factory func(ctx *Context) []Spec
	spans   observability.SpanManager

	mu     sync.Mutex
	actors map[string]*e3Actor
}

// New builds a Router. factory is called once per newly-observed E3 id to
// list that request's extension Specs; none of them are instantiated
// until their Gate matches an inbound event. spans may be nil, which
// disables tracing.
func New(bus eventbus.Bus, root *persist.DataStore, buffer *persist.WriteBuffer, log *slog.Logger, spans observability.SpanManager, factory func(ctx *Context) []Spec) *Router {
	if log == nil {
		log = slog.Default()
	}
	if spans == nil {
		spans = observability.Noop{}
	}
	return &Router{
		bus:     bus,
		root:    root,
		buffer:  buffer,
		log:     log,
		factory: factory,
		spans:   spans,
		actors:  make(map[string]*e3Actor),
	}
}

// Dispatch routes evt to the actor for its aggregate id, spinning one up
// (and reinstalling and hydrating any extension a restart marker records)
// if this is the first event seen for that id. Events with no aggregate id (global events like
// CiphernodeAdded) are broadcast to every live actor.
func (r *Router) Dispatch(evt eventbus.Event) {
	r.mu.Lock()
	if evt.Ctx.AggregateID == "" {
		actors := make([]*e3Actor, 0, len(r.actors))
		for _, a := range r.actors {
			actors = append(actors, a)
		}
		r.mu.Unlock()
		for _, a := range actors {
			a.inbox <- evt
		}
		return
	}

	a, ok := r.actors[evt.Ctx.AggregateID]
	if !ok {
		a = r.spawn(evt.Ctx.AggregateID)
		r.actors[evt.Ctx.AggregateID] = a
	}
	r.mu.Unlock()

	a.inbox <- evt
}

func (r *Router) spawn(e3id string) *e3Actor {
	store := r.root.Scope(e3id)
	ctx := &Context{
		Context:    context.Background(),
		E3ID:       e3id,
		Log:        r.log.With("e3_id", e3id),
		Store:      store,
		Buffer:     r.buffer,
		recipients: make(map[string]Extension),
		buffers:    make(map[string][]eventbus.Event),
	}
	specs := r.factory(ctx)

	// Restart hydration: a recipient marker left over from before a
	// restart means this extension was already instantiated and must be
	// reinstalled (with its own Persistable state reloading the rest)
	// before any buffered or live event resumes.
	for _, spec := range specs {
		if _, ok, _ := store.Get(recipientMarker(spec.Name)); ok {
			r.install(ctx, spec, eventbus.Event{})
		}
	}

	a := &e3Actor{ctx: ctx, specs: specs, inbox: make(chan eventbus.Event, 256), done: make(chan struct{})}
	go r.run(a)
	return a
}

// install builds spec's Extension, hydrates it, and records it as the
// live recipient for spec.Name, persisting the marker so a restart
// reinstalls it without waiting for Gate to fire again.
func (r *Router) install(ctx *Context, spec Spec, evt eventbus.Event) Extension {
	ext := spec.Build(ctx, evt)
	ext.Hydrate(ctx)
	ctx.recipients[spec.Name] = ext
	_ = ctx.Store.Insert(recipientMarker(spec.Name), []byte{1})
	return ext
}

func (r *Router) run(a *e3Actor) {
	defer close(a.done)
	for evt := range a.inbox {
		if _, complete := evt.Data.(eventbus.E3RequestComplete); complete {
			r.teardown(a, evt)
			return
		}
		r.handle(a, evt)
	}
}

// handle runs evt through a's specs in two passes, per the router's
// lazy-instantiation contract:
//  1. Every not-yet-installed spec gets a chance to gate on evt and
//     instantiate; newly installed recipients immediately drain whatever
//     this name's EventBuffer accumulated while it was absent.
//  2. evt itself is forwarded to every now-present recipient; for
//     recipients still absent, evt is appended to that name's
//     EventBuffer instead.
func (r *Router) handle(a *e3Actor, evt eventbus.Event) {
	ctx := a.ctx
	for _, spec := range a.specs {
		if ctx.recipients[spec.Name] != nil || !spec.Gate(evt) {
			continue
		}
		ext := r.install(ctx, spec, evt)
		buffered := ctx.buffers[spec.Name]
		delete(ctx.buffers, spec.Name)
		for _, old := range buffered {
			r.deliver(a, spec.Name, ext, old)
		}
	}

	for _, spec := range a.specs {
		ext := ctx.recipients[spec.Name]
		if ext == nil {
			ctx.buffers[spec.Name] = append(ctx.buffers[spec.Name], evt)
			continue
		}
		r.deliver(a, spec.Name, ext, evt)
	}
}

func (r *Router) deliver(a *e3Actor, name string, ext Extension, evt eventbus.Event) {
	spanCtx, span := r.spans.StartExtensionSpan(a.ctx.Context, name, evt.Type())
	derived := ext.OnEvent(a.ctx, evt)
	_ = spanCtx
	r.spans.EndSpanWithError(span, nil)
	for _, d := range derived {
		r.bus.Publish(d)
	}
}

func (r *Router) teardown(a *e3Actor, evt eventbus.Event) {
	for _, spec := range a.specs {
		if ext := a.ctx.recipients[spec.Name]; ext != nil {
			ext.OnEvent(a.ctx, evt)
		}
	}
	if r.buffer != nil {
		_ = r.buffer.CommitSnapshot(a.ctx.E3ID)
	}
	r.mu.Lock()
	delete(r.actors, a.ctx.E3ID)
	r.mu.Unlock()
}

// Shutdown closes every actor's inbox and waits for its goroutine to
// drain.
func (r *Router) Shutdown() {
	r.mu.Lock()
	actors := make([]*e3Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	for _, a := range actors {
		close(a.inbox)
		<-a.done
	}
}
