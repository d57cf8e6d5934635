package eventbus

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	e3err "github.com/ciphermesh/coordinator/pkg/e3/errors"
)

// DefaultDedupSize bounds the bus's "already seen" cache. The coordinator's
// dedup window is necessarily finite; 8192 content-hash ids comfortably
// covers any burst of re-delivered historical or gossip-relayed events
// without growing unbounded, and is overridable via Config.
const DefaultDedupSize = 8192

// ErrorTopic is the subscription type name for KindError deliveries.
const ErrorTopic = "__error__"

// Config tunes a LocalBus.
type Config struct {
	BufferSize int // PipeFilter's forwarding channel size; subscribers size their own channels
	DedupSize  int // 0 uses DefaultDedupSize; negative disables dedup
}

// DefaultConfig is a reasonable buffer/dedup size for a single node.
var DefaultConfig = Config{BufferSize: 256, DedupSize: DefaultDedupSize}

// Subscription lets a caller stop receiving events and observe drops.
type Subscription interface {
	Unsubscribe()
	Dropped() uint64
}

// Bus is the in-process event pub/sub every E3 extension, ingestion
// pipeline and overlay component is wired through.
type Bus interface {
	Publish(evt Event)
	PublishError(err *e3err.KindError)
	Subscribe(types []string, ch chan<- Event) Subscription
	SubscribeAll(ch chan<- Event) Subscription
	SubscribeErrors(ch chan<- *e3err.KindError) Subscription
	Pipe(dst Bus) Subscription
	PipeFilter(dst Bus, keep func(Event) bool) Subscription
	Shutdown()
}

type subscriber struct {
	id       uint64
	ch       chan<- Event
	wildcard bool
	dropped  atomic.Uint64
	closed   atomic.Bool
}

func (s *subscriber) Unsubscribe() { s.closed.Store(true) }
func (s *subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *subscriber) deliver(evt Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped.Add(1)
	}
}

type errSubscriber struct {
	ch      chan<- *e3err.KindError
	dropped atomic.Uint64
	closed  atomic.Bool
}

func (s *errSubscriber) Unsubscribe() { s.closed.Store(true) }
func (s *errSubscriber) Dropped() uint64 { return s.dropped.Load() }

// LocalBus is an in-process Bus with bounded-LRU content-hash dedup.
type LocalBus struct {
	mu         sync.RWMutex
	byType     map[string][]*subscriber
	wildcards  []*subscriber
	errSubs    []*errSubscriber
	nextID     uint64
	closed     atomic.Bool
	bufferSize int

	seen *lru.Cache[string, struct{}]
}

// NewLocalBus constructs a LocalBus from cfg, filling in defaults for zero
// fields.
func NewLocalBus(cfg Config) *LocalBus {
	size := cfg.DedupSize
	if size == 0 {
		size = DefaultDedupSize
	}
	bufSize := cfg.BufferSize
	if bufSize == 0 {
		bufSize = DefaultConfig.BufferSize
	}
	b := &LocalBus{byType: make(map[string][]*subscriber), bufferSize: bufSize}
	if size > 0 {
		cache, err := lru.New[string, struct{}](size)
		if err == nil {
			b.seen = cache
		}
	}
	return b
}

// Publish delivers evt to every matching, non-closed subscriber. A second
// Publish of an Event with the same ID is silently dropped: this is the
// bus's defense against EVM-reader replay and gossip re-delivery producing
// duplicate side effects downstream.
func (b *LocalBus) Publish(evt Event) {
	if b.closed.Load() {
		return
	}
	if b.seen != nil {
		id := evt.ID()
		if _, ok := b.seen.Get(id); ok {
			return
		}
		b.seen.Add(id, struct{}{})
	}

	// Merge typed and wildcard subscribers by id so delivery follows
	// registration order.
	b.mu.RLock()
	typed := b.byType[evt.Type()]
	subs := make([]*subscriber, 0, len(typed)+len(b.wildcards))
	for i, j := 0, 0; i < len(typed) || j < len(b.wildcards); {
		if j >= len(b.wildcards) || (i < len(typed) && typed[i].id < b.wildcards[j].id) {
			subs = append(subs, typed[i])
			i++
		} else {
			subs = append(subs, b.wildcards[j])
			j++
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(evt)
	}
}

// PublishError fans a categorized failure out to every error-topic
// subscriber (the pattern every ingestion/net/compute component uses
// instead of returning an error nobody reads).
func (b *LocalBus) PublishError(err *e3err.KindError) {
	if err == nil || b.closed.Load() {
		return
	}
	b.mu.RLock()
	subs := append([]*errSubscriber{}, b.errSubs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.closed.Load() {
			continue
		}
		select {
		case s.ch <- err:
		default:
			s.dropped.Add(1)
		}
	}
}

func (b *LocalBus) Subscribe(types []string, ch chan<- Event) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, ch: ch}
	for _, t := range types {
		b.byType[t] = append(b.byType[t], s)
	}
	return s
}

func (b *LocalBus) SubscribeAll(ch chan<- Event) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, ch: ch, wildcard: true}
	b.wildcards = append(b.wildcards, s)
	return s
}

func (b *LocalBus) SubscribeErrors(ch chan<- *e3err.KindError) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &errSubscriber{ch: ch}
	b.errSubs = append(b.errSubs, s)
	return s
}

// Pipe subscribes dst to every event b carries, republishing each one on
// dst as it arrives. Used to fan a node-local bus out to a second bus
// (e.g. a gossip translator's outbound side) without every producer
// needing to know about the second bus.
func (b *LocalBus) Pipe(dst Bus) Subscription {
	return b.PipeFilter(dst, nil)
}

// PipeFilter is Pipe with a predicate: only events for which keep returns
// true (or keep == nil) are republished on dst.
func (b *LocalBus) PipeFilter(dst Bus, keep func(Event) bool) Subscription {
	ch := make(chan Event, b.bufferSize)
	inner := b.SubscribeAll(ch)
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case evt := <-ch:
				if keep == nil || keep(evt) {
					dst.Publish(evt)
				}
			case <-stop:
				return
			}
		}
	}()

	return &pipeSubscription{inner: inner, stop: stop}
}

type pipeSubscription struct {
	inner Subscription
	stop  chan struct{}
	once  sync.Once
}

func (p *pipeSubscription) Unsubscribe() {
	p.inner.Unsubscribe()
	p.once.Do(func() { close(p.stop) })
}

func (p *pipeSubscription) Dropped() uint64 { return p.inner.Dropped() }

// Shutdown marks the bus closed; in-flight Publish calls already past the
// closed check still complete but no further Publish takes effect.
func (b *LocalBus) Shutdown() {
	b.closed.Store(true)
}
