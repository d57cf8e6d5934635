// Package net implements the gossip overlay nodes use to exchange events:
// a libp2p host + gossipsub topic wrapped behind a small command/event
// interface, an exponential-backoff dialer, a bus<->gossip translator with
// chunked-payload support for events too large for one gossip message, and
// a sync manager answering "send me everything since t" requests from
// peers that missed history.
package net

import (
	"context"

	"github.com/libp2p/go-libp2p-pubsub"
)

// Command is sent to Interface.Tx to drive the overlay.
type Command interface{ isCommand() }

// Publish asks the overlay to gossip raw bytes on the shared topic.
type Publish struct{ Data []byte }

func (Publish) isCommand() {}

// Dial names a peer multiaddr to connect to. Interface.Run does not act on
// it (connections are made through Dialer); a Dial sent on Tx is dropped.
type Dial struct{ Addr string }

func (Dial) isCommand() {}

// Event is delivered on Interface.Rx for every gossip message received
// (Run drops messages whose sender is this node's own selfID).
type Event struct {
	From []byte
	Data []byte
}

// Interface is the command/event boundary every higher-level overlay
// component (Translator, SyncManager) is built on, keeping libp2p's API
// out of the rest of the module.
type Interface struct {
	Tx chan Command
	Rx chan Event

	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewInterface wraps an already-joined gossipsub topic/subscription pair.
func NewInterface(topic *pubsub.Topic, sub *pubsub.Subscription) *Interface {
	iface := &Interface{
		Tx:    make(chan Command, 64),
		Rx:    make(chan Event, 256),
		topic: topic,
		sub:   sub,
	}
	return iface
}

// Run drains Tx (publishing to the topic) and the subscription (delivering
// to Rx) until ctx is cancelled.
func (i *Interface) Run(ctx context.Context, selfID []byte) {
	go func() {
		for {
			msg, err := i.sub.Next(ctx)
			if err != nil {
				return
			}
			if string(msg.ReceivedFrom) == string(selfID) {
				continue
			}
			select {
			case i.Rx <- Event{From: []byte(msg.ReceivedFrom), Data: msg.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-i.Tx:
			switch c := cmd.(type) {
			case Publish:
				_ = i.topic.Publish(ctx, c.Data)
			}
		}
	}
}
