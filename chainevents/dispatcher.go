// Package chainevents turns a single on-chain indexer subscription into the
// two materially different notification streams the core consumes: channel
// lifecycle events (chain.Event, §6) and identity-directory events
// (keyresolver.Event, §4.5/§9 open question 8). Both the payment-channel
// registry and the identity-announcement registry live on the same
// contract deployment in production, so a real indexer naturally emits one
// interleaved log of raw events; this package is the fan-out point that
// keeps that interleaving from leaking into chain.ChannelLedger or
// keyresolver.Source, which must never see each other's event kind.
package chainevents

import (
	"context"
	"sync"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/keyresolver"
)

// RawKind enumerates every event kind the underlying indexer subscription
// can emit, before this package splits them by consumer.
type RawKind int

const (
	RawChannelOpened RawKind = iota
	RawChannelBalanceChanged
	RawChannelClosureInitiated
	RawChannelClosed
	RawChannelEpochBumped
	RawIdentityAnnounced
	RawIdentityForgotten
)

// RawEvent is one log entry from the underlying indexer subscription.
// Channel-kind events populate Channel; identity-kind events populate
// ChainKey/PacketKey. A RawEvent never populates both.
type RawEvent struct {
	Kind      RawKind
	Channel   chain.Entry
	ChainKey  crypto.Address
	PacketKey crypto.PacketKeyPub
}

// RawSource is the single underlying subscription this package fans out
// from, collapsed to one method per §9's design notes the same way
// chain.ChannelLedger and keyresolver.Source are.
type RawSource interface {
	Events(ctx context.Context) (<-chan RawEvent, error)
}

const subscriberBuffer = 64

// Dispatcher subscribes to a RawSource once and republishes translated
// events to any number of channel-event and identity-event subscribers. A
// subscriber whose channel is full has its oldest pending event dropped
// rather than blocking the dispatch loop, since every consumer here
// (cache.ChannelLedger, keyresolver.Resolver) treats a missed invalidation
// as merely a stale-cache-entry risk, not a correctness failure — the next
// read-through still reaches the authoritative backend.
type Dispatcher struct {
	source RawSource

	mu           sync.Mutex
	channelSubs  []chan chain.Event
	identitySubs []chan keyresolver.Event
}

// NewDispatcher constructs a Dispatcher over the given raw subscription.
func NewDispatcher(source RawSource) *Dispatcher {
	return &Dispatcher{source: source}
}

// SubscribeChannels registers a new channel-lifecycle-event subscriber.
// The returned channel is closed when ctx is cancelled.
func (d *Dispatcher) SubscribeChannels(ctx context.Context) <-chan chain.Event {
	ch := make(chan chain.Event, subscriberBuffer)

	d.mu.Lock()
	d.channelSubs = append(d.channelSubs, ch)
	d.mu.Unlock()

	go d.unsubscribeChannelsOnDone(ctx, ch)
	return ch
}

func (d *Dispatcher) unsubscribeChannelsOnDone(ctx context.Context, ch chan chain.Event) {
	<-ctx.Done()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, sub := range d.channelSubs {
		if sub == ch {
			d.channelSubs = append(d.channelSubs[:i], d.channelSubs[i+1:]...)
			close(ch)
			return
		}
	}
}

// SubscribeIdentities registers a new identity-directory-event subscriber.
// The returned channel is closed when ctx is cancelled.
func (d *Dispatcher) SubscribeIdentities(ctx context.Context) <-chan keyresolver.Event {
	ch := make(chan keyresolver.Event, subscriberBuffer)

	d.mu.Lock()
	d.identitySubs = append(d.identitySubs, ch)
	d.mu.Unlock()

	go d.unsubscribeIdentitiesOnDone(ctx, ch)
	return ch
}

func (d *Dispatcher) unsubscribeIdentitiesOnDone(ctx context.Context, ch chan keyresolver.Event) {
	<-ctx.Done()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, sub := range d.identitySubs {
		if sub == ch {
			d.identitySubs = append(d.identitySubs[:i], d.identitySubs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Run drains the raw subscription and fans each event out to every current
// subscriber of the matching kind, until ctx is cancelled or the raw
// subscription closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	raw, err := d.source.Events(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-raw:
			if !ok {
				return nil
			}
			d.dispatch(ev)
		}
	}
}

func (d *Dispatcher) dispatch(ev RawEvent) {
	switch ev.Kind {
	case RawChannelOpened, RawChannelBalanceChanged, RawChannelClosureInitiated,
		RawChannelClosed, RawChannelEpochBumped:

		d.publishChannel(translateChannel(ev))

	case RawIdentityAnnounced, RawIdentityForgotten:
		d.publishIdentity(translateIdentity(ev))
	}
}

func translateChannel(ev RawEvent) chain.Event {
	kind := map[RawKind]chain.EventKind{
		RawChannelOpened:           chain.EventOpened,
		RawChannelBalanceChanged:   chain.EventBalanceChanged,
		RawChannelClosureInitiated: chain.EventClosureInitiated,
		RawChannelClosed:           chain.EventClosed,
		RawChannelEpochBumped:      chain.EventEpochBumped,
	}[ev.Kind]

	return chain.Event{Kind: kind, ChannelID: ev.Channel.ChannelID, Entry: ev.Channel}
}

func translateIdentity(ev RawEvent) keyresolver.Event {
	kind := keyresolver.Forgotten
	if ev.Kind == RawIdentityAnnounced {
		kind = keyresolver.Announced
	}

	return keyresolver.Event{Kind: kind, ChainKey: ev.ChainKey, PacketKey: ev.PacketKey}
}

func (d *Dispatcher) publishChannel(ev chain.Event) {
	d.mu.Lock()
	subs := append([]chan chain.Event(nil), d.channelSubs...)
	d.mu.Unlock()

	for _, sub := range subs {
		offerOrDropOldest(sub, ev)
	}
}

func (d *Dispatcher) publishIdentity(ev keyresolver.Event) {
	d.mu.Lock()
	subs := append([]chan keyresolver.Event(nil), d.identitySubs...)
	d.mu.Unlock()

	for _, sub := range subs {
		offerOrDropOldestIdentity(sub, ev)
	}
}

func offerOrDropOldest(ch chan chain.Event, ev chain.Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- ev:
	default:
	}
}

func offerOrDropOldestIdentity(ch chan keyresolver.Event, ev keyresolver.Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- ev:
	default:
	}
}
