package memstore

import (
	"context"
	"sync"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/ticket"
)

type sourceDest struct {
	source, destination crypto.Address
}

// Ledger is an in-memory chain.ChannelLedger for tests and local
// development: channels are set directly by the caller via Put/Close rather
// than discovered from an indexer, and Events replays whatever the caller
// pushes through Emit.
type Ledger struct {
	mu             sync.Mutex
	byID           map[ticket.ChannelID]chain.Entry
	byParty        map[sourceDest]chain.Entry
	minWinProb     ticket.WinProb
	minTicketPrice ticket.Amount

	subsMu sync.Mutex
	subs   []chan chain.Event
}

// NewLedger constructs an empty Ledger with the given network-wide minimums.
func NewLedger(minWinProb ticket.WinProb, minTicketPrice ticket.Amount) *Ledger {
	return &Ledger{
		byID:           make(map[ticket.ChannelID]chain.Entry),
		byParty:        make(map[sourceDest]chain.Entry),
		minWinProb:     minWinProb,
		minTicketPrice: minTicketPrice,
	}
}

// Put inserts or replaces a channel entry, as a test fixture would, without
// emitting an event.
func (l *Ledger) Put(e chain.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID[e.ChannelID] = e
	l.byParty[sourceDest{e.Source, e.Destination}] = e
}

// Emit pushes ev to the ledger's own table (mirroring the mutation the event
// describes) and fans it out to every current Events subscriber.
func (l *Ledger) Emit(ev chain.Event) {
	l.mu.Lock()
	if ev.Kind == chain.EventClosed {
		if e, ok := l.byID[ev.ChannelID]; ok {
			delete(l.byParty, sourceDest{e.Source, e.Destination})
		}
		delete(l.byID, ev.ChannelID)
	} else {
		l.byID[ev.ChannelID] = ev.Entry
		l.byParty[sourceDest{ev.Entry.Source, ev.Entry.Destination}] = ev.Entry
	}
	l.mu.Unlock()

	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for _, sub := range l.subs {
		select {
		case sub <- ev:
		default:
			<-sub
			sub <- ev
		}
	}
}

// Channel implements chain.ChannelLedger.
func (l *Ledger) Channel(_ context.Context, id ticket.ChannelID) (chain.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	return e, ok, nil
}

// ChannelTo implements chain.ChannelLedger.
func (l *Ledger) ChannelTo(_ context.Context, source, destination crypto.Address) (chain.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byParty[sourceDest{source, destination}]
	return e, ok, nil
}

// MinimumWinProb implements chain.ChannelLedger.
func (l *Ledger) MinimumWinProb(context.Context) (ticket.WinProb, error) {
	return l.minWinProb, nil
}

// MinimumTicketPrice implements chain.ChannelLedger.
func (l *Ledger) MinimumTicketPrice(context.Context) (ticket.Amount, error) {
	return l.minTicketPrice, nil
}

// Redeem implements chain.ChannelLedger as a no-op that records nothing
// beyond success; callers that need to assert on redemption should inspect
// the ledger's table via Channel after calling Emit themselves.
func (l *Ledger) Redeem(context.Context, ticket.Ticket, [32]byte, []byte) error {
	return nil
}

// AggregateAndRedeem implements chain.ChannelLedger as a no-op, mirroring
// Redeem.
func (l *Ledger) AggregateAndRedeem(context.Context, ticket.Ticket, [][32]byte, [][]byte) error {
	return nil
}

// Events implements chain.ChannelLedger: it registers a buffered channel
// that receives every Event passed to Emit until ctx is cancelled.
func (l *Ledger) Events(ctx context.Context) (<-chan chain.Event, error) {
	sub := make(chan chain.Event, 16)

	l.subsMu.Lock()
	l.subs = append(l.subs, sub)
	l.subsMu.Unlock()

	go func() {
		<-ctx.Done()

		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		for i, s := range l.subs {
			if s == sub {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
		close(sub)
	}()

	return sub, nil
}
