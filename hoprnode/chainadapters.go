package hoprnode

import (
	"context"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/chainevents"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/keyresolver"
	"github.com/hoprnet/hopr-core/ticket"
)

// ChainClient is the on-chain lookup/mutation surface a real indexer and
// contract client provide (§1 places the indexer itself out of scope; a
// node is only ever handed one of these, never builds one). It is
// chain.ChannelLedger minus Events, since event delivery is resolved once,
// centrally, by chainevents.Dispatcher instead of per-consumer.
type ChainClient interface {
	Channel(ctx context.Context, id ticket.ChannelID) (chain.Entry, bool, error)
	ChannelTo(ctx context.Context, source, destination crypto.Address) (chain.Entry, bool, error)
	MinimumWinProb(ctx context.Context) (ticket.WinProb, error)
	MinimumTicketPrice(ctx context.Context) (ticket.Amount, error)
	Redeem(ctx context.Context, t ticket.Ticket, response [32]byte, vrfProof []byte) error
	AggregateAndRedeem(ctx context.Context, agg ticket.Ticket, responses [][32]byte, vrfProofs [][]byte) error
}

// IdentityClient is the on-chain identity-directory lookup surface,
// keyresolver.Source minus Events for the same reason as ChainClient.
type IdentityClient interface {
	PacketKeyOf(ctx context.Context, addr crypto.Address) (crypto.PacketKeyPub, bool, error)
	ChainKeyOf(ctx context.Context, pub crypto.PacketKeyPub) (crypto.Address, bool, error)
}

// dispatcherLedger adapts a ChainClient plus the shared chainevents.
// Dispatcher into a full chain.ChannelLedger, resolving §9 open question 8:
// one underlying indexer subscription (fed into the Dispatcher once by the
// node) serves both this ledger's Events and identitySource's Events below.
type dispatcherLedger struct {
	ChainClient
	dispatcher *chainevents.Dispatcher
}

func (l *dispatcherLedger) Events(ctx context.Context) (<-chan chain.Event, error) {
	return l.dispatcher.SubscribeChannels(ctx), nil
}

// dispatcherIdentitySource adapts an IdentityClient plus the shared
// Dispatcher into a full keyresolver.Source.
type dispatcherIdentitySource struct {
	IdentityClient
	dispatcher *chainevents.Dispatcher
}

func (s *dispatcherIdentitySource) Events(ctx context.Context) (<-chan keyresolver.Event, error) {
	return s.dispatcher.SubscribeIdentities(ctx), nil
}
