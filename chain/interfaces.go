package chain

import (
	"context"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/ticket"
)

// ChannelLedger is the interface boundary onto the on-chain indexer/RPC
// client collapsed from the original source's deeply generic connector
// traits (§9). All of it is out of scope as an implementation (§1); the
// core only needs to read and await finality on it.
type ChannelLedger interface {
	// Channel returns the current Entry for a channel, or ok=false if no
	// such channel is known.
	Channel(ctx context.Context, id ticket.ChannelID) (entry Entry, ok bool, err error)

	// ChannelTo resolves the open channel (if any) from source to
	// destination.
	ChannelTo(ctx context.Context, source, destination crypto.Address) (entry Entry, ok bool, err error)

	// MinimumWinProb returns the network-wide minimum acceptable ticket
	// win probability (§4.1).
	MinimumWinProb(ctx context.Context) (ticket.WinProb, error)

	// MinimumTicketPrice returns the network-wide minimum per-index-unit
	// ticket price (§4.1).
	MinimumTicketPrice(ctx context.Context) (ticket.Amount, error)

	// Redeem submits redeem(ticket, response, vrf_proof) and blocks until
	// the transaction reaches finality (§6).
	Redeem(ctx context.Context, t ticket.Ticket, response [32]byte, vrfProof []byte) error

	// AggregateAndRedeem submits aggregate_and_redeem(...) for a span of
	// tickets and blocks until finality (§6).
	AggregateAndRedeem(ctx context.Context, agg ticket.Ticket, responses [][32]byte, vrfProofs [][]byte) error

	// Events returns a channel of finalized lifecycle events. The
	// ChannelLedger owns the channel's lifetime; callers must drain it
	// until it is closed.
	Events(ctx context.Context) (<-chan Event, error)
}

// KeyResolver is the ChainKey↔PacketKey bijection contract (§3, §4.5),
// collapsed to a single interface per §9's design notes.
type KeyResolver interface {
	// PacketKeyOf resolves a ChainKey to its current PacketKey.
	PacketKeyOf(ctx context.Context, addr crypto.Address) (crypto.PacketKeyPub, bool, error)

	// ChainKeyOf resolves a PacketKey to its owning ChainKey address.
	ChainKeyOf(ctx context.Context, pub crypto.PacketKeyPub) (crypto.Address, bool, error)
}

// The ticket store contract lives in package ticket (ticket.Store) rather
// than here, since this package already depends on ticket for its wire
// types; ChannelLedger's Redeem/AggregateAndRedeem methods above satisfy
// ticket.Redeemer structurally, with no import back into this package.
