// Package packet implements the Sphinx packet processor (§4.1, component
// C3): building and validating outgoing packets, peeling one layer off an
// incoming packet, and producing/consuming the per-hop acknowledgements
// that drive the Proof-of-Relay. It is pure protocol logic — dialing peers
// and moving bytes over a wire is the caller's concern, mirroring how
// htlcswitch/hop's OnionProcessor stays separate from the Switch that owns
// links.
package packet

import (
	"context"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/ticket"
)

// RouteHop is one entry of a caller-supplied forward path (the "routing"
// argument to send_data in §4.1): which node to route through and the
// on-chain channel that funds the ticket issued to it.
type RouteHop struct {
	PacketKey crypto.PacketKeyPub
	Channel   ticket.ChannelID
}

// KeyIDResolver is the bijection between a Sphinx KeyID (the compact
// per-hop identity carried inside a routing payload, §4.5) and the
// PacketKeyPub it stands for. A production node backs this with the
// network-wide identity directory; tests can back it with a static map.
type KeyIDResolver interface {
	KeyIDFor(ctx context.Context, pub crypto.PacketKeyPub) (sphinx.KeyID, error)
	ResolveKeyID(ctx context.Context, id sphinx.KeyID) (crypto.PacketKeyPub, error)
}

// OutgoingPacket is the result of a successful send_data call: wire bytes
// ready to hand to the transport addressed at the first hop, plus the
// bookkeeping the caller (typically the session layer) needs to correlate a
// later Acknowledgement with this send.
type OutgoingPacket struct {
	FirstHop crypto.PacketKeyPub
	Bytes    []byte

	// Challenge is the PoR challenge this send issued to the first hop,
	// for callers that want to track acknowledgement progress without
	// re-deriving it.
	Challenge ticket.Challenge
}

// IncomingOutcome classifies what recv_data did with an inbound packet.
type IncomingOutcome int

const (
	// OutcomeFinal indicates this node is the packet's exit hop.
	OutcomeFinal IncomingOutcome = iota

	// OutcomeForwarded indicates the packet was validated and re-wrapped
	// for the next hop.
	OutcomeForwarded
)

// IncomingPacket is the result of a successful recv_data call.
type IncomingPacket struct {
	Outcome IncomingOutcome

	// Populated when Outcome == OutcomeFinal.
	Plaintext     []byte
	Pseudonym     crypto.Pseudonym
	AttachedSurbs [][]byte

	// Populated when Outcome == OutcomeForwarded.
	NextHop crypto.PacketKeyPub
	Bytes   []byte

	// AckToSend is always populated (both outcomes, and also alongside a
	// KindTicketInvalid error): the acknowledgement this node owes the
	// previous hop, addressed to it.
	AckToSend Acknowledgement
}

// AckOutcome classifies the result of recv_ack (§4.1 AckResult). recv_ack
// always resolves a ticket this node itself issued, whether as the
// packet's original sender or as a relay that issued the next leg's
// ticket while forwarding (§4.2): the only thing that varies is whether
// the revealed half-key beat the channel's win probability.
type AckOutcome int

const (
	// AckWinning indicates the resulting PoR response beat the channel's
	// win probability; the resolved ticket is now eligible for
	// aggregation or redemption.
	AckWinning AckOutcome = iota

	// AckLosing indicates the PoR response did not win.
	AckLosing
)

// AckResult is the outcome of recv_ack: which ticket the acknowledgement
// resolved and whether it turned out to win the channel's PoR check.
type AckResult struct {
	Ack    AckOutcome
	Ticket ticket.Ticket
}
