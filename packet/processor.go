package packet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/replay"
	"github.com/hoprnet/hopr-core/ticket"
)

// Processor is the Sphinx packet processor (§4.1, component C3): it owns
// this node's long-term identities and is the single place send_data,
// recv_data, send_ack and recv_ack are implemented, composed entirely over
// already-independent primitives (crypto/sphinx, crypto/por, ticket, chain,
// replay) rather than owning any state of its own beyond those references,
// mirroring how htlcswitch/hop's OnionProcessor wraps a *sphinx.Router
// without itself tracking link or channel state.
type Processor struct {
	packetKey *crypto.PacketKeyPriv
	chainKey  *crypto.ChainKey

	ledger   chain.ChannelLedger
	resolver chain.KeyResolver
	keyIDs   KeyIDResolver
	tickets  *ticket.Manager
	replay   *replay.Filter
	surbs    SurbStore
}

// NewProcessor constructs a Processor. packetKey and chainKey are this
// node's own long-term identities; the remaining dependencies are shared,
// already-constructed collaborators owned by the caller. surbs resolves
// stored SURB material for send_data's Return variant (SendReply).
func NewProcessor(packetKey *crypto.PacketKeyPriv, chainKey *crypto.ChainKey,
	ledger chain.ChannelLedger, resolver chain.KeyResolver, keyIDs KeyIDResolver,
	tickets *ticket.Manager, filter *replay.Filter, surbs SurbStore) *Processor {

	return &Processor{
		packetKey: packetKey,
		chainKey:  chainKey,
		ledger:    ledger,
		resolver:  resolver,
		keyIDs:    keyIDs,
		tickets:   tickets,
		replay:    filter,
		surbs:     surbs,
	}
}

// compressPoint serializes an EC point to its fixed-width wire commitment.
func compressPoint(p *btcec.PublicKey) [sphinx.HalfKeyPointSize]byte {
	var out [sphinx.HalfKeyPointSize]byte
	copy(out[:], p.SerializeCompressed())
	return out
}

// decompressPoint is the inverse of compressPoint.
func decompressPoint(b [sphinx.HalfKeyPointSize]byte) (*btcec.PublicKey, error) {
	p, err := btcec.ParsePubKey(b[:])
	if err != nil {
		return nil, fmt.Errorf("packet: parse half-key commitment: %w", err)
	}
	return p, nil
}

// issueTicket builds and signs a fresh ticket on the given channel, pricing
// and bounding it against the network minimums and the unrealized-value
// invariant (§3 invariant 4, §4.1). The caller supplies the challenge; every
// other field is derived from chain state and the local index cursor.
func (p *Processor) issueTicket(ctx context.Context, channel ticket.ChannelID,
	challenge ticket.Challenge) (ticket.Ticket, error) {

	entry, ok, err := p.ledger.Channel(ctx, channel)
	if err != nil {
		return ticket.Ticket{}, newErr(KindResolverTimeout, "resolve channel", err)
	}
	if !ok || entry.Status != chain.StatusOpen {
		return ticket.Ticket{}, newErr(KindChannelNotFound, "channel is not open", nil)
	}

	minWinProb, err := p.ledger.MinimumWinProb(ctx)
	if err != nil {
		return ticket.Ticket{}, newErr(KindResolverTimeout, "resolve minimum win_prob", err)
	}

	minPrice, err := p.ledger.MinimumTicketPrice(ctx)
	if err != nil {
		return ticket.Ticket{}, newErr(KindResolverTimeout, "resolve minimum ticket price", err)
	}

	idx, err := p.tickets.NextIndex(ctx, channel, entry.Epoch)
	if err != nil {
		return ticket.Ticket{}, newErr(KindInvalidState, "allocate next index", err)
	}

	if err := p.tickets.CheckUnrealized(ctx, channel, entry.Epoch, minPrice, entry.Balance); err != nil {
		return ticket.Ticket{}, newErr(KindOutOfFunds, "issuing this ticket would exceed channel balance", err)
	}

	t := ticket.Ticket{
		ChannelID:    channel,
		Amount:       minPrice,
		Index:        idx,
		IndexOffset:  1,
		WinProb:      minWinProb,
		ChannelEpoch: entry.Epoch,
		Challenge:    challenge,
	}

	if err := t.Sign(p.chainKey); err != nil {
		return ticket.Ticket{}, newErr(KindInvalidState, "sign ticket", err)
	}

	return t, nil
}
