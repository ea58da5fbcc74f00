package packet

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/por"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/replay"
	"github.com/hoprnet/hopr-core/ticket"
)

// SurbSize is the fixed per-SURB size RecvData passes to DecodeFinalPayload
// to split a final payload's attached SURBs.
const SurbSize = 32

// RecvData peels one Sphinx layer off an inbound wire message received from
// previousHop (§4.1 recv_data): it rejects replays, validates the ticket
// previousHop attached against the PoR challenge embedded in the onion, and
// either surfaces the packet's plaintext (this node is the exit) or
// re-wraps it with a freshly issued ticket for the next hop.
func (p *Processor) RecvData(ctx context.Context, previousHop crypto.PacketKeyPub,
	wire []byte) (IncomingPacket, error) {

	fm, err := DecodeForwardMessage(wire)
	if err != nil {
		return IncomingPacket{}, newErr(KindUndecodable, "decode forward message", err)
	}

	switch res, err := p.replay.CheckAndSet(fm.Packet.Tag); {
	case err != nil:
		return IncomingPacket{}, newErr(KindUndecodable, "replay filter unavailable", err)
	case res == replay.Replay:
		return IncomingPacket{}, newErr(KindBloomReplay, "packet tag already seen", nil)
	}

	result, err := sphinx.Unwrap(p.packetKey, fm.Packet)
	if err != nil {
		return IncomingPacket{}, newErr(KindUndecodable, "sphinx unwrap failed", err)
	}

	ownHalfKey := por.HalfKeyFromSecret(result.Shared)

	var issuerPointBytes [sphinx.HalfKeyPointSize]byte
	var finalPayload sphinx.FinalPayload
	if result.Final {
		finalPayload, err = sphinx.DecodeFinalPayload(result.FinalPayload, SurbSize)
		if err != nil {
			return IncomingPacket{}, newErr(KindUndecodable, "decode final payload", err)
		}
		issuerPointBytes = finalPayload.IssuerHalfKeyPoint
	} else {
		issuerPointBytes = result.HopPayload.IssuerHalfKeyPoint
	}

	// A 0-hop direct send (§4.1 send_data) never issues a first-hop
	// ticket, since its single hop is also the exit and only relayers get
	// paid; the wire carries a zero-value Ticket in that case instead.
	// Only the Final outcome ever sees one, since a forwarding hop always
	// issues a real ticket for whatever it sends onward.
	if !(result.Final && fm.Ticket == (ticket.Ticket{})) {
		issuerPoint, err := decompressPoint(issuerPointBytes)
		if err != nil {
			return IncomingPacket{}, newErr(KindUndecodable, "decode issuer half-key commitment", err)
		}

		if err := p.validateInboundTicket(ctx, fm.Ticket, issuerPoint, ownHalfKey); err != nil {
			if perr, ok := err.(*Error); ok && perr.Kind == KindTicketInvalid {
				ack, ackErr := SignAcknowledgement(p.chainKey, ownHalfKey, previousHop)
				if ackErr != nil {
					return IncomingPacket{}, newErr(KindInvalidState, "sign acknowledgement", ackErr)
				}
				return IncomingPacket{AckToSend: ack}, err
			}
			return IncomingPacket{}, err
		}
	}

	ack, err := SignAcknowledgement(p.chainKey, ownHalfKey, previousHop)
	if err != nil {
		return IncomingPacket{}, newErr(KindInvalidState, "sign acknowledgement", err)
	}

	if result.Final {
		return IncomingPacket{
			Outcome:       OutcomeFinal,
			Plaintext:     finalPayload.Plaintext,
			Pseudonym:     finalPayload.Pseudonym,
			AttachedSurbs: finalPayload.Surbs,
			AckToSend:     ack,
		}, nil
	}

	hp := result.HopPayload

	nextHopKey, err := p.keyIDs.ResolveKeyID(ctx, hp.NextHop)
	if err != nil {
		return IncomingPacket{}, newErr(KindResolverTimeout, "resolve next hop key id", err)
	}

	nextHopPoint, err := decompressPoint(hp.NextHopHalfKeyPoint)
	if err != nil {
		return IncomingPacket{}, newErr(KindUndecodable, "decode next-hop half-key commitment", err)
	}

	nextChannel, ok, err := p.channelTo(ctx, nextHopKey)
	if err != nil {
		return IncomingPacket{}, err
	}
	if !ok {
		return IncomingPacket{}, newErr(KindChannelNotFound, "no open channel to next hop", nil)
	}

	nextChallenge := por.ChallengeFor(ownHalfKey, nextHopPoint)

	nextTicket, err := p.issueTicket(ctx, nextChannel, nextChallenge)
	if err != nil {
		return IncomingPacket{}, err
	}

	if err := p.tickets.StoreUnacknowledged(ctx, nextTicket, ownHalfKey); err != nil {
		return IncomingPacket{}, newErr(KindInvalidState, "store unacknowledged ticket", err)
	}

	outWire, err := ForwardMessage{Packet: result.Next, Ticket: nextTicket}.Encode()
	if err != nil {
		return IncomingPacket{}, newErr(KindInvalidState, "encode forward message", err)
	}

	return IncomingPacket{
		Outcome:   OutcomeForwarded,
		NextHop:   nextHopKey,
		Bytes:     outWire,
		AckToSend: ack,
	}, nil
}

// validateInboundTicket checks an incoming ticket against the conjunctive
// rule in §4.1: the PoR challenge must match the half-key commitments
// carried in the packet header, the signature must recover to the channel's
// recorded source, the channel must be open at the ticket's declared epoch
// and actually pay this node, and the ticket manager's own signature/
// win_prob/price/index-reuse and unrealized-value checks must pass.
func (p *Processor) validateInboundTicket(ctx context.Context, t ticket.Ticket,
	issuerPoint *btcec.PublicKey, ownHalfKey por.HalfKey) error {

	if t.Challenge != por.CombinePoints(issuerPoint, ownHalfKey.PublicPoint()) {
		return newErr(KindTicketInvalid, "ticket challenge does not match packet header", nil)
	}

	issuerPub, err := t.RecoverIssuer()
	if err != nil {
		return newErr(KindTicketInvalid, "recover ticket issuer", err)
	}

	entry, ok, err := p.ledger.Channel(ctx, t.ChannelID)
	if err != nil {
		return newErr(KindResolverTimeout, "resolve channel", err)
	}
	if !ok {
		return newErr(KindChannelNotFound, "unknown channel", nil)
	}
	if entry.Status != chain.StatusOpen {
		return newErr(KindTicketInvalid, "channel is not open", nil)
	}
	if entry.Epoch != t.ChannelEpoch {
		return newErr(KindTicketInvalid, "ticket channel epoch does not match current epoch", nil)
	}
	if entry.Destination != p.chainKey.Address() {
		return newErr(KindTicketInvalid, "ticket is not payable to this node", nil)
	}
	if crypto.AddressFromPubKey(issuerPub) != entry.Source {
		return newErr(KindTicketInvalid, "ticket issuer does not match channel source", nil)
	}

	minWinProb, err := p.ledger.MinimumWinProb(ctx)
	if err != nil {
		return newErr(KindResolverTimeout, "resolve minimum win_prob", err)
	}
	minPrice, err := p.ledger.MinimumTicketPrice(ctx)
	if err != nil {
		return newErr(KindResolverTimeout, "resolve minimum ticket price", err)
	}
	if t.Amount.Uint64() < minPrice.Uint64()*uint64(t.IndexOffset) {
		return newErr(KindTicketInvalid, "ticket amount below price times index offset", nil)
	}

	if err := p.tickets.ValidateIncoming(ctx, t, issuerPub, minWinProb, minPrice); err != nil {
		return newErr(KindTicketInvalid, "ticket failed validation", err)
	}

	if err := p.tickets.CheckUnrealized(ctx, t.ChannelID, entry.Epoch, t.Amount, entry.Balance); err != nil {
		return newErr(KindTicketInvalid, "ticket would exceed unrealized value", err)
	}

	return nil
}

// channelTo resolves the open channel this node funds toward nextHop, the
// channel the ticket this node is about to issue will be drawn against.
func (p *Processor) channelTo(ctx context.Context, nextHop crypto.PacketKeyPub) (ticket.ChannelID, bool, error) {
	destAddr, ok, err := p.resolver.ChainKeyOf(ctx, nextHop)
	if err != nil {
		return ticket.ChannelID{}, false, newErr(KindResolverTimeout, "resolve next hop chain key", err)
	}
	if !ok {
		return ticket.ChannelID{}, false, nil
	}

	entry, ok, err := p.ledger.ChannelTo(ctx, p.chainKey.Address(), destAddr)
	if err != nil {
		return ticket.ChannelID{}, false, newErr(KindResolverTimeout, "resolve channel", err)
	}
	if !ok {
		return ticket.ChannelID{}, false, nil
	}

	return entry.ChannelID, true, nil
}

// RecvAck consumes an Acknowledgement revealing the half-key for a ticket
// this node itself issued — whether as the packet's original sender or as a
// relay that issued the next leg's ticket while forwarding (§4.1 recv_ack).
// The caller supplies the Challenge the acknowledgement resolves, since
// that correlation (which outstanding send or forward this ack answers) is
// session-level bookkeeping the processor itself does not track.
func (p *Processor) RecvAck(ctx context.Context, from crypto.PacketKeyPub,
	challenge ticket.Challenge, ack Acknowledgement) (AckResult, error) {

	issuerPub, err := ack.RecoverIssuer(p.packetKey.Public())
	if err != nil {
		return AckResult{}, newErr(KindInvalidState, "recover acknowledgement signer", err)
	}

	expectedAddr, ok, err := p.resolver.ChainKeyOf(ctx, from)
	if err != nil {
		return AckResult{}, newErr(KindResolverTimeout, "resolve chain key", err)
	}
	if !ok || crypto.AddressFromPubKey(issuerPub) != expectedAddr {
		return AckResult{}, newErr(KindInvalidState, "acknowledgement signer does not match expected peer", nil)
	}

	result, err := p.tickets.Acknowledge(ctx, challenge, ack.HalfKey)
	if err != nil {
		return AckResult{}, newErr(KindInvalidState, "acknowledge ticket", err)
	}

	outcome := AckLosing
	if result.Winning {
		outcome = AckWinning
	}

	return AckResult{Ack: outcome, Ticket: result.Ticket}, nil
}
