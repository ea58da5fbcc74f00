package packet

import (
	"context"
	"crypto/rand"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/por"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/ticket"
)

// SendData builds a fresh Sphinx packet along path, embedding a signed
// ticket for the first hop and the half-key commitments every subsequent
// relay needs to both validate its own inbound ticket and issue the next
// one onward (§4.1 send_data). path's last entry is the packet's exit; the
// rest are relays, each paying the one before it for forwarding.
func (p *Processor) SendData(ctx context.Context, path []RouteHop, pseudonym crypto.Pseudonym,
	payload []byte, surbs [][]byte) (OutgoingPacket, error) {

	if len(path) == 0 {
		return OutgoingPacket{}, newErr(KindInvalidState, "send_data requires at least one hop", nil)
	}
	if len(path)-1 > sphinx.MaxRelays {
		return OutgoingPacket{}, newErr(KindInvalidState, "path exceeds the network's maximum hop budget", nil)
	}

	var sessionScalar [32]byte
	if _, err := rand.Read(sessionScalar[:]); err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "generate session scalar", err)
	}

	relays := path[:len(path)-1]
	exit := path[len(path)-1]

	relayKeys := make([]crypto.PacketKeyPub, len(relays))
	for i, hop := range relays {
		relayKeys[i] = hop.PacketKey
	}

	hopSecrets, err := sphinx.DeriveSecrets(sessionScalar, relayKeys, exit.PacketKey)
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "derive per-hop secrets", err)
	}

	halfKeys := make([]por.HalfKey, len(hopSecrets))
	for i, s := range hopSecrets {
		halfKeys[i] = por.HalfKeyFromSecret(s.Shared)
	}

	senderHalfKey, err := por.GenerateHalfKey()
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "generate sender half-key", err)
	}

	var challenge ticket.Challenge
	var firstTicket ticket.Ticket

	// A 0-hop direct send has no relay to pay: the exit is the first and
	// only hop, so no ticket is issued and the unrealized-value invariant
	// is untouched.
	if len(relays) > 0 {
		challenge = por.ChallengeFor(senderHalfKey, halfKeys[0].PublicPoint())

		firstTicket, err = p.issueTicket(ctx, path[0].Channel, challenge)
		if err != nil {
			return OutgoingPacket{}, err
		}

		if err := p.tickets.StoreUnacknowledged(ctx, firstTicket, senderHalfKey); err != nil {
			return OutgoingPacket{}, newErr(KindInvalidState, "store unacknowledged ticket", err)
		}
	}

	relayHops := make([]sphinx.Hop, len(relays))
	for i, hop := range relays {
		nextKeyID, err := p.keyIDs.KeyIDFor(ctx, path[i+1].PacketKey)
		if err != nil {
			return OutgoingPacket{}, newErr(KindResolverTimeout, "resolve next hop key id", err)
		}

		hp := sphinx.HopPayload{NextHop: nextKeyID}
		if i == 0 {
			hp.IssuerHalfKeyPoint = compressPoint(senderHalfKey.PublicPoint())
		} else {
			hp.IssuerHalfKeyPoint = compressPoint(halfKeys[i-1].PublicPoint())
		}
		hp.NextHopHalfKeyPoint = compressPoint(halfKeys[i+1].PublicPoint())

		encoded, err := hp.Encode()
		if err != nil {
			return OutgoingPacket{}, newErr(KindInvalidState, "encode hop payload", err)
		}

		relayHops[i] = sphinx.Hop{PacketKey: hop.PacketKey, Payload: encoded}
	}

	final := sphinx.FinalPayload{Pseudonym: pseudonym, Plaintext: payload, Surbs: surbs}
	if len(relays) == 0 {
		final.IssuerHalfKeyPoint = compressPoint(senderHalfKey.PublicPoint())
	} else {
		final.IssuerHalfKeyPoint = compressPoint(halfKeys[len(halfKeys)-2].PublicPoint())
	}

	finalBytes, err := final.Encode()
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "encode final payload", err)
	}

	pkt, err := sphinx.BuildWithSecret(sessionScalar, relayHops, exit.PacketKey, finalBytes)
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "build sphinx packet", err)
	}

	wire, err := ForwardMessage{Packet: pkt, Ticket: firstTicket}.Encode()
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "encode forward message", err)
	}

	return OutgoingPacket{
		FirstHop:  path[0].PacketKey,
		Bytes:     wire,
		Challenge: challenge,
	}, nil
}
