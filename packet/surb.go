package packet

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/por"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/session/surb"
	"github.com/hoprnet/hopr-core/ticket"
)

// SurbStore resolves the stored material for a single-use reply block by
// the pseudonym and SurbId a Return send names (§4.1), consuming it in the
// same call: a SURB answers at most one send_data Return. The session
// layer owns the actual inventory (session/surb.Inventory); this interface
// is the narrow slice of it the packet processor needs, avoiding a direct
// dependency on the session package.
type SurbStore interface {
	TakeSurb(pseudonym crypto.Pseudonym, id surb.SurbId) ([]byte, bool)
}

// SurbMaterial is everything a later holder needs to turn a pre-built SURB
// into a complete reply packet: the already-built Sphinx header (its
// placeholder final payload still unset), the commitments needed to
// reconstruct its real final payload, and the first-hop half-key whose
// owner handed it over so whoever spends the SURB can issue a matching
// first-hop ticket from its own channel, rather than the SURB's builder
// needing to be online to sign one itself (§4.1 send_data Return variant).
type SurbMaterial struct {
	// FirstHop is the packet key of the reply path's first hop (or the
	// material's own builder, if the SURB carries zero relays).
	FirstHop crypto.PacketKeyPub

	// Header is the pre-built Sphinx packet, its delta's final-payload
	// region still holding the all-zero placeholder crypto/sphinx built
	// it with.
	Header *sphinx.Packet

	// NumRelays is the relay count Header was built with, needed to find
	// the final-payload region CompleteReply must patch.
	NumRelays int

	// IssuerPoint is the half-key commitment the reply's own final hop
	// needs to validate whichever ticket it receives — i.e. what the
	// completed packet's FinalPayload.IssuerHalfKeyPoint must carry.
	IssuerPoint [sphinx.HalfKeyPointSize]byte

	// Pseudonym is the SURB builder's own pseudonym, carried in the
	// completed packet's FinalPayload so the builder can recognize and
	// route the eventual reply back to the right session once it arrives.
	Pseudonym crypto.Pseudonym

	// SenderHalfKey is the private half-key scalar behind Challenge,
	// handed over so a later holder can issue the first-hop ticket
	// without the builder's involvement.
	SenderHalfKey por.HalfKey

	// Challenge is the PoR challenge already baked into the SURB's first
	// hop, unchanged regardless of who eventually spends it.
	Challenge ticket.Challenge
}

// surbMaterialFixedSize is the size of every SurbMaterial field except the
// variable-length Sphinx header, which carries its own 2-byte length
// prefix.
const surbMaterialFixedSize = crypto.PacketKeySize + 1 + sphinx.HalfKeyPointSize +
	crypto.PseudonymSize + 32 + 32

// Encode serializes the material to the opaque blob form session/surb
// stores and hands back verbatim on TakeSurb.
func (m SurbMaterial) Encode() ([]byte, error) {
	headerBytes := m.Header.Encode()
	if len(headerBytes) > 0xffff {
		return nil, fmt.Errorf("packet: surb header too large to frame: %d bytes", len(headerBytes))
	}

	out := make([]byte, 0, surbMaterialFixedSize+2+len(headerBytes))

	firstHop := m.FirstHop.Bytes()
	out = append(out, firstHop[:]...)
	out = append(out, byte(m.NumRelays))
	out = append(out, m.IssuerPoint[:]...)
	out = append(out, m.Pseudonym[:]...)
	out = append(out, m.SenderHalfKey[:]...)
	out = append(out, m.Challenge[:]...)

	var hlen [2]byte
	binary.BigEndian.PutUint16(hlen[:], uint16(len(headerBytes)))
	out = append(out, hlen[:]...)
	out = append(out, headerBytes...)

	return out, nil
}

// DecodeSurbMaterial is the inverse of Encode.
func DecodeSurbMaterial(b []byte) (SurbMaterial, error) {
	var m SurbMaterial

	if len(b) < surbMaterialFixedSize+2 {
		return m, fmt.Errorf("packet: surb material too short: %d bytes", len(b))
	}

	firstHop, err := crypto.PacketKeyPubFromBytes(b[:crypto.PacketKeySize])
	if err != nil {
		return m, fmt.Errorf("packet: decode surb first hop: %w", err)
	}
	m.FirstHop = firstHop
	b = b[crypto.PacketKeySize:]

	m.NumRelays = int(b[0])
	b = b[1:]

	copy(m.IssuerPoint[:], b[:sphinx.HalfKeyPointSize])
	b = b[sphinx.HalfKeyPointSize:]

	copy(m.Pseudonym[:], b[:crypto.PseudonymSize])
	b = b[crypto.PseudonymSize:]

	copy(m.SenderHalfKey[:], b[:32])
	b = b[32:]

	copy(m.Challenge[:], b[:32])
	b = b[32:]

	hlen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]

	if len(b) != hlen {
		return m, fmt.Errorf("packet: surb material: expected %d header bytes, got %d", hlen, len(b))
	}

	header, err := sphinx.DecodePacket(b)
	if err != nil {
		return m, fmt.Errorf("packet: decode surb header: %w", err)
	}
	m.Header = header

	return m, nil
}

// BuildSurb constructs a single-use reply block addressed back to this
// node, routed through relays (possibly none, for a direct reply), and
// returns it wire-encoded for the caller to attach to an outgoing Final
// payload (§4.1's "attached SURBs"). pseudonym is this node's own pseudonym
// for the session the eventual reply should be routed back to.
func (p *Processor) BuildSurb(ctx context.Context, relays []RouteHop, pseudonym crypto.Pseudonym) ([]byte, error) {
	if len(relays) > sphinx.MaxRelays {
		return nil, newErr(KindInvalidState, "surb path exceeds the network's maximum hop budget", nil)
	}

	var sessionScalar [32]byte
	if _, err := rand.Read(sessionScalar[:]); err != nil {
		return nil, newErr(KindInvalidState, "generate surb session scalar", err)
	}

	relayKeys := make([]crypto.PacketKeyPub, len(relays))
	for i, hop := range relays {
		relayKeys[i] = hop.PacketKey
	}

	self := p.packetKey.Public()

	hopSecrets, err := sphinx.DeriveSecrets(sessionScalar, relayKeys, self)
	if err != nil {
		return nil, newErr(KindInvalidState, "derive surb per-hop secrets", err)
	}

	halfKeys := make([]por.HalfKey, len(hopSecrets))
	for i, s := range hopSecrets {
		halfKeys[i] = por.HalfKeyFromSecret(s.Shared)
	}

	senderHalfKey, err := por.GenerateHalfKey()
	if err != nil {
		return nil, newErr(KindInvalidState, "generate surb sender half-key", err)
	}

	var challenge ticket.Challenge
	firstHop := self
	if len(relays) > 0 {
		challenge = por.ChallengeFor(senderHalfKey, halfKeys[0].PublicPoint())
		firstHop = relays[0].PacketKey
	}

	relayHops := make([]sphinx.Hop, len(relays))
	for i, hop := range relays {
		nextHopPub := self
		if i+1 < len(relays) {
			nextHopPub = relays[i+1].PacketKey
		}

		nextKeyID, err := p.keyIDs.KeyIDFor(ctx, nextHopPub)
		if err != nil {
			return nil, newErr(KindResolverTimeout, "resolve surb next hop key id", err)
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
			return nil, newErr(KindInvalidState, "encode surb hop payload", err)
		}

		relayHops[i] = sphinx.Hop{PacketKey: hop.PacketKey, Payload: encoded}
	}

	var issuerPoint [sphinx.HalfKeyPointSize]byte
	if len(relays) == 0 {
		issuerPoint = compressPoint(senderHalfKey.PublicPoint())
	} else {
		issuerPoint = compressPoint(halfKeys[len(halfKeys)-2].PublicPoint())
	}

	pkt, err := sphinx.BuildWithSecret(sessionScalar, relayHops, self, nil)
	if err != nil {
		return nil, newErr(KindInvalidState, "build surb header", err)
	}

	material := SurbMaterial{
		FirstHop:      firstHop,
		Header:        pkt,
		NumRelays:     len(relays),
		IssuerPoint:   issuerPoint,
		Pseudonym:     pseudonym,
		SenderHalfKey: senderHalfKey,
		Challenge:     challenge,
	}

	return material.Encode()
}

// SendReply completes a stored SURB into a full reply packet and frames it
// for the transport, implementing the Return{pseudonym, surb_id} routing
// variant of send_data (§4.1): rather than building a fresh Sphinx header
// like a forward send, it patches a pre-built one and issues the first-hop
// ticket against the half-key the SURB's builder handed over, drawing on
// channel (this node's own channel to the SURB's first hop).
func (p *Processor) SendReply(ctx context.Context, pseudonym crypto.Pseudonym, id surb.SurbId,
	channel ticket.ChannelID, payload []byte, surbs [][]byte) (OutgoingPacket, error) {

	blob, ok := p.surbs.TakeSurb(pseudonym, id)
	if !ok {
		return OutgoingPacket{}, newErr(KindNotEnoughSurbs, "no stored surb for this pseudonym/id", nil)
	}

	material, err := DecodeSurbMaterial(blob)
	if err != nil {
		return OutgoingPacket{}, newErr(KindUndecodable, "decode surb material", err)
	}

	final := sphinx.FinalPayload{
		IssuerHalfKeyPoint: material.IssuerPoint,
		Pseudonym:          material.Pseudonym,
		Plaintext:          payload,
		Surbs:              surbs,
	}

	finalBytes, err := final.Encode()
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "encode reply final payload", err)
	}

	pkt, err := sphinx.CompleteReply(material.Header, material.NumRelays, finalBytes)
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "complete surb reply", err)
	}

	var firstTicket ticket.Ticket
	if material.NumRelays > 0 {
		firstTicket, err = p.issueTicket(ctx, channel, material.Challenge)
		if err != nil {
			return OutgoingPacket{}, err
		}

		if err := p.tickets.StoreUnacknowledged(ctx, firstTicket, material.SenderHalfKey); err != nil {
			return OutgoingPacket{}, newErr(KindInvalidState, "store unacknowledged ticket", err)
		}
	}

	wire, err := ForwardMessage{Packet: pkt, Ticket: firstTicket}.Encode()
	if err != nil {
		return OutgoingPacket{}, newErr(KindInvalidState, "encode reply forward message", err)
	}

	return OutgoingPacket{
		FirstHop:  material.FirstHop,
		Bytes:     wire,
		Challenge: material.Challenge,
	}, nil
}
