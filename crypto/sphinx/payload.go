package sphinx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hoprnet/hopr-core/crypto"
)

// KeyID is the compact per-hop identity used inside a Sphinx routing
// payload instead of a full PacketKey, so that header size does not grow
// with key size. The bijection between KeyID and PacketKey is owned by the
// KeyIdMapper (§3, §4.5).
type KeyID uint32

// HalfKeyPointSize is the wire width of a compressed secp256k1 point used to
// carry a PoR half-key commitment through the onion body (§4.1's "ticket's
// challenge derived from the packet's header").
const HalfKeyPointSize = 33

// HopPayloadSize is the fixed size of a single intermediate-hop routing
// payload: a 4-byte next-hop KeyID followed by the two half-key commitment
// points the receiving hop needs to both validate the ticket it was just
// handed and build the one it issues onward (§4.1, §6). The ticket itself
// travels alongside the Sphinx packet at the transport level, signed fresh
// by whichever node is actually forwarding, rather than living inside the
// onion: a ticket must be signed by the current forwarder's own ChainKey,
// which is never known to the original sender for any hop beyond the
// first.
const HopPayloadSize = 4 + 2*HalfKeyPointSize

// FinalPayloadHeaderSize is the fixed prefix of a final-hop payload: the
// issuer half-key commitment point the exit needs to validate its own
// inbound ticket, the sender-chosen Pseudonym this exit should associate
// with any attached SURBs, followed by a 1-byte SURB count and a 2-byte
// plaintext length.
const FinalPayloadHeaderSize = HalfKeyPointSize + crypto.PseudonymSize + 1 + 2

// HopPayload is the per-hop routing instruction carried inside the Sphinx
// onion body for an intermediate relay: which KeyID to forward to next, the
// public commitment to the previous hop's PoR half-key (to validate the
// ticket just received), and the public commitment to the next hop's PoR
// half-key (to build the ticket this hop issues onward).
type HopPayload struct {
	NextHop             KeyID
	IssuerHalfKeyPoint  [HalfKeyPointSize]byte
	NextHopHalfKeyPoint [HalfKeyPointSize]byte
}

// Encode serializes the hop payload to its fixed-size wire form.
func (h HopPayload) Encode() ([HopPayloadSize]byte, error) {
	var out [HopPayloadSize]byte

	binary.BigEndian.PutUint32(out[:4], uint32(h.NextHop))
	copy(out[4:4+HalfKeyPointSize], h.IssuerHalfKeyPoint[:])
	copy(out[4+HalfKeyPointSize:], h.NextHopHalfKeyPoint[:])

	return out, nil
}

// DecodeHopPayload parses a fixed-size hop payload from its wire form.
func DecodeHopPayload(b []byte) (HopPayload, error) {
	var h HopPayload

	if len(b) != HopPayloadSize {
		return h, fmt.Errorf("hop payload: expected %d bytes, got %d",
			HopPayloadSize, len(b))
	}

	h.NextHop = KeyID(binary.BigEndian.Uint32(b[:4]))
	copy(h.IssuerHalfKeyPoint[:], b[4:4+HalfKeyPointSize])
	copy(h.NextHopHalfKeyPoint[:], b[4+HalfKeyPointSize:])

	return h, nil
}

// FinalPayload is the routing instruction carried in the Sphinx onion body
// when this node is the final recipient: the public commitment to the last
// relay's PoR half-key (to validate the ticket the exit was just handed),
// the sender's chosen Pseudonym, the application plaintext, plus any SURBs
// the sender attached for future replies.
type FinalPayload struct {
	IssuerHalfKeyPoint [HalfKeyPointSize]byte
	Pseudonym          crypto.Pseudonym
	Plaintext          []byte
	Surbs              [][]byte
}

// Encode serializes a final payload: issuer_point(33) | pseudonym(10) |
// surb-count(1) | plaintext-len(2) | plaintext | surb_1 | surb_2 | ...
func (f FinalPayload) Encode() ([]byte, error) {
	if len(f.Surbs) > 255 {
		return nil, fmt.Errorf("too many surbs: %d", len(f.Surbs))
	}
	if len(f.Plaintext) > 0xffff {
		return nil, fmt.Errorf("plaintext too large: %d", len(f.Plaintext))
	}

	buf := new(bytes.Buffer)
	buf.Write(f.IssuerHalfKeyPoint[:])
	buf.Write(f.Pseudonym[:])
	buf.WriteByte(byte(len(f.Surbs)))

	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(f.Plaintext)))
	buf.Write(lenBytes[:])
	buf.Write(f.Plaintext)

	for _, s := range f.Surbs {
		buf.Write(s)
	}

	return buf.Bytes(), nil
}

// DecodeFinalPayload is the inverse of Encode, given the expected per-SURB
// size (fixed for a given network configuration).
func DecodeFinalPayload(b []byte, surbSize int) (FinalPayload, error) {
	var f FinalPayload

	if len(b) < FinalPayloadHeaderSize {
		return f, fmt.Errorf("final payload too short")
	}

	copy(f.IssuerHalfKeyPoint[:], b[:HalfKeyPointSize])
	b = b[HalfKeyPointSize:]

	copy(f.Pseudonym[:], b[:crypto.PseudonymSize])
	b = b[crypto.PseudonymSize:]

	numSurbs := int(b[0])
	plaintextLen := int(binary.BigEndian.Uint16(b[1:3]))

	rest := b[3:]
	if len(rest) < plaintextLen {
		return f, fmt.Errorf("final payload: truncated plaintext")
	}

	f.Plaintext = append([]byte(nil), rest[:plaintextLen]...)
	rest = rest[plaintextLen:]

	if len(rest) < numSurbs*surbSize {
		return f, fmt.Errorf("final payload: expected at least %d surb bytes, "+
			"got %d", numSurbs*surbSize, len(rest))
	}

	for i := 0; i < numSurbs; i++ {
		f.Surbs = append(f.Surbs, append([]byte(nil),
			rest[i*surbSize:(i+1)*surbSize]...))
	}

	return f, nil
}
