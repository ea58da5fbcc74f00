package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/ticket"
)

// ForwardMessage is what actually travels the wire between two adjacent
// hops: the Sphinx packet plus the ticket that pays the receiving node for
// processing it (§6). The ticket never lives inside the onion-encrypted
// body, since whoever forwards a leg signs that leg's ticket fresh with its
// own ChainKey — something the original sender cannot do on a later hop's
// behalf.
type ForwardMessage struct {
	Packet *sphinx.Packet
	Ticket ticket.Ticket
}

// Encode serializes a ForwardMessage: a 2-byte length-prefixed Sphinx
// packet followed by the fixed 161-byte ticket wire form.
func (m ForwardMessage) Encode() ([]byte, error) {
	packetBytes := m.Packet.Encode()
	if len(packetBytes) > 0xffff {
		return nil, fmt.Errorf("packet: sphinx packet too large to frame: %d bytes", len(packetBytes))
	}

	ticketBytes, err := m.Ticket.Encode()
	if err != nil {
		return nil, fmt.Errorf("packet: encode ticket: %w", err)
	}

	out := make([]byte, 0, 2+len(packetBytes)+ticket.WireSize)
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(packetBytes)))
	out = append(out, lenBytes[:]...)
	out = append(out, packetBytes...)
	out = append(out, ticketBytes[:]...)

	return out, nil
}

// DecodeForwardMessage parses a ForwardMessage from its wire form.
func DecodeForwardMessage(b []byte) (ForwardMessage, error) {
	var m ForwardMessage

	if len(b) < 2 {
		return m, fmt.Errorf("packet: forward message too short")
	}

	packetLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]

	if len(b) != packetLen+ticket.WireSize {
		return m, fmt.Errorf("packet: forward message: expected %d bytes, got %d",
			packetLen+ticket.WireSize, len(b))
	}

	pkt, err := sphinx.DecodePacket(b[:packetLen])
	if err != nil {
		return m, fmt.Errorf("packet: decode sphinx packet: %w", err)
	}
	m.Packet = pkt

	t, err := ticket.Decode(b[packetLen:])
	if err != nil {
		return m, fmt.Errorf("packet: decode ticket: %w", err)
	}
	m.Ticket = t

	return m, nil
}
