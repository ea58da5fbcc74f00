package sphinx

import (
	"encoding/binary"
	"fmt"

	"github.com/hoprnet/hopr-core/replay"
)

// Version identifies the wire format of a Packet (§6).
const Version = 0

// GroupElementSize is the wire width of alpha: a 1-byte format tag (fixed
// at 0x00, reserved for future curve-agility) followed by the 32-byte
// curve25519 u-coordinate, matching the 33-byte "compressed EC point"
// field the wire format calls for while keeping the actual group algebra
// on curve25519 as PacketKey requires.
const GroupElementSize = 1 + 32

// GammaSize is the wire width of the per-layer MAC.
const GammaSize = 32

// MaxHops bounds both the forward and return path length. Beta's size is
// fixed at MaxHops slots so that path length is not directly observable
// from packet size alone, matching the "Nβ is path-length dependent and
// must match across the network" wire rule (§6) for a network-wide
// constant hop budget.
const MaxHops = 3

// betaSlotSize is the fixed per-hop payload folded into beta: a one-byte
// routing flag ("more hops" vs "this is the final hop") followed by the
// chained MAC the next hop will check, so that a relay can forward the
// next hop's gamma without ever learning that hop's mac key.
const betaSlotSize = 1 + GammaSize

// BetaSize is the fixed total size of the onion-encrypted routing field.
const BetaSize = MaxHops * betaSlotSize

const (
	routingFlagRelay byte = 0x00
	routingFlagExit  byte = 0xFF
)

// Packet is the wire-level Sphinx envelope (§6). Encode writes it as
// version | alpha | beta | gamma | delta length | delta | tag, where delta
// length is a 2-byte big-endian count of delta's bytes; the wire form is
// not the bare version | alpha | beta | gamma | delta | tag concatenation.
// delta (the onion body, carrying HopPayload/FinalPayload bytes) is
// variable length but fixed for a given network configuration, same as
// beta.
type Packet struct {
	Alpha [GroupElementSize]byte
	Beta  [BetaSize]byte
	Gamma [GammaSize]byte
	Delta []byte
	Tag   replay.Tag
}

// Encode serializes the packet to its wire form.
func (p *Packet) Encode() []byte {
	out := make([]byte, 0, 1+GroupElementSize+BetaSize+GammaSize+len(p.Delta)+replay.TagSize+2)

	out = append(out, Version)
	out = append(out, p.Alpha[:]...)
	out = append(out, p.Beta[:]...)
	out = append(out, p.Gamma[:]...)

	var deltaLen [2]byte
	binary.BigEndian.PutUint16(deltaLen[:], uint16(len(p.Delta)))
	out = append(out, deltaLen[:]...)
	out = append(out, p.Delta...)
	out = append(out, p.Tag[:]...)

	return out
}

// DecodePacket parses a packet from its wire form.
func DecodePacket(b []byte) (*Packet, error) {
	const headerLen = 1 + GroupElementSize + BetaSize + GammaSize + 2

	if len(b) < headerLen+replay.TagSize {
		return nil, fmt.Errorf("sphinx: packet too short: %d bytes", len(b))
	}

	if b[0] != Version {
		return nil, fmt.Errorf("sphinx: unsupported packet version %d", b[0])
	}

	off := 1
	var p Packet
	copy(p.Alpha[:], b[off:off+GroupElementSize])
	off += GroupElementSize

	copy(p.Beta[:], b[off:off+BetaSize])
	off += BetaSize

	copy(p.Gamma[:], b[off:off+GammaSize])
	off += GammaSize

	deltaLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	if len(b) != off+deltaLen+replay.TagSize {
		return nil, fmt.Errorf("sphinx: malformed packet: declared delta length %d does not match %d remaining bytes", deltaLen, len(b)-off-replay.TagSize)
	}

	p.Delta = append([]byte(nil), b[off:off+deltaLen]...)
	off += deltaLen

	copy(p.Tag[:], b[off:off+replay.TagSize])

	return &p, nil
}
