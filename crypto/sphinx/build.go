package sphinx

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/hoprnet/hopr-core/crypto"
)

// FinalCapacity is the fixed space reserved at the innermost layer of delta
// for the final hop's own FinalPayload (application plaintext plus any
// SURBs), padded with zeros up to this size if shorter.
const FinalCapacity = 1024

// MaxRelays is the most intermediate relays a path can carry; one of the
// MaxHops slots is always reserved for the final (exit) hop.
const MaxRelays = MaxHops - 1

// DeltaSize is the fixed total size of the onion body: one HopPayload slot
// per possible relay plus the final hop's own FinalPayload slot. The exit
// hop does not consume a HopPayload slot of its own; it owns only an
// encryption layer over the already-innermost final-payload region.
const DeltaSize = MaxRelays*HopPayloadSize + FinalCapacity

// Hop is one relay entry of a forward path: the relay's PacketKey identity
// and the already-encoded HopPayload bytes it should receive (§4.1
// send_data).
type Hop struct {
	PacketKey crypto.PacketKeyPub
	Payload   [HopPayloadSize]byte
}

// HopSecret is the portion of a per-hop Sphinx derivation a caller outside
// this package is allowed to see: the raw DH shared secret, from which a
// PoR half-key can be derived (por.HalfKeyFromSecret) independently by the
// sender (here) and by the hop itself (via UnwrapResult.Shared), without
// ever putting half-key material on the wire.
type HopSecret struct {
	Shared [32]byte
}

// DeriveSecrets computes every hop's DH shared secret for a path, in
// forward order (relays first, exit last), using the given session scalar.
// Ticket construction for a relay hop needs that hop's own shared secret
// (to derive the PoR half-key it must later reveal) and the next hop's
// shared secret (to compute the ticket's Challenge) before the Sphinx
// header itself can be built, so this is exposed separately from Build.
func DeriveSecrets(sessionScalar [32]byte, relayKeys []crypto.PacketKeyPub, exit crypto.PacketKeyPub) ([]HopSecret, error) {
	n := len(relayKeys) + 1
	if len(relayKeys) > MaxRelays {
		return nil, fmt.Errorf("sphinx: path length %d outside [1, %d]", n, MaxHops)
	}

	points := make([]crypto.PacketKeyPub, 0, n)
	points = append(points, relayKeys...)
	points = append(points, exit)

	out := make([]HopSecret, n)
	blindFactors := [][32]byte{sessionScalar}

	for i, pub := range points {
		point := pub.Bytes()

		for _, bf := range blindFactors {
			var next [32]byte
			curve25519.ScalarMult(&next, &bf, &point)
			point = next
		}

		secret := deriveHopSecret(point)
		out[i] = HopSecret{Shared: secret.shared}
		blindFactors = append(blindFactors, secret.blinding)
	}

	return out, nil
}

// Build constructs a fresh Sphinx packet addressed through relays (0 up to
// MaxRelays of them, in forward order) and finally to exit, carrying
// finalPayload as the exit-only content (§3, §4.1, §6), under a freshly
// generated session key.
func Build(relays []Hop, exit crypto.PacketKeyPub, finalPayload []byte) (*Packet, error) {
	var sessionScalar [32]byte
	if _, err := rand.Read(sessionScalar[:]); err != nil {
		return nil, fmt.Errorf("sphinx: generate session key: %w", err)
	}

	return BuildWithSecret(sessionScalar, relays, exit, finalPayload)
}

// BuildWithSecret is Build, but takes the session scalar explicitly so a
// caller that already called DeriveSecrets with the same scalar (to embed
// PoR challenges in the HopPayloads before Build) gets a packet whose onion
// layers are keyed by the identical per-hop secrets.
func BuildWithSecret(sessionScalar [32]byte, relays []Hop, exit crypto.PacketKeyPub, finalPayload []byte) (*Packet, error) {
	n := len(relays) + 1
	if len(relays) > MaxRelays {
		return nil, fmt.Errorf("sphinx: path length %d outside [1, %d]", n, MaxHops)
	}
	if len(finalPayload) > FinalCapacity {
		return nil, fmt.Errorf("sphinx: final payload %d bytes exceeds capacity %d", len(finalPayload), FinalCapacity)
	}

	var alpha0 [32]byte
	curve25519.ScalarBaseMult(&alpha0, &sessionScalar)

	points := make([]crypto.PacketKeyPub, 0, n)
	for _, hop := range relays {
		points = append(points, hop.PacketKey)
	}
	points = append(points, exit)

	secrets := make([]hopSecret, n)
	blindFactors := [][32]byte{sessionScalar}

	for i, pub := range points {
		point := pub.Bytes()

		for _, bf := range blindFactors {
			var next [32]byte
			curve25519.ScalarMult(&next, &bf, &point)
			point = next
		}

		secrets[i] = deriveHopSecret(point)
		blindFactors = append(blindFactors, secrets[i].blinding)
	}

	// delta: the innermost state is the final payload alone, under the
	// exit's own layer with no prepend, so the exit's own valid plaintext
	// region is always exactly FinalCapacity bytes regardless of how many
	// relays precede it. Each relay's layer (innermost relay outward)
	// prepends its HopPayload slot, matching encapsulateContent in
	// loopix-messaging's sphinx package. Any slots left over because the
	// path is shorter than MaxRelays are appended, unencrypted, after the
	// last layer — the same tail position a relay's own re-padding fills
	// after stripping its slot, so every hop finds its own content at a
	// fixed, path-length-independent offset from the front.
	finalBuf := make([]byte, FinalCapacity)
	copy(finalBuf, finalPayload)

	delta, err := streamXOR(secrets[n-1].deltaKey, finalBuf)
	if err != nil {
		return nil, fmt.Errorf("sphinx: encrypt delta exit layer: %w", err)
	}

	for i := len(relays) - 1; i >= 0; i-- {
		delta = append(append([]byte{}, relays[i].Payload[:]...), delta...)

		enc, err := streamXOR(secrets[i].deltaKey, delta)
		if err != nil {
			return nil, fmt.Errorf("sphinx: encrypt delta layer %d: %w", i, err)
		}
		delta = enc
	}

	delta = append(delta, make([]byte, (MaxRelays-len(relays))*HopPayloadSize)...)

	// beta: each slot carries a routing flag plus the chained MAC the next
	// hop will check on receipt, so a relay never needs the next hop's own
	// mac key to forward gamma correctly.
	beta := make([]byte, (MaxHops-n)*betaSlotSize)
	var nextGamma [32]byte

	for i := n - 1; i >= 0; i-- {
		flag := routingFlagRelay
		if i == n-1 {
			flag = routingFlagExit
		}

		slot := append([]byte{flag}, nextGamma[:]...)
		beta = append(slot, beta...)

		enc, err := streamXOR(secrets[i].betaKey, beta)
		if err != nil {
			return nil, fmt.Errorf("sphinx: encrypt beta layer %d: %w", i, err)
		}
		beta = enc

		nextGamma = computeGamma(secrets[i].macKey, beta)
	}

	pkt := &Packet{Delta: delta}
	pkt.Alpha[0] = 0x00
	copy(pkt.Alpha[1:], alpha0[:])
	copy(pkt.Beta[:], beta)
	pkt.Gamma = nextGamma
	pkt.Tag = computeTag(pkt.Alpha)

	return pkt, nil
}
