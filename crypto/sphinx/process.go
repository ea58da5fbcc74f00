package sphinx

import (
	"crypto/subtle"
	"fmt"

	"github.com/hoprnet/hopr-core/crypto"
)

// ErrTagMismatch is returned when a packet's gamma does not authenticate
// under the local node's own derived mac key, meaning the packet was
// tampered with, misrouted, or addressed to a different hop (§3 "MAC
// verification failed").
var ErrTagMismatch = fmt.Errorf("sphinx: gamma verification failed")

// UnwrapResult is the outcome of peeling one Sphinx layer (§4.1 recv_data).
type UnwrapResult struct {
	// Final is true if this node is the packet's exit hop.
	Final bool

	// Next is the re-encrypted packet to forward on, valid only when
	// !Final.
	Next *Packet

	// HopPayload is this hop's own routing instruction, valid only when
	// !Final.
	HopPayload HopPayload

	// FinalPayload is the raw (still padded) final-hop content, valid
	// only when Final; decode it with DecodeFinalPayload.
	FinalPayload []byte

	// Shared is this hop's own DH shared secret with the sender, valid
	// in both the Final and !Final cases. It is never transmitted; a
	// node derives its PoR half-key from it (por.HalfKeyFromSecret)
	// independently of the sender, who derived the same value at path
	// construction time via DeriveSecrets.
	Shared [32]byte
}

// Unwrap peels one Sphinx layer off pkt using own's private PacketKey,
// verifying gamma before touching beta or delta.
func Unwrap(own *crypto.PacketKeyPriv, pkt *Packet) (UnwrapResult, error) {
	var alphaPoint [32]byte
	copy(alphaPoint[:], pkt.Alpha[1:])

	shared, err := dhWithRouterKey(own, alphaPoint)
	if err != nil {
		return UnwrapResult{}, fmt.Errorf("sphinx: dh exchange: %w", err)
	}
	secret := deriveHopSecret(shared)

	expected := computeGamma(secret.macKey, pkt.Beta[:])
	if subtle.ConstantTimeCompare(expected[:], pkt.Gamma[:]) != 1 {
		return UnwrapResult{}, ErrTagMismatch
	}

	decBeta, err := streamXOR(secret.betaKey, pkt.Beta[:])
	if err != nil {
		return UnwrapResult{}, fmt.Errorf("sphinx: decrypt beta: %w", err)
	}

	flag := decBeta[0]
	var gammaForNext [32]byte
	copy(gammaForNext[:], decBeta[1:1+GammaSize])
	betaRest := decBeta[1+GammaSize:]

	decDelta, err := streamXOR(secret.deltaKey, pkt.Delta)
	if err != nil {
		return UnwrapResult{}, fmt.Errorf("sphinx: decrypt delta: %w", err)
	}

	switch flag {
	case routingFlagExit:
		if len(decDelta) < FinalCapacity {
			return UnwrapResult{}, fmt.Errorf("sphinx: delta too short for the exit hop")
		}

		final := append([]byte(nil), decDelta[:FinalCapacity]...)
		return UnwrapResult{Final: true, FinalPayload: final, Shared: secret.shared}, nil

	case routingFlagRelay:
		if len(decDelta) < HopPayloadSize {
			return UnwrapResult{}, fmt.Errorf("sphinx: delta too short for a relay hop")
		}

		hp, err := DecodeHopPayload(decDelta[:HopPayloadSize])
		if err != nil {
			return UnwrapResult{}, fmt.Errorf("sphinx: decode hop payload: %w", err)
		}

		nextAlpha := blindGroupElement(alphaPoint, secret.blinding)

		nextBeta := append(append([]byte{}, betaRest...), make([]byte, betaSlotSize)...)
		nextDelta := append(append([]byte{}, decDelta[HopPayloadSize:]...), make([]byte, HopPayloadSize)...)

		next := &Packet{Delta: nextDelta}
		next.Alpha[0] = 0x00
		copy(next.Alpha[1:], nextAlpha[:])
		copy(next.Beta[:], nextBeta)
		next.Gamma = gammaForNext
		next.Tag = computeTag(next.Alpha)

		return UnwrapResult{Final: false, Next: next, HopPayload: hp, Shared: secret.shared}, nil

	default:
		return UnwrapResult{}, fmt.Errorf("sphinx: unknown routing flag %#x", flag)
	}
}
