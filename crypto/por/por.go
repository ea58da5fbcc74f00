// Package por implements the Proof-of-Relay construction (§3, §4.1, §4.2
// glossary): a half-key that a relay reveals only on successful delivery,
// combined with the sender's own half-key into a response that (a) unlocks
// the ticket's challenge and (b) feeds the VRF-style winning-ticket check.
package por

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hoprnet/hopr-core/ticket"
	"golang.org/x/crypto/blake2b"
)

// HalfKey is one half of a Proof-of-Relay keypair: a scalar known to one
// party until it is revealed in an Acknowledgement.
type HalfKey [32]byte

// Response is the combination of both halves of a PoR keypair, known only
// once the relay's half-key has been revealed. It is the preimage that
// unlocks a ticket's Challenge and feeds the winning-ticket VRF check.
type Response [32]byte

// Challenge is the EC point published in a Ticket, binding it to a
// particular HalfKey pair without revealing either half.
type Challenge = ticket.Challenge

// GenerateHalfKey creates a fresh random half-key.
func GenerateHalfKey() (HalfKey, error) {
	var hk HalfKey
	if _, err := rand.Read(hk[:]); err != nil {
		return hk, fmt.Errorf("generate half key: %w", err)
	}

	return hk, nil
}

// halfKeyDomain separates half-key derivation from every other blake2b use
// keyed by a Sphinx DH shared secret.
var halfKeyDomain = []byte("hopr-core/por-halfkey")

// HalfKeyFromSecret derives a hop's PoR half-key deterministically from its
// Sphinx per-hop DH shared secret (sphinx.HopSecret.Shared /
// sphinx.UnwrapResult.Shared), rather than carrying an extra half-key field
// through the onion payload: the sender lands on it at path-construction
// time, and the hop itself lands on the identical value independently after
// unwrapping its own Sphinx layer. No half-key material ever crosses the
// wire until it is deliberately revealed in an Acknowledgement.
func HalfKeyFromSecret(shared [32]byte) HalfKey {
	h, _ := blake2b.New256(halfKeyDomain)
	h.Write(shared[:])

	var hk HalfKey
	copy(hk[:], h.Sum(nil))
	return hk
}

// toScalar reduces a half-key into a valid secp256k1 scalar.
func toScalar(hk HalfKey) btcec.ModNScalar {
	var s btcec.ModNScalar
	s.SetByteSlice(hk[:])
	return s
}

// ChallengeFor derives the public Challenge point for a pair of half-keys:
// the point (ownHalfKey + nextHopHalfKey) * G. The sender knows ownHalfKey
// up front and learns nextHopHalfKey's public point from the next hop's
// commitment; only after the actual half-key is revealed via an
// Acknowledgement can the full Response (and hence the private scalar
// behind this point) be reconstructed.
func ChallengeFor(own HalfKey, nextHopPoint *btcec.PublicKey) Challenge {
	ownScalar := toScalar(own)

	var ownPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&ownScalar, &ownPoint)

	var nextJac btcec.JacobianPoint
	nextHopPoint.AsJacobian(&nextJac)

	var sum btcec.JacobianPoint
	btcec.AddNonConst(&ownPoint, &nextJac, &sum)
	sum.ToAffine()

	combined := btcec.NewPublicKey(&sum.X, &sum.Y)

	var c Challenge
	copy(c[:], combined.SerializeCompressed()[1:]) // drop parity byte, 32B
	return c
}

// CombinePoints adds two already-public half-key commitment points,
// yielding the same Challenge ChallengeFor(own, next) would have produced
// had the caller known own as a scalar. A hop validating the ticket it was
// just handed knows only the issuer's public commitment (carried through
// the onion by the sender, who alone could compute it ahead of time) and its
// own half-key's point, so it verifies by point addition rather than by
// recomputing the private combination ChallengeFor performs.
func CombinePoints(a, b *btcec.PublicKey) Challenge {
	var aJac, bJac, sum btcec.JacobianPoint
	a.AsJacobian(&aJac)
	b.AsJacobian(&bJac)
	btcec.AddNonConst(&aJac, &bJac, &sum)
	sum.ToAffine()

	combined := btcec.NewPublicKey(&sum.X, &sum.Y)

	var c Challenge
	copy(c[:], combined.SerializeCompressed()[1:])
	return c
}

// PublicPoint returns the EC point hk*G used as this half-key's public
// commitment, disclosed to the previous hop when a packet is built so it
// can compute ChallengeFor.
func (hk HalfKey) PublicPoint() *btcec.PublicKey {
	scalar := toScalar(hk)
	var p btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&scalar, &p)
	p.ToAffine()

	return btcec.NewPublicKey(&p.X, &p.Y)
}

// DeriveResponse computes the full PoR response once the counterparty's
// half-key has been revealed in an Acknowledgement.
func DeriveResponse(own, revealed HalfKey) Response {
	ownScalar := toScalar(own)
	revScalar := toScalar(revealed)

	sum := new(btcec.ModNScalar).Add2(&ownScalar, &revScalar)

	var r Response
	b := sum.Bytes()
	copy(r[:], b[:])

	return r
}

// winProbDomain separates the VRF-style winning-ticket hash from any other
// use of blake2b in this package.
var winProbDomain = []byte("hopr-core/por-winning-check")

// IsWinning implements the winning-ticket rule from §3:
//
//	VRF(hash(ticket_hash ‖ response))[:8] ≤ win_prob * 2^64
//
// The "VRF" here is realized as a deterministic, unpredictable-to-the-payer
// function of the ticket hash and PoR response: blake2b keyed by the node's
// ChainKey-derived VRF secret. Because response is only known after
// acknowledgement, neither party can bias the outcome by choosing a ticket
// hash after observing it.
func IsWinning(ticketHash [32]byte, response Response, vrfSecret [32]byte,
	winProb ticket.WinProb) bool {

	h, _ := blake2b.New256(append(append([]byte(nil), winProbDomain...),
		vrfSecret[:]...))
	h.Write(ticketHash[:])
	h.Write(response[:])
	digest := h.Sum(nil)

	var top8 uint64
	for i := 0; i < 8; i++ {
		top8 = top8<<8 | uint64(digest[i])
	}

	// win_prob only carries 56 bits of precision on the wire (§6), so the
	// comparison is done at that width: the low byte of both sides is
	// dropped rather than compared.
	return top8>>8 <= uint64(winProb)>>8
}
