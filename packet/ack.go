package packet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/por"
)

// AckWireSize is the exact on-wire size of an Acknowledgement (§6):
// half_key(32) | signature(65).
const AckWireSize = 32 + 65

// Acknowledgement is the proof a hop sends back to the previous hop once it
// has processed a packet: its PoR half-key, signed so the previous hop can
// be sure it came from the node it actually forwarded to (§3, §6).
type Acknowledgement struct {
	HalfKey   por.HalfKey
	Signature [65]byte
}

// signingDigest hashes the half-key together with the packet key of the
// node the acknowledgement is addressed to (§6: "signed over half_key ‖
// recipient_packet_key"), binding an Acknowledgement to a specific
// recipient so it cannot be replayed toward a different previous hop.
func signingDigest(halfKey por.HalfKey, recipient crypto.PacketKeyPub) [32]byte {
	recipientBytes := recipient.Bytes()

	buf := make([]byte, 0, 32+32)
	buf = append(buf, halfKey[:]...)
	buf = append(buf, recipientBytes[:]...)

	return chainhash.HashH(buf)
}

// SignAcknowledgement builds a signed Acknowledgement revealing halfKey,
// addressed to recipient (the previous hop's PacketKey), signed by this
// node's ChainKey.
func SignAcknowledgement(key *crypto.ChainKey, halfKey por.HalfKey,
	recipient crypto.PacketKeyPub) (Acknowledgement, error) {

	sig, err := key.Sign(signingDigest(halfKey, recipient))
	if err != nil {
		return Acknowledgement{}, fmt.Errorf("sign acknowledgement: %w", err)
	}

	return Acknowledgement{HalfKey: halfKey, Signature: sig}, nil
}

// Verify checks that ack was signed by the holder of issuerPub, addressed to
// recipient.
func (a Acknowledgement) Verify(issuerPub *btcec.PublicKey, recipient crypto.PacketKeyPub) bool {
	return crypto.VerifySignature(issuerPub, a.Signature, signingDigest(a.HalfKey, recipient))
}

// RecoverIssuer recovers the public key that produced this acknowledgement's
// signature. The previous hop has no independent source for the sending
// node's chain public key beyond the address on file for its PacketKey, so
// it recovers the signer here and checks the resulting address against that
// record rather than verifying against a key it already trusted.
func (a Acknowledgement) RecoverIssuer(recipient crypto.PacketKeyPub) (*btcec.PublicKey, error) {
	return crypto.RecoverChainKey(a.Signature, signingDigest(a.HalfKey, recipient))
}

// Encode serializes the acknowledgement to its fixed wire form.
func (a Acknowledgement) Encode() [AckWireSize]byte {
	var out [AckWireSize]byte
	copy(out[:32], a.HalfKey[:])
	copy(out[32:], a.Signature[:])
	return out
}

// DecodeAcknowledgement parses an Acknowledgement from its wire form.
func DecodeAcknowledgement(b []byte) (Acknowledgement, error) {
	var a Acknowledgement
	if len(b) != AckWireSize {
		return a, fmt.Errorf("acknowledgement: expected %d bytes, got %d", AckWireSize, len(b))
	}

	copy(a.HalfKey[:], b[:32])
	copy(a.Signature[:], b[32:])
	return a, nil
}
