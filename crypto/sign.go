package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// signRecoverable produces a 65-byte recoverable ECDSA signature over digest:
// a 1-byte recovery id followed by the 64-byte (R, S) pair. This is the exact
// layout used by the ticket and acknowledgement wire formats (§6).
func signRecoverable(priv *btcec.PrivateKey, digest [32]byte) ([65]byte, error) {
	var out [65]byte

	sig := ecdsa.SignCompact(priv, digest[:], false)
	if len(sig) != 65 {
		return out, fmt.Errorf("unexpected compact signature length: %d",
			len(sig))
	}

	// btcec's SignCompact places the recovery byte first, matching the
	// wire format directly.
	copy(out[:], sig)

	return out, nil
}

// RecoverChainKey recovers the signer's public key from a 65-byte recoverable
// signature and the digest that was signed. It is used to verify a ticket or
// acknowledgement's signature against a claimed previous-hop chain key.
func RecoverChainKey(sig [65]byte, digest [32]byte) (*btcec.PublicKey, error) {
	pub, _, err := ecdsa.RecoverCompact(sig[:], digest[:])
	if err != nil {
		return nil, fmt.Errorf("recover pubkey: %w", err)
	}

	return pub, nil
}

// VerifySignature checks that sig is a valid recoverable signature over
// digest produced by the holder of pub.
func VerifySignature(pub *btcec.PublicKey, sig [65]byte, digest [32]byte) bool {
	recovered, err := RecoverChainKey(sig, digest)
	if err != nil {
		return false
	}

	return recovered.IsEqual(pub)
}
