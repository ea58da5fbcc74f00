package sphinx

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/replay"
)

// hopSecret is everything derived from a single hop's Diffie-Hellman
// exchange during header construction: the shared point itself plus the
// keys folded from it.
type hopSecret struct {
	shared    [32]byte
	blinding  [32]byte
	betaKey   [32]byte
	deltaKey  [32]byte
	macKey    [32]byte
}

// kdfKey derives a domain-separated 32-byte key from a shared secret using
// blake2b, matching the KDF-per-purpose pattern loopix-messaging's sphinx
// package uses (one shared AES_CTR key per concern, each reduced from the
// raw ECDH output via a hash).
func kdfKey(domain string, shared [32]byte) [32]byte {
	h, _ := blake2b.New256([]byte(domain))
	h.Write(shared[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func deriveHopSecret(shared [32]byte) hopSecret {
	return hopSecret{
		shared:   shared,
		blinding: kdfKey("hopr-core/sphinx-blind", shared),
		betaKey:  kdfKey("hopr-core/sphinx-beta", shared),
		deltaKey: kdfKey("hopr-core/sphinx-delta", shared),
		macKey:   kdfKey("hopr-core/sphinx-gamma", shared),
	}
}

// blindGroupElement applies a hop's blinding factor to a curve25519 group
// element, the same recursive-blinding step loopix-messaging's
// ProcessSphinxHeader performs with curve25519.ScalarMult so the next hop
// sees a fresh, unlinkable alpha.
func blindGroupElement(alpha [32]byte, blinding [32]byte) [32]byte {
	var out [32]byte
	curve25519.ScalarMult(&out, &blinding, &alpha)
	return out
}

// streamXOR applies the chacha20 keystream (unauthenticated; the per-layer
// integrity check is the separate gamma MAC, as in the classic Sphinx PRP/
// MAC split) to a copy of data, returning that new slice; data itself is
// left unchanged.
func streamXOR(key [32]byte, data []byte) ([]byte, error) {
	var nonce [chacha20.NonceSize]byte // fixed zero nonce: every key is single-use (one per hop secret)

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// computeGamma produces the chained MAC over beta for one hop, authenticated
// with that hop's macKey.
func computeGamma(macKey [32]byte, beta []byte) [32]byte {
	h, _ := blake2b.New256(macKey[:])
	h.Write(beta)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// computeTag derives the compact replay-detection tag for a packet from its
// alpha alone, so a relay can check for a replay before spending a scalar
// multiplication on the DH exchange, and so the same underlying packet
// presented twice at the same hop always carries the same tag (alpha is
// re-blinded at every hop, so distinct hops never collide).
func computeTag(alpha [GroupElementSize]byte) replay.Tag {
	sum := blake2b.Sum256(alpha[:])

	var t replay.Tag
	copy(t[:], sum[:replay.TagSize])
	return t
}

// dhWithRouterKey performs the X25519 exchange between a local PacketKeyPriv
// and a peer's public point. Unwrap uses it (relay, against the packet's
// alpha); header construction does its own scalar multiplications and does
// not call it.
func dhWithRouterKey(priv *crypto.PacketKeyPriv, peer [32]byte) ([32]byte, error) {
	peerPub, err := crypto.PacketKeyPubFromBytes(peer[:])
	if err != nil {
		return [32]byte{}, err
	}

	return priv.DH(peerPub)
}
