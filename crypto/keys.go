// Package crypto defines the node's cryptographic identities: the
// curve25519-family PacketKey used as a Sphinx node identity, the
// secp256k1-family ChainKey used on-chain, and the sender-chosen Pseudonym
// that decouples a reply identity from the sender's chain/packet identity.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

func blake2bSum256(b []byte) [32]byte {
	return blake2b.Sum256(b)
}

const (
	// PacketKeySize is the length in bytes of a curve25519 public or
	// private key.
	PacketKeySize = 32

	// PseudonymSize is the length in bytes of a Pseudonym.
	PseudonymSize = 10
)

// ErrInvalidKeyLength is returned when a key is decoded from a byte slice of
// the wrong length.
var ErrInvalidKeyLength = errors.New("crypto: invalid key length")

// PacketKeyPriv is a curve25519 private key used as the node's stable Sphinx
// identity. It never leaves the node that owns it.
type PacketKeyPriv struct {
	scalar [PacketKeySize]byte
	pub    PacketKeyPub
}

// PacketKeyPub is the public half of a PacketKeyPriv, used to address a node
// within a Sphinx header.
type PacketKeyPub struct {
	point [PacketKeySize]byte
}

// GeneratePacketKey creates a fresh PacketKeyPriv using a CSPRNG.
func GeneratePacketKey() (*PacketKeyPriv, error) {
	var scalar [PacketKeySize]byte
	if _, err := rand.Read(scalar[:]); err != nil {
		return nil, fmt.Errorf("generate packet key: %w", err)
	}

	return NewPacketKeyPriv(scalar)
}

// NewPacketKeyPriv derives a PacketKeyPriv (and its public counterpart) from
// raw scalar bytes.
func NewPacketKeyPriv(scalar [PacketKeySize]byte) (*PacketKeyPriv, error) {
	var pub [PacketKeySize]byte
	curve25519.ScalarBaseMult(&pub, &scalar)

	return &PacketKeyPriv{
		scalar: scalar,
		pub:    PacketKeyPub{point: pub},
	}, nil
}

// Public returns the public half of the key.
func (p *PacketKeyPriv) Public() PacketKeyPub {
	return p.pub
}

// DH performs the curve25519 Diffie-Hellman exchange with the given public
// key, producing the shared secret used to derive per-hop Sphinx keys.
func (p *PacketKeyPriv) DH(peer PacketKeyPub) ([PacketKeySize]byte, error) {
	var shared [PacketKeySize]byte

	out, err := curve25519.X25519(p.scalar[:], peer.point[:])
	if err != nil {
		return shared, fmt.Errorf("dh exchange: %w", err)
	}
	copy(shared[:], out)

	return shared, nil
}

// Bytes returns the public key's raw 32-byte representation.
func (k PacketKeyPub) Bytes() [PacketKeySize]byte {
	return k.point
}

// PacketKeyPubFromBytes parses a public key from its raw representation.
func PacketKeyPubFromBytes(b []byte) (PacketKeyPub, error) {
	if len(b) != PacketKeySize {
		return PacketKeyPub{}, ErrInvalidKeyLength
	}

	var k PacketKeyPub
	copy(k.point[:], b)

	return k, nil
}

// String returns a hex-ish debug representation; not used on any wire path.
func (k PacketKeyPub) String() string {
	return fmt.Sprintf("%x", k.point[:4])
}

// ChainKey is the secp256k1-derived address used for on-chain identity and
// ticket/acknowledgement signatures.
type ChainKey struct {
	priv *btcec.PrivateKey
}

// GenerateChainKey creates a fresh ChainKey using a CSPRNG.
func GenerateChainKey() (*ChainKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate chain key: %w", err)
	}

	return &ChainKey{priv: priv}, nil
}

// NewChainKeyFromPrivate wraps an existing secp256k1 private key.
func NewChainKeyFromPrivate(priv *btcec.PrivateKey) *ChainKey {
	return &ChainKey{priv: priv}
}

// PubKey returns the compressed public key backing this ChainKey.
func (c *ChainKey) PubKey() *btcec.PublicKey {
	return c.priv.PubKey()
}

// AddressSize is the length in bytes of an on-chain Address.
const AddressSize = 20

// Address is the on-chain identity derived from a ChainKey's public key,
// used to key ChannelEntry.Source/Destination (§3).
type Address [AddressSize]byte

// Address derives the 20-byte on-chain address for this ChainKey.
func (c *ChainKey) Address() Address {
	return AddressFromPubKey(c.priv.PubKey())
}

// AddressFromPubKey derives the 20-byte on-chain address from a public key:
// the low 20 bytes of its blake2b-256 hash over the uncompressed encoding.
func AddressFromPubKey(pub *btcec.PublicKey) Address {
	sum := blake2bSum256(pub.SerializeUncompressed()[1:])

	var a Address
	copy(a[:], sum[len(sum)-AddressSize:])
	return a
}

// String returns a short debug representation.
func (a Address) String() string {
	return fmt.Sprintf("%x", a[:])
}

// Sign produces a recoverable signature over the provided digest, matching
// the 65-byte recoverable ECDSA signature format used in the ticket and
// acknowledgement wire formats (§6).
func (c *ChainKey) Sign(digest [32]byte) ([65]byte, error) {
	sig, err := signRecoverable(c.priv, digest)
	if err != nil {
		return [65]byte{}, err
	}

	return sig, nil
}

// Pseudonym is an opaque identifier a sender chooses per-destination to
// decouple its reply identity from its sender identity.
type Pseudonym [PseudonymSize]byte

// GeneratePseudonym creates a fresh random Pseudonym.
func GeneratePseudonym() (Pseudonym, error) {
	var p Pseudonym
	if _, err := rand.Read(p[:]); err != nil {
		return p, fmt.Errorf("generate pseudonym: %w", err)
	}

	return p, nil
}

// String returns a short debug representation.
func (p Pseudonym) String() string {
	return fmt.Sprintf("%x", p[:4])
}
