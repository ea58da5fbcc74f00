// Package ticket implements the ticket lifecycle described in §3 and §4.2:
// the signed probabilistic micropayment attached to outgoing packets, its
// wire encoding, and the state machine that tracks a ticket from issuance
// through acknowledgement to redemption.
package ticket

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/hoprnet/hopr-core/crypto"
)

// WireSize is the exact on-wire size of a Ticket as specified in §6:
// channel_id(32) | amount(12) | index(6) | index_offset(4) | win_prob(7) |
// channel_epoch(3) | challenge(32) | signature(65) = 161 bytes.
const WireSize = 32 + 12 + 6 + 4 + 7 + 3 + 32 + 65

// ChannelID identifies a payment channel between a source and destination.
type ChannelID [32]byte

// Challenge is the EC point binding a ticket to the PoR half-key whose
// preimage the next hop reveals on acknowledgement.
type Challenge [32]byte

// Ticket is a signed promise `{channel_id, amount, win_prob, channel_epoch,
// index, index_offset, challenge}` as described in §3.
type Ticket struct {
	ChannelID    ChannelID
	Amount       Amount
	Index        uint64 // encoded in 6 bytes on the wire
	IndexOffset  uint32
	WinProb      WinProb
	ChannelEpoch uint32 // encoded in 3 bytes on the wire
	Challenge    Challenge
	Signature    [65]byte
}

// Amount is a 96-bit (12-byte) unsigned integer amount, stored as a
// big.Int-compatible byte array to match the wire format exactly.
type Amount [12]byte

// AmountFromUint64 builds an Amount from a uint64 value.
func AmountFromUint64(v uint64) Amount {
	var a Amount
	binary.BigEndian.PutUint64(a[4:], v)
	return a
}

// Uint64 returns the amount as a uint64, truncating any of the top 32 bits
// that are set (amounts in this system never approach that range).
func (a Amount) Uint64() uint64 {
	return binary.BigEndian.Uint64(a[4:])
}

// WinProb is a fixed-point probability in [0, 1] represented as the top
// 56 bits of a 64-bit integer scaled by 2^64, matching the 7-byte wire
// encoding used to compare against a VRF output (§3).
type WinProb uint64

// WinProbFromFloat converts a float64 probability in [0, 1] into its
// fixed-point WinProb representation.
func WinProbFromFloat(p float64) WinProb {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return WinProb(^uint64(0) &^ 0xff)
	}

	return WinProb(p*float64(^uint64(0))) &^ 0xff
}

// signingDigest computes the hash over which the ticket signature is
// produced: every field except the signature itself.
func (t Ticket) signingDigest() [32]byte {
	buf := new(bytes.Buffer)
	buf.Write(t.ChannelID[:])
	buf.Write(t.Amount[:])

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], t.Index)
	buf.Write(idx[2:]) // low 6 bytes

	var offset [4]byte
	binary.BigEndian.PutUint32(offset[:], t.IndexOffset)
	buf.Write(offset[:])

	var wp [8]byte
	binary.BigEndian.PutUint64(wp[:], uint64(t.WinProb))
	buf.Write(wp[:7]) // high 7 bytes

	var epoch [4]byte
	binary.BigEndian.PutUint32(epoch[:], t.ChannelEpoch)
	buf.Write(epoch[1:]) // low 3 bytes

	buf.Write(t.Challenge[:])

	return chainhash.HashH(buf.Bytes())
}

// Sign computes and attaches the ticket's signature using the issuer's
// ChainKey.
func (t *Ticket) Sign(key *crypto.ChainKey) error {
	sig, err := key.Sign(t.signingDigest())
	if err != nil {
		return fmt.Errorf("sign ticket: %w", err)
	}

	t.Signature = sig
	return nil
}

// VerifySignature checks that the ticket's signature was produced by the
// holder of issuer.
func (t Ticket) VerifySignature(issuer *btcec.PublicKey) bool {
	return crypto.VerifySignature(issuer, t.Signature, t.signingDigest())
}

// RecoverIssuer recovers the public key that produced this ticket's
// signature, without needing it supplied by the caller first. A relay
// validating an inbound ticket has no independent source for the issuing
// node's chain public key beyond the on-chain channel's recorded source
// address, so it recovers the signer here and checks the resulting address
// against that record instead.
func (t Ticket) RecoverIssuer() (*btcec.PublicKey, error) {
	return crypto.RecoverChainKey(t.Signature, t.signingDigest())
}

// Hash returns the ticket hash used as input to the winning-probability VRF
// check (§3): H(ticket-without-signature).
func (t Ticket) Hash() [32]byte {
	return t.signingDigest()
}

// Encode serializes the ticket to its fixed 161-byte wire form.
func (t Ticket) Encode() ([WireSize]byte, error) {
	var out [WireSize]byte
	off := 0

	copy(out[off:], t.ChannelID[:])
	off += 32

	copy(out[off:], t.Amount[:])
	off += 12

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], t.Index)
	copy(out[off:], idx[2:])
	off += 6

	var offsetBytes [4]byte
	binary.BigEndian.PutUint32(offsetBytes[:], t.IndexOffset)
	copy(out[off:], offsetBytes[:])
	off += 4

	var wp [8]byte
	binary.BigEndian.PutUint64(wp[:], uint64(t.WinProb))
	copy(out[off:], wp[:7])
	off += 7

	var epoch [4]byte
	binary.BigEndian.PutUint32(epoch[:], t.ChannelEpoch)
	copy(out[off:], epoch[1:])
	off += 3

	copy(out[off:], t.Challenge[:])
	off += 32

	copy(out[off:], t.Signature[:])
	off += 65

	if off != WireSize {
		return out, fmt.Errorf("internal error: wrote %d of %d bytes",
			off, WireSize)
	}

	return out, nil
}

// Decode parses a Ticket from its fixed 161-byte wire form.
func Decode(b []byte) (Ticket, error) {
	var t Ticket

	if len(b) != WireSize {
		return t, fmt.Errorf("ticket: expected %d bytes, got %d",
			WireSize, len(b))
	}

	off := 0
	copy(t.ChannelID[:], b[off:off+32])
	off += 32

	copy(t.Amount[:], b[off:off+12])
	off += 12

	var idx [8]byte
	copy(idx[2:], b[off:off+6])
	t.Index = binary.BigEndian.Uint64(idx[:])
	off += 6

	t.IndexOffset = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	var wp [8]byte
	copy(wp[:7], b[off:off+7])
	t.WinProb = WinProb(binary.BigEndian.Uint64(wp[:]))
	off += 7

	var epoch [4]byte
	copy(epoch[1:], b[off:off+3])
	t.ChannelEpoch = binary.BigEndian.Uint32(epoch[:])
	off += 3

	copy(t.Challenge[:], b[off:off+32])
	off += 32

	copy(t.Signature[:], b[off:off+65])
	off += 65

	return t, nil
}
