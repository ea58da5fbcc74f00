package sphinx

import "fmt"

// CompleteReply patches a pre-built SURB header (a Packet returned by
// BuildWithSecret using a placeholder all-zero final payload, addressed
// back to the header's own builder) with the real final payload a later
// holder wants to deliver through it, without needing any of the header's
// per-hop secrets.
//
// This works because each delta layer is produced by streamXOR, a stream
// cipher: re-encrypting a buffer that differs only in its final-payload
// region under the same per-hop keys changes the ciphertext only in that
// same region, by exactly the XOR of the two final payloads. numRelays
// must match the relay count the header was originally built with, since
// it determines where that region now sits in the padded delta (§4.1
// send_data Return variant).
func CompleteReply(header *Packet, numRelays int, finalPayload []byte) (*Packet, error) {
	if numRelays < 0 || numRelays > MaxRelays {
		return nil, fmt.Errorf("sphinx: surb path length %d outside [0, %d]", numRelays, MaxRelays)
	}
	if len(finalPayload) > FinalCapacity {
		return nil, fmt.Errorf("sphinx: reply payload %d bytes exceeds capacity %d", len(finalPayload), FinalCapacity)
	}
	if len(header.Delta) != DeltaSize {
		return nil, fmt.Errorf("sphinx: surb header has delta length %d, want %d", len(header.Delta), DeltaSize)
	}

	padLen := (MaxRelays - numRelays) * HopPayloadSize
	end := len(header.Delta) - padLen
	start := end - FinalCapacity

	delta := append([]byte(nil), header.Delta...)
	for i, b := range finalPayload {
		delta[start+i] ^= b
	}

	return &Packet{
		Alpha: header.Alpha,
		Beta:  header.Beta,
		Gamma: header.Gamma,
		Delta: delta,
		Tag:   header.Tag,
	}, nil
}
