// Package session implements the reliable, ordered byte-stream layer built
// on top of the unreliable mixnet datagrams the packet processor exchanges
// (§4.3, component C5): frame segmentation and reassembly, the SURB
// balancer's integration point, and the flow-controlled Session type that
// ties them together.
package session

import (
	"encoding/binary"
	"fmt"
)

// FrameID is the 32-bit, session-monotone frame identifier (§3). It wraps
// back to zero on overflow, which is fatal to the session rather than
// silently reused (§4.3).
type FrameID uint32

// SegmentHeaderSize is the fixed wire prefix of a Segment: frame_id(4) |
// seg_idx(2) | total_segs(2).
const SegmentHeaderSize = 4 + 2 + 2

// Segment is one chunk of an application frame (§3, §4.3), sized to fit
// within the session's configured MTU so it can travel as a single
// packet's payload.
type Segment struct {
	FrameID   FrameID
	SegIdx    uint16
	TotalSegs uint16
	Payload   []byte
}

// Encode serializes the segment to its wire form.
func (s Segment) Encode() []byte {
	out := make([]byte, SegmentHeaderSize+len(s.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(s.FrameID))
	binary.BigEndian.PutUint16(out[4:6], s.SegIdx)
	binary.BigEndian.PutUint16(out[6:8], s.TotalSegs)
	copy(out[SegmentHeaderSize:], s.Payload)
	return out
}

// DecodeSegment parses a Segment from its wire form.
func DecodeSegment(b []byte) (Segment, error) {
	if len(b) < SegmentHeaderSize {
		return Segment{}, fmt.Errorf("session: segment too short: %d bytes", len(b))
	}

	return Segment{
		FrameID:   FrameID(binary.BigEndian.Uint32(b[0:4])),
		SegIdx:    binary.BigEndian.Uint16(b[4:6]),
		TotalSegs: binary.BigEndian.Uint16(b[6:8]),
		Payload:   append([]byte(nil), b[SegmentHeaderSize:]...),
	}, nil
}

// SegmentFrame chunks payload into ≤maxPayload-byte segments tagged with
// frameID. An empty payload still yields a single, zero-length segment so
// that an empty frame is representable on the wire.
func SegmentFrame(frameID FrameID, payload []byte, maxPayload int) ([]Segment, error) {
	if maxPayload <= 0 {
		return nil, fmt.Errorf("session: maxPayload must be positive, got %d", maxPayload)
	}

	if len(payload) == 0 {
		return []Segment{{FrameID: frameID, SegIdx: 0, TotalSegs: 1}}, nil
	}

	total := (len(payload) + maxPayload - 1) / maxPayload
	if total > 0xffff {
		return nil, fmt.Errorf("session: frame %d needs %d segments, exceeds the 16-bit total_segs field",
			frameID, total)
	}

	segments := make([]Segment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}

		segments = append(segments, Segment{
			FrameID:   frameID,
			SegIdx:    uint16(i),
			TotalSegs: uint16(total),
			Payload:   payload[start:end],
		})
	}

	return segments, nil
}
