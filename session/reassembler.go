package session

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// FrameDiscardReason distinguishes why a frame never reached delivery
// (§4.3's `FrameDiscarded`).
type FrameDiscardReason int

const (
	// DiscardTimeout indicates the frame sat incomplete past frame_timeout.
	DiscardTimeout FrameDiscardReason = iota

	// DiscardEvicted indicates the partial-frame map exceeded
	// max_incomplete_frames and this frame was the oldest.
	DiscardEvicted
)

type discardEvent struct {
	id     FrameID
	reason FrameDiscardReason
}

type partialFrame struct {
	total     uint16
	have      uint16
	segments  [][]byte
	firstSeen time.Time
	elem      *list.Element
}

// Reassembler maintains the bounded frame_id → PartialFrame map described
// in §4.3. A frame is delivered once every segment index has arrived. A
// frame whose first segment arrived more than frameTimeout ago is
// discarded; if the map would grow past maxIncomplete, the oldest
// (by first-seen order) incomplete frame is evicted to make room.
type Reassembler struct {
	clock clock.Clock

	frameTimeout  time.Duration
	maxIncomplete int

	mu     sync.Mutex
	frames map[FrameID]*partialFrame
	order  *list.List

	onDiscard func(FrameID, FrameDiscardReason)
}

// NewReassembler builds a Reassembler. onDiscard, if non-nil, is called
// synchronously (under no lock) whenever a frame is discarded instead of
// delivered.
func NewReassembler(clk clock.Clock, frameTimeout time.Duration, maxIncomplete int,
	onDiscard func(FrameID, FrameDiscardReason)) *Reassembler {

	return &Reassembler{
		clock:         clk,
		frameTimeout:  frameTimeout,
		maxIncomplete: maxIncomplete,
		frames:        make(map[FrameID]*partialFrame),
		order:         list.New(),
		onDiscard:     onDiscard,
	}
}

// Add feeds one segment into the reassembler. It returns the frame's full
// payload, concatenated in segment-index order, the moment the frame
// completes; ok is false while the frame remains partial.
func (r *Reassembler) Add(seg Segment) (payload []byte, ok bool, err error) {
	if seg.TotalSegs == 0 || seg.SegIdx >= seg.TotalSegs {
		return nil, false, fmt.Errorf("session: segment index %d out of range for %d total segments",
			seg.SegIdx, seg.TotalSegs)
	}

	// Registered before the unlock so that it runs after it: onDiscard is
	// called with r.mu released.
	var discarded []discardEvent
	defer func() {
		for _, d := range discarded {
			if r.onDiscard != nil {
				r.onDiscard(d.id, d.reason)
			}
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	discarded = append(discarded, r.evictExpiredLocked()...)

	pf, exists := r.frames[seg.FrameID]
	if !exists {
		if len(r.frames) >= r.maxIncomplete {
			if victim, ok := r.evictOldestLocked(); ok {
				discarded = append(discarded, victim)
			}
		}

		pf = &partialFrame{
			total:     seg.TotalSegs,
			segments:  make([][]byte, seg.TotalSegs),
			firstSeen: r.clock.Now(),
		}
		pf.elem = r.order.PushBack(seg.FrameID)
		r.frames[seg.FrameID] = pf
	}

	if seg.TotalSegs != pf.total {
		return nil, false, fmt.Errorf("session: frame %d changed total_segs from %d to %d",
			seg.FrameID, pf.total, seg.TotalSegs)
	}

	if pf.segments[seg.SegIdx] == nil {
		pf.segments[seg.SegIdx] = seg.Payload
		pf.have++
	}

	if pf.have < pf.total {
		return nil, false, nil
	}

	r.order.Remove(pf.elem)
	delete(r.frames, seg.FrameID)

	size := 0
	for _, s := range pf.segments {
		size += len(s)
	}
	full := make([]byte, 0, size)
	for _, s := range pf.segments {
		full = append(full, s...)
	}

	return full, true, nil
}

func (r *Reassembler) evictExpiredLocked() []discardEvent {
	var out []discardEvent

	cutoff := r.clock.Now().Add(-r.frameTimeout)
	for {
		front := r.order.Front()
		if front == nil {
			return out
		}

		id := front.Value.(FrameID)
		if r.frames[id].firstSeen.After(cutoff) {
			return out
		}

		r.order.Remove(front)
		delete(r.frames, id)
		out = append(out, discardEvent{id, DiscardTimeout})
	}
}

func (r *Reassembler) evictOldestLocked() (discardEvent, bool) {
	front := r.order.Front()
	if front == nil {
		return discardEvent{}, false
	}

	id := front.Value.(FrameID)
	r.order.Remove(front)
	delete(r.frames, id)

	return discardEvent{id, DiscardEvicted}, true
}
