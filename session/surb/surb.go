// Package surb manages a session's inventory of reply blocks and the
// balancer that keeps a forward-traffic peer's reply path topped up
// (§3, §4.3, §4.5, component C5). A SURB's own cryptographic construction
// (the pre-built Sphinx header and per-hop secrets it wraps) belongs to
// crypto/sphinx; this package treats it as an opaque, already-built blob
// and owns only its lifecycle: issuance, inventory accounting, and
// rate-controlled top-up.
package surb

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/queue"
)

// SurbId identifies one single-use reply block within a pseudonym's
// inventory (§3).
type SurbId uint32

// SURB is a pre-built reply block: owned by whoever holds it until it is
// handed back to the packet processor at reply time, then consumed (§3).
type SURB struct {
	ID   SurbId
	Blob []byte
}

// Encode serializes a SURB to its wire form: id(4) | blob.
func (s SURB) Encode() []byte {
	out := make([]byte, 4+len(s.Blob))
	binary.BigEndian.PutUint32(out[:4], uint32(s.ID))
	copy(out[4:], s.Blob)
	return out
}

// Decode parses a SURB from its wire form.
func Decode(b []byte) (SURB, error) {
	if len(b) < 4 {
		return SURB{}, fmt.Errorf("surb: blob too short: %d bytes", len(b))
	}

	return SURB{
		ID:   SurbId(binary.BigEndian.Uint32(b[:4])),
		Blob: append([]byte(nil), b[4:]...),
	}, nil
}

// Inventory is the per-pseudonym SURB queue of §4.3/§4.5: a FIFO of unused
// SURBs plus the atomic issued/consumed counters the Balancer reads to
// size its keep-alive stream. The FIFO itself is the teacher's own
// concurrent queue primitive, the same one the mixer uses for its
// release-ready output. Alongside the FIFO, a SurbId-indexed map lets a
// Return send (§4.1) pull a specific SURB out of turn rather than only the
// oldest one, as a "ring indexed by SurbId" requires.
type Inventory struct {
	queue *queue.ConcurrentQueue

	mu    sync.Mutex
	byID  map[SurbId]SURB
	taken map[SurbId]struct{}

	issued   uint64
	consumed uint64
}

// NewInventory builds an empty Inventory.
func NewInventory() *Inventory {
	inv := &Inventory{
		queue: queue.NewConcurrentQueue(64),
		byID:  make(map[SurbId]SURB),
		taken: make(map[SurbId]struct{}),
	}
	inv.queue.Start()
	return inv
}

// Put adds a freshly issued SURB to the inventory.
func (inv *Inventory) Put(s SURB) {
	atomic.AddUint64(&inv.issued, 1)

	inv.mu.Lock()
	inv.byID[s.ID] = s
	inv.mu.Unlock()

	inv.queue.ChanIn() <- s
}

// Take returns the oldest unused SURB, or ok=false if the inventory is
// currently empty. A SURB already removed out of order via TakeByID is
// skipped rather than counted as consumed a second time when its FIFO
// entry is later popped.
func (inv *Inventory) Take() (SURB, bool) {
	for {
		select {
		case v := <-inv.queue.ChanOut():
			s := v.(SURB)

			inv.mu.Lock()
			_, already := inv.taken[s.ID]
			delete(inv.taken, s.ID)
			delete(inv.byID, s.ID)
			inv.mu.Unlock()

			if already {
				continue
			}

			atomic.AddUint64(&inv.consumed, 1)
			return s, true
		default:
			return SURB{}, false
		}
	}
}

// TakeByID removes and returns the SURB with the given id, regardless of
// its position in the FIFO, or ok=false if no such SURB is currently held.
func (inv *Inventory) TakeByID(id SurbId) (SURB, bool) {
	inv.mu.Lock()
	s, ok := inv.byID[id]
	if !ok {
		inv.mu.Unlock()
		return SURB{}, false
	}
	delete(inv.byID, id)
	inv.taken[id] = struct{}{}
	inv.mu.Unlock()

	atomic.AddUint64(&inv.consumed, 1)
	return s, true
}

// TakeEncoded drains up to n SURBs, wire-encoded, for attaching to an
// outgoing packet as a reply-path top-up (§4.1's "attached SURBs").
func (inv *Inventory) TakeEncoded(n int) [][]byte {
	if n <= 0 {
		return nil
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		s, ok := inv.Take()
		if !ok {
			break
		}
		out = append(out, s.Encode())
	}

	return out
}

// Count returns the current estimated inventory size: issued minus
// consumed, matching §4.3's `estimate_sent_surbs() − estimate_used_surbs()`
// from this node's own vantage point.
func (inv *Inventory) Count() int64 {
	return int64(atomic.LoadUint64(&inv.issued)) - int64(atomic.LoadUint64(&inv.consumed))
}

// Drain empties the inventory and stops its queue, returning every SURB
// still held — used when a session closes, so borrowed SURBs are released
// rather than leaked (§5's cancellation note).
func (inv *Inventory) Drain() []SURB {
	var out []SURB
	for {
		s, ok := inv.Take()
		if !ok {
			break
		}
		out = append(out, s)
	}

	inv.queue.Stop()
	return out
}
