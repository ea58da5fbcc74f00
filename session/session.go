package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/packet"
	"github.com/hoprnet/hopr-core/session/surb"
)

// Kind classifies a session-layer failure (§7).
type Kind string

const (
	KindClosed              Kind = "session_closed"
	KindWindowFull          Kind = "window_full"
	KindFrameIDExhausted    Kind = "frame_id_exhausted"
	KindSegment             Kind = "segment_error"
	KindSendData            Kind = "send_data_error"
	KindTransport           Kind = "transport_error"
	KindReassemble          Kind = "reassemble_error"
)

// Error is the Session package's structured error type, in the style of
// packet.Error and ticket.Error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("session: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Config is the set of per-session knobs named in §6.
type Config struct {
	MTU                 int
	FrameTimeout        time.Duration
	MaxIncompleteFrames int
	IdleTimeout         time.Duration

	// Window bounds outstanding (sent but not yet reassembled-as-
	// delivered-by-the-peer) frames this session will carry at once —
	// the flow-control limit of §4.3. Send rejects a new frame with
	// KindWindowFull while the limit is reached; it does not wait for room.
	Window int
}

// Transport hands a built wire packet to the network, addressed at
// firstHop. It is the send half of the sink pair §9 uses to resolve the
// session↔packet-processor cyclic dependency.
type Transport interface {
	Send(ctx context.Context, firstHop crypto.PacketKeyPub, wire []byte) error
}

// DataSender is the subset of packet.Processor a Session drives directly
// to build outgoing wire packets; recv_data/recv_ack remain the relay
// dispatcher's concern and reach a Session only once decoded, via Deliver.
type DataSender interface {
	SendData(ctx context.Context, path []packet.RouteHop, pseudonym crypto.Pseudonym,
		payload []byte, surbs [][]byte) (packet.OutgoingPacket, error)
}

// Delivery is one fully reassembled frame handed to the application.
type Delivery struct {
	FrameID FrameID
	Payload []byte
}

// Discard reports a frame that was dropped before it could be delivered.
type Discard struct {
	FrameID FrameID
	Reason  FrameDiscardReason
}

// Session is one reliable, ordered byte stream multiplexed over the
// mixnet (§4.3): it owns one Pseudonym and one forward path, chunks
// application writes into Segments handed to the packet processor one at
// a time, and reassembles whatever a relay dispatcher delivers back to it
// by Pseudonym via Deliver.
type Session struct {
	cfg       Config
	pseudonym crypto.Pseudonym
	path      []packet.RouteHop

	sender    DataSender
	transport Transport

	reassembler *Reassembler
	inventory   *surb.Inventory

	nextFrameID uint32

	mu                sync.Mutex
	outstandingFrames map[FrameID]struct{}
	closed            bool

	deliveries chan Delivery
	discards   chan Discard
}

// New builds a Session for pseudonym, sending along path.
func New(cfg Config, pseudonym crypto.Pseudonym, path []packet.RouteHop,
	sender DataSender, transport Transport, clk clock.Clock) *Session {

	s := &Session{
		cfg:               cfg,
		pseudonym:         pseudonym,
		path:              path,
		sender:            sender,
		transport:         transport,
		inventory:         surb.NewInventory(),
		outstandingFrames: make(map[FrameID]struct{}),
		deliveries:        make(chan Delivery, cfg.Window+1),
		discards:          make(chan Discard, cfg.Window+1),
	}

	s.reassembler = NewReassembler(clk, cfg.FrameTimeout, cfg.MaxIncompleteFrames, s.onDiscard)

	return s
}

func (s *Session) onDiscard(id FrameID, reason FrameDiscardReason) {
	s.mu.Lock()
	delete(s.outstandingFrames, id)
	s.mu.Unlock()

	select {
	case s.discards <- Discard{FrameID: id, Reason: reason}:
	default:
	}
}

// Deliveries returns the channel of reassembled frames; the caller must
// drain it for the session's lifetime.
func (s *Session) Deliveries() <-chan Delivery { return s.deliveries }

// Discards returns the channel of frames dropped before delivery.
func (s *Session) Discards() <-chan Discard { return s.discards }

// Inventory returns the session's SURB inventory, for a balancer to draw
// estimates from and top up.
func (s *Session) Inventory() *surb.Inventory { return s.inventory }

// Send chunks payload into one frame's worth of segments and hands each
// to the packet processor as its own outgoing packet, attaching up to
// maxSurbsPerPacket SURBs from the inventory to each one as a reply-path
// top-up. Once the number of outstanding frames reaches the configured
// window (§4.3's flow-control rule), Send returns a KindWindowFull error at
// once; it does not block waiting for the window to open.
func (s *Session) Send(ctx context.Context, payload []byte, maxSurbsPerPacket int) (FrameID, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, newErr(KindClosed, nil)
	}
	if len(s.outstandingFrames) >= s.cfg.Window {
		s.mu.Unlock()
		return 0, newErr(KindWindowFull, nil)
	}
	s.mu.Unlock()

	rawID := atomic.AddUint32(&s.nextFrameID, 1)
	if rawID == 0 {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return 0, newErr(KindFrameIDExhausted, nil)
	}
	frameID := FrameID(rawID - 1)

	segments, err := SegmentFrame(frameID, payload, s.cfg.MTU)
	if err != nil {
		return 0, newErr(KindSegment, err)
	}

	s.mu.Lock()
	s.outstandingFrames[frameID] = struct{}{}
	s.mu.Unlock()

	for _, seg := range segments {
		surbs := s.inventory.TakeEncoded(maxSurbsPerPacket)

		out, err := s.sender.SendData(ctx, s.path, s.pseudonym, seg.Encode(), surbs)
		if err != nil {
			return frameID, newErr(KindSendData, err)
		}

		if err := s.transport.Send(ctx, out.FirstHop, out.Bytes); err != nil {
			return frameID, newErr(KindTransport, err)
		}
	}

	return frameID, nil
}

// Deliver feeds one decoded Final-outcome payload and any SURBs that
// travelled with it into the session: the segment is reassembled, and the
// SURBs are inserted into the inventory (§4.1's "attached SURBs are
// inserted into the inventory").
func (s *Session) Deliver(payload []byte, attachedSurbs [][]byte) error {
	seg, err := DecodeSegment(payload)
	if err != nil {
		return newErr(KindReassemble, err)
	}

	for _, raw := range attachedSurbs {
		r, err := surb.Decode(raw)
		if err != nil {
			continue
		}
		s.inventory.Put(r)
	}

	full, ok, err := s.reassembler.Add(seg)
	if err != nil {
		return newErr(KindReassemble, err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	delete(s.outstandingFrames, seg.FrameID)
	s.mu.Unlock()

	select {
	case s.deliveries <- Delivery{FrameID: seg.FrameID, Payload: full}:
	default:
	}

	return nil
}

// Close marks the session closed and releases any SURBs still held in its
// inventory, matching §5's cancellation note that closing a session
// returns borrowed SURBs rather than leaking them.
func (s *Session) Close() []surb.SURB {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return s.inventory.Drain()
}
