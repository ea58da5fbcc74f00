package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/packet"
	"github.com/hoprnet/hopr-core/session/surb"
)

type fakeSender struct {
	mu  sync.Mutex
	got []sentCall
}

type sentCall struct {
	payload []byte
	surbs   [][]byte
}

func (f *fakeSender) SendData(_ context.Context, _ []packet.RouteHop, _ crypto.Pseudonym,
	payload []byte, surbs [][]byte) (packet.OutgoingPacket, error) {

	f.mu.Lock()
	f.got = append(f.got, sentCall{payload: payload, surbs: surbs})
	f.mu.Unlock()

	return packet.OutgoingPacket{Bytes: payload}, nil
}

type fakeTransport struct {
	mu  sync.Mutex
	got [][]byte
}

func (f *fakeTransport) Send(_ context.Context, _ crypto.PacketKeyPub, wire []byte) error {
	f.mu.Lock()
	f.got = append(f.got, wire)
	f.mu.Unlock()
	return nil
}

func testConfig() Config {
	return Config{
		MTU:                 16,
		FrameTimeout:        time.Minute,
		MaxIncompleteFrames: 8,
		IdleTimeout:         time.Hour,
		Window:              4,
	}
}

func TestSessionSendChunksIntoSegmentsAndForwardsEachToTransport(t *testing.T) {
	sender := &fakeSender{}
	transport := &fakeTransport{}
	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	s := New(testConfig(), pseudonym, nil, sender, transport, clock.NewDefaultClock())

	payload := []byte("this payload is definitely longer than the mtu")
	frameID, err := s.Send(context.Background(), payload, 0)
	require.NoError(t, err)
	require.Equal(t, FrameID(0), frameID)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Greater(t, len(sender.got), 1)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Equal(t, len(sender.got), len(transport.got))
}

func TestSessionDeliverReassemblesAndPublishesOnceComplete(t *testing.T) {
	sender := &fakeSender{}
	transport := &fakeTransport{}
	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	s := New(testConfig(), pseudonym, nil, sender, transport, clock.NewDefaultClock())

	payload := []byte("reply payload that spans a couple of segments")
	segments, err := SegmentFrame(5, payload, 16)
	require.NoError(t, err)

	for i, seg := range segments {
		var surbs [][]byte
		if i == 0 {
			surbs = [][]byte{{0, 0, 0, 1, 'x'}}
		}
		require.NoError(t, s.Deliver(seg.Encode(), surbs))
	}

	select {
	case d := <-s.Deliveries():
		require.Equal(t, FrameID(5), d.FrameID)
		require.Equal(t, payload, d.Payload)
	default:
		t.Fatal("expected a delivery once all segments arrived")
	}

	require.EqualValues(t, 1, s.Inventory().Count())
}

func TestSessionSendRejectsOnceWindowIsFull(t *testing.T) {
	sender := &fakeSender{}
	transport := &fakeTransport{}
	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Window = 1
	cfg.MTU = 1024

	s := New(cfg, pseudonym, nil, sender, transport, clock.NewDefaultClock())

	_, err = s.Send(context.Background(), []byte("first frame"), 0)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), []byte("second frame"), 0)
	require.Error(t, err)
}

func TestSessionCloseDrainsInventory(t *testing.T) {
	sender := &fakeSender{}
	transport := &fakeTransport{}
	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	s := New(testConfig(), pseudonym, nil, sender, transport, clock.NewDefaultClock())
	s.Inventory().Put(surb.SURB{ID: 1})

	drained := s.Close()
	require.Len(t, drained, 1)

	_, err = s.Send(context.Background(), []byte("after close"), 0)
	require.Error(t, err)
}
