package keyresolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/crypto"
)

type fakeSource struct {
	mu     sync.Mutex
	byAddr map[crypto.Address]crypto.PacketKeyPub
	byPub  map[crypto.PacketKeyPub]crypto.Address
	events chan Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		byAddr: make(map[crypto.Address]crypto.PacketKeyPub),
		byPub:  make(map[crypto.PacketKeyPub]crypto.Address),
		events: make(chan Event, 16),
	}
}

func (s *fakeSource) announce(addr crypto.Address, pub crypto.PacketKeyPub) {
	s.mu.Lock()
	s.byAddr[addr] = pub
	s.byPub[pub] = addr
	s.mu.Unlock()

	s.events <- Event{Kind: Announced, ChainKey: addr, PacketKey: pub}
}

func (s *fakeSource) forget(addr crypto.Address, pub crypto.PacketKeyPub) {
	s.mu.Lock()
	delete(s.byAddr, addr)
	delete(s.byPub, pub)
	s.mu.Unlock()

	s.events <- Event{Kind: Forgotten, ChainKey: addr, PacketKey: pub}
}

func (s *fakeSource) PacketKeyOf(_ context.Context, addr crypto.Address) (crypto.PacketKeyPub, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.byAddr[addr]
	return pub, ok, nil
}

func (s *fakeSource) ChainKeyOf(_ context.Context, pub crypto.PacketKeyPub) (crypto.Address, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.byPub[pub]
	return addr, ok, nil
}

func (s *fakeSource) Events(_ context.Context) (<-chan Event, error) {
	return s.events, nil
}

func testKeys(t *testing.T) (crypto.Address, crypto.PacketKeyPub) {
	t.Helper()

	chainKey, err := crypto.GenerateChainKey()
	require.NoError(t, err)

	packetKey, err := crypto.GeneratePacketKey()
	require.NoError(t, err)

	return chainKey.Address(), packetKey.Public()
}

func TestResolverFallsThroughToSourceOnMiss(t *testing.T) {
	source := newFakeSource()
	addr, pub := testKeys(t)
	source.byAddr[addr] = pub
	source.byPub[pub] = addr

	r := New(source)

	got, ok, err := r.PacketKeyOf(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pub, got)

	gotAddr, ok, err := r.ChainKeyOf(context.Background(), pub)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addr, gotAddr)
}

func TestResolverUnknownAddressMisses(t *testing.T) {
	source := newFakeSource()
	r := New(source)

	addr, _ := testKeys(t)

	_, ok, err := r.PacketKeyOf(context.Background(), addr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolverForgottenEventEvictsCacheAndKeyID(t *testing.T) {
	source := newFakeSource()
	addr, pub := testKeys(t)
	source.byAddr[addr] = pub
	source.byPub[pub] = addr

	r := New(source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	source.announce(addr, pub)

	id, err := r.KeyIDFor(ctx, pub)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok, err := r.ChainKeyOf(ctx, pub)
		return err == nil && ok && got == addr
	}, time.Second, time.Millisecond)

	delete(source.byAddr, addr)
	delete(source.byPub, pub)
	source.forget(addr, pub)

	require.Eventually(t, func() bool {
		_, ok, err := r.ChainKeyOf(ctx, pub)
		return err == nil && !ok
	}, time.Second, time.Millisecond)

	_, err = r.ResolveKeyID(ctx, id)
	require.Error(t, err)

	cancel()
	<-runErr
}

func TestKeyIDForIsStableAndBijective(t *testing.T) {
	source := newFakeSource()
	r := New(source)

	_, pubA := testKeys(t)
	_, pubB := testKeys(t)

	idA, err := r.KeyIDFor(context.Background(), pubA)
	require.NoError(t, err)

	idAAgain, err := r.KeyIDFor(context.Background(), pubA)
	require.NoError(t, err)
	require.Equal(t, idA, idAAgain)

	idB, err := r.KeyIDFor(context.Background(), pubB)
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	resolvedA, err := r.ResolveKeyID(context.Background(), idA)
	require.NoError(t, err)
	require.Equal(t, pubA, resolvedA)

	resolvedB, err := r.ResolveKeyID(context.Background(), idB)
	require.NoError(t, err)
	require.Equal(t, pubB, resolvedB)
}
