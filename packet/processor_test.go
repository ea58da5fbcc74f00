package packet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
	"github.com/hoprnet/hopr-core/replay"
	"github.com/hoprnet/hopr-core/session/surb"
	"github.com/hoprnet/hopr-core/ticket"
)

// memLedger is a fake chain.ChannelLedger (and, structurally, a
// ticket.Redeemer) backing the whole test network: every Processor under
// test shares one instance, mirroring an on-chain view every node sees
// identically.
type memLedger struct {
	mu       sync.Mutex
	byID     map[ticket.ChannelID]chain.Entry
	byRoute  map[[2]crypto.Address]ticket.ChannelID
	minWin   ticket.WinProb
	minPrice ticket.Amount
}

func newMemLedger() *memLedger {
	return &memLedger{
		byID:     make(map[ticket.ChannelID]chain.Entry),
		byRoute:  make(map[[2]crypto.Address]ticket.ChannelID),
		minWin:   ticket.WinProbFromFloat(0.001),
		minPrice: ticket.AmountFromUint64(10),
	}
}

func (l *memLedger) openChannel(id ticket.ChannelID, source, dest crypto.Address, balance uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID[id] = chain.Entry{
		ChannelID:   id,
		Source:      source,
		Destination: dest,
		Balance:     balance,
		Status:      chain.StatusOpen,
		Epoch:       1,
	}
	l.byRoute[[2]crypto.Address{source, dest}] = id
}

func (l *memLedger) Channel(_ context.Context, id ticket.ChannelID) (chain.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[id]
	return e, ok, nil
}

func (l *memLedger) ChannelTo(_ context.Context, source, dest crypto.Address) (chain.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byRoute[[2]crypto.Address{source, dest}]
	if !ok {
		return chain.Entry{}, false, nil
	}
	return l.byID[id], true, nil
}

func (l *memLedger) MinimumWinProb(context.Context) (ticket.WinProb, error) { return l.minWin, nil }

func (l *memLedger) MinimumTicketPrice(context.Context) (ticket.Amount, error) {
	return l.minPrice, nil
}

func (l *memLedger) Redeem(context.Context, ticket.Ticket, [32]byte, []byte) error { return nil }

func (l *memLedger) AggregateAndRedeem(context.Context, ticket.Ticket, [][32]byte, [][]byte) error {
	return nil
}

func (l *memLedger) Events(context.Context) (<-chan chain.Event, error) {
	ch := make(chan chain.Event)
	close(ch)
	return ch, nil
}

// memResolver is a fake chain.KeyResolver shared by the whole test network.
type memResolver struct {
	mu          sync.Mutex
	packetToKey map[crypto.PacketKeyPub]crypto.Address
	keyToPacket map[crypto.Address]crypto.PacketKeyPub
}

func newMemResolver() *memResolver {
	return &memResolver{
		packetToKey: make(map[crypto.PacketKeyPub]crypto.Address),
		keyToPacket: make(map[crypto.Address]crypto.PacketKeyPub),
	}
}

func (r *memResolver) register(pub crypto.PacketKeyPub, addr crypto.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetToKey[pub] = addr
	r.keyToPacket[addr] = pub
}

func (r *memResolver) PacketKeyOf(_ context.Context, addr crypto.Address) (crypto.PacketKeyPub, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pub, ok := r.keyToPacket[addr]
	return pub, ok, nil
}

func (r *memResolver) ChainKeyOf(_ context.Context, pub crypto.PacketKeyPub) (crypto.Address, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.packetToKey[pub]
	return addr, ok, nil
}

// memKeyIDs is a fake KeyIDResolver shared by the whole test network.
type memKeyIDs struct {
	mu     sync.Mutex
	byID   map[sphinx.KeyID]crypto.PacketKeyPub
	byPub  map[crypto.PacketKeyPub]sphinx.KeyID
	nextID sphinx.KeyID
}

func newMemKeyIDs() *memKeyIDs {
	return &memKeyIDs{
		byID:  make(map[sphinx.KeyID]crypto.PacketKeyPub),
		byPub: make(map[crypto.PacketKeyPub]sphinx.KeyID),
	}
}

func (k *memKeyIDs) register(pub crypto.PacketKeyPub) sphinx.KeyID {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextID
	k.nextID++
	k.byID[id] = pub
	k.byPub[pub] = id
	return id
}

func (k *memKeyIDs) KeyIDFor(_ context.Context, pub crypto.PacketKeyPub) (sphinx.KeyID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, ok := k.byPub[pub]
	if !ok {
		return 0, errNotFound
	}
	return id, nil
}

func (k *memKeyIDs) ResolveKeyID(_ context.Context, id sphinx.KeyID) (crypto.PacketKeyPub, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pub, ok := k.byID[id]
	if !ok {
		return crypto.PacketKeyPub{}, errNotFound
	}
	return pub, nil
}

// memStore is a fake ticket.Store, one per node.
type memStore struct {
	mu             sync.Mutex
	unacked        map[ticket.Challenge]unackedEntry
	winning        []ticket.Ticket
	seenIndices    map[ticket.ChannelID]map[uint64]bool
	lastIndex      map[ticket.ChannelID]uint64
	unrealizedSums map[ticket.ChannelID]uint64
}

type unackedEntry struct {
	t       ticket.Ticket
	ownHalf [32]byte
}

func newMemStore() *memStore {
	return &memStore{
		unacked:        make(map[ticket.Challenge]unackedEntry),
		seenIndices:    make(map[ticket.ChannelID]map[uint64]bool),
		lastIndex:      make(map[ticket.ChannelID]uint64),
		unrealizedSums: make(map[ticket.ChannelID]uint64),
	}
}

func (s *memStore) StoreUnacknowledged(_ context.Context, challenge ticket.Challenge, t ticket.Ticket, ownHalfKey [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unacked[challenge]; ok {
		return errDuplicate
	}
	s.unacked[challenge] = unackedEntry{t: t, ownHalf: ownHalfKey}
	s.unrealizedSums[t.ChannelID] += t.Amount.Uint64()
	if t.Index > s.lastIndex[t.ChannelID] {
		s.lastIndex[t.ChannelID] = t.Index
	}
	return nil
}

func (s *memStore) TakeUnacknowledged(_ context.Context, challenge ticket.Challenge) (ticket.Ticket, [32]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.unacked[challenge]
	if !ok {
		return ticket.Ticket{}, [32]byte{}, false, nil
	}
	delete(s.unacked, challenge)
	return e.t, e.ownHalf, true, nil
}

func (s *memStore) StoreWinning(_ context.Context, t ticket.Ticket, _ [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winning = append(s.winning, t)
	return nil
}

func (s *memStore) MarkRedeemed(_ context.Context, channel ticket.ChannelID, _ uint32, indices []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = channel
	_ = indices
	return nil
}

func (s *memStore) WinningTickets(_ context.Context, channel ticket.ChannelID, epoch uint32) ([]ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ticket.Ticket
	for _, t := range s.winning {
		if t.ChannelID == channel && t.ChannelEpoch == epoch {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) UnrealizedValue(_ context.Context, channel ticket.ChannelID, _ uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unrealizedSums[channel], nil
}

func (s *memStore) LastIndex(_ context.Context, channel ticket.ChannelID, _ uint32) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.lastIndex[channel]
	return idx, ok, nil
}

func (s *memStore) SeenIndex(_ context.Context, channel ticket.ChannelID, epoch uint32, index uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.seenIndices[channel]
	if !ok {
		return false, nil
	}
	_ = epoch
	return m[index], nil
}

func (s *memStore) RecordIndex(_ context.Context, channel ticket.ChannelID, _ uint32, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.seenIndices[channel]
	if !ok {
		m = make(map[uint64]bool)
		s.seenIndices[channel] = m
	}
	m[index] = true
	return nil
}

func (s *memStore) PurgeEpoch(_ context.Context, channel ticket.ChannelID, _ uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seenIndices, channel)
	delete(s.lastIndex, channel)
	delete(s.unrealizedSums, channel)
	return nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const (
	errNotFound  = simpleErr("packet test: not found")
	errDuplicate = simpleErr("packet test: duplicate challenge")
)

// memSurbStore is a fake packet.SurbStore: a flat map keyed by pseudonym
// and SurbId, shared by the whole test network the same way memLedger is.
type memSurbStore struct {
	mu   sync.Mutex
	byID map[crypto.Pseudonym]map[surb.SurbId][]byte
}

func newMemSurbStore() *memSurbStore {
	return &memSurbStore{byID: make(map[crypto.Pseudonym]map[surb.SurbId][]byte)}
}

func (s *memSurbStore) put(pseudonym crypto.Pseudonym, id surb.SurbId, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[pseudonym] == nil {
		s.byID[pseudonym] = make(map[surb.SurbId][]byte)
	}
	s.byID[pseudonym][id] = blob
}

func (s *memSurbStore) TakeSurb(pseudonym crypto.Pseudonym, id surb.SurbId) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[pseudonym]
	if !ok {
		return nil, false
	}
	blob, ok := m[id]
	if ok {
		delete(m, id)
	}
	return blob, ok
}

// node bundles one network participant's identities and its own (non-shared)
// ticket state for the test network below.
type node struct {
	packetKey *crypto.PacketKeyPriv
	chainKey  *crypto.ChainKey
	proc      *Processor
	store     *memStore
	surbs     *memSurbStore
}

func newNode(t *testing.T, ledger *memLedger, resolver *memResolver, keyIDs *memKeyIDs, vrfSecret byte) *node {
	t.Helper()

	packetKey, err := crypto.GeneratePacketKey()
	require.NoError(t, err)
	chainKey, err := crypto.GenerateChainKey()
	require.NoError(t, err)

	resolver.register(packetKey.Public(), chainKey.Address())
	keyIDs.register(packetKey.Public())

	store := newMemStore()
	mgr := ticket.NewManager(store, ledger, [32]byte{vrfSecret})
	filter := mustFilter(t)
	surbs := newMemSurbStore()

	proc := NewProcessor(packetKey, chainKey, ledger, resolver, keyIDs, mgr, filter, surbs)

	return &node{packetKey: packetKey, chainKey: chainKey, proc: proc, store: store, surbs: surbs}
}

func mustFilter(t *testing.T) *replay.Filter {
	t.Helper()
	f, err := replay.New(replay.Params{
		Capacity:          1024,
		FalsePositiveRate: 1e-5,
		PersistPath:       t.TempDir() + "/replay",
	})
	require.NoError(t, err)
	return f
}

func TestSendRecvDataThreeHopRoundTrip(t *testing.T) {
	ledger := newMemLedger()
	resolver := newMemResolver()
	keyIDs := newMemKeyIDs()

	sender := newNode(t, ledger, resolver, keyIDs, 1)
	relay := newNode(t, ledger, resolver, keyIDs, 2)
	exit := newNode(t, ledger, resolver, keyIDs, 3)

	chSenderRelay := ticket.ChannelID{0x01}
	chRelayExit := ticket.ChannelID{0x02}
	ledger.openChannel(chSenderRelay, sender.chainKey.Address(), relay.chainKey.Address(), 1_000_000)
	ledger.openChannel(chRelayExit, relay.chainKey.Address(), exit.chainKey.Address(), 1_000_000)

	path := []RouteHop{
		{PacketKey: relay.packetKey.Public(), Channel: chSenderRelay},
		{PacketKey: exit.packetKey.Public(), Channel: chRelayExit},
	}

	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	out, err := sender.proc.SendData(context.Background(), path, pseudonym, []byte("hello mixnet"), nil)
	require.NoError(t, err)

	relayIn, err := relay.proc.RecvData(context.Background(), sender.packetKey.Public(), out.Bytes)
	require.NoError(t, err)
	require.Equal(t, OutcomeForwarded, relayIn.Outcome)
	require.Equal(t, exit.packetKey.Public(), relayIn.NextHop)

	exitIn, err := exit.proc.RecvData(context.Background(), relay.packetKey.Public(), relayIn.Bytes)
	require.NoError(t, err)
	require.Equal(t, OutcomeFinal, exitIn.Outcome)
	require.Equal(t, []byte("hello mixnet"), exitIn.Plaintext)
	require.Equal(t, pseudonym, exitIn.Pseudonym)

	relayAck, err := sender.proc.RecvAck(context.Background(), relay.packetKey.Public(), out.Challenge, relayIn.AckToSend)
	require.NoError(t, err)
	require.Equal(t, relayAck.Ticket.ChannelID, chSenderRelay)

	t.Logf("first-hop ack outcome: %v", relayAck.Ack)
}

func TestRecvDataRejectsTamperedTicket(t *testing.T) {
	ledger := newMemLedger()
	resolver := newMemResolver()
	keyIDs := newMemKeyIDs()

	// A relay hop is required here: a 0-hop direct send issues no ticket
	// at all (§4.1), so tampering needs a real relay->exit ticket to
	// tamper with.
	sender := newNode(t, ledger, resolver, keyIDs, 1)
	relay := newNode(t, ledger, resolver, keyIDs, 2)
	exit := newNode(t, ledger, resolver, keyIDs, 3)

	chSenderRelay := ticket.ChannelID{0x03}
	chRelayExit := ticket.ChannelID{0x04}
	ledger.openChannel(chSenderRelay, sender.chainKey.Address(), relay.chainKey.Address(), 1_000_000)
	ledger.openChannel(chRelayExit, relay.chainKey.Address(), exit.chainKey.Address(), 1_000_000)

	path := []RouteHop{
		{PacketKey: relay.packetKey.Public(), Channel: chSenderRelay},
		{PacketKey: exit.packetKey.Public(), Channel: chRelayExit},
	}

	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	out, err := sender.proc.SendData(context.Background(), path, pseudonym, []byte("x"), nil)
	require.NoError(t, err)

	relayIn, err := relay.proc.RecvData(context.Background(), sender.packetKey.Public(), out.Bytes)
	require.NoError(t, err)
	require.Equal(t, OutcomeForwarded, relayIn.Outcome)

	fm, err := DecodeForwardMessage(relayIn.Bytes)
	require.NoError(t, err)
	fm.Ticket.Amount = ticket.AmountFromUint64(1) // below network minimum
	require.NoError(t, fm.Ticket.Sign(relay.chainKey))

	tampered, err := fm.Encode()
	require.NoError(t, err)

	_, err = exit.proc.RecvData(context.Background(), relay.packetKey.Public(), tampered)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindTicketInvalid, perr.Kind)
}

func TestRecvDataRejectsReplayedPacket(t *testing.T) {
	ledger := newMemLedger()
	resolver := newMemResolver()
	keyIDs := newMemKeyIDs()

	sender := newNode(t, ledger, resolver, keyIDs, 1)
	exit := newNode(t, ledger, resolver, keyIDs, 2)

	chSenderExit := ticket.ChannelID{0x04}
	ledger.openChannel(chSenderExit, sender.chainKey.Address(), exit.chainKey.Address(), 1_000_000)

	path := []RouteHop{{PacketKey: exit.packetKey.Public(), Channel: chSenderExit}}

	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	out, err := sender.proc.SendData(context.Background(), path, pseudonym, []byte("x"), nil)
	require.NoError(t, err)

	_, err = exit.proc.RecvData(context.Background(), sender.packetKey.Public(), out.Bytes)
	require.NoError(t, err)

	_, err = exit.proc.RecvData(context.Background(), sender.packetKey.Public(), out.Bytes)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindBloomReplay, perr.Kind)
}
