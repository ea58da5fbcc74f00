package hoprnode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/chainevents"
	"github.com/hoprnet/hopr-core/config"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/packet"
	"github.com/hoprnet/hopr-core/ticket"
)

type fakeChainClient struct{}

func (fakeChainClient) Channel(context.Context, ticket.ChannelID) (chain.Entry, bool, error) {
	return chain.Entry{}, false, nil
}

func (fakeChainClient) ChannelTo(context.Context, crypto.Address, crypto.Address) (chain.Entry, bool, error) {
	return chain.Entry{}, false, nil
}

func (fakeChainClient) MinimumWinProb(context.Context) (ticket.WinProb, error) {
	return 0, nil
}

func (fakeChainClient) MinimumTicketPrice(context.Context) (ticket.Amount, error) {
	return ticket.Amount{}, nil
}

func (fakeChainClient) Redeem(context.Context, ticket.Ticket, [32]byte, []byte) error {
	return nil
}

func (fakeChainClient) AggregateAndRedeem(context.Context, ticket.Ticket, [][32]byte, [][]byte) error {
	return nil
}

type fakeIdentityClient struct{}

func (fakeIdentityClient) PacketKeyOf(context.Context, crypto.Address) (crypto.PacketKeyPub, bool, error) {
	return crypto.PacketKeyPub{}, false, nil
}

func (fakeIdentityClient) ChainKeyOf(context.Context, crypto.PacketKeyPub) (crypto.Address, bool, error) {
	return crypto.Address{}, false, nil
}

type fakeRawSource struct {
	events chan chainevents.RawEvent
}

func (f *fakeRawSource) Events(context.Context) (<-chan chainevents.RawEvent, error) {
	return f.events, nil
}

type fakeStore struct{}

func (fakeStore) StoreUnacknowledged(context.Context, ticket.Challenge, ticket.Ticket, [32]byte) error {
	return nil
}

func (fakeStore) TakeUnacknowledged(context.Context, ticket.Challenge) (ticket.Ticket, [32]byte, bool, error) {
	return ticket.Ticket{}, [32]byte{}, false, nil
}

func (fakeStore) StoreWinning(context.Context, ticket.Ticket, [32]byte) error { return nil }

func (fakeStore) MarkRedeemed(context.Context, ticket.ChannelID, uint32, []uint64) error { return nil }

func (fakeStore) WinningTickets(context.Context, ticket.ChannelID, uint32) ([]ticket.Ticket, error) {
	return nil, nil
}

func (fakeStore) UnrealizedValue(context.Context, ticket.ChannelID, uint32) (uint64, error) {
	return 0, nil
}

func (fakeStore) LastIndex(context.Context, ticket.ChannelID, uint32) (uint64, bool, error) {
	return 0, false, nil
}

func (fakeStore) SeenIndex(context.Context, ticket.ChannelID, uint32, uint64) (bool, error) {
	return false, nil
}

func (fakeStore) RecordIndex(context.Context, ticket.ChannelID, uint32, uint64) error { return nil }

func (fakeStore) PurgeEpoch(context.Context, ticket.ChannelID, uint32) error { return nil }

type fakeTransport struct{}

func (fakeTransport) Send(context.Context, crypto.PacketKeyPub, []byte) error { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()

	return config.Config{
		Mix:     config.MixConfig{MinDelay: time.Millisecond, DelayRange: time.Millisecond, Capacity: 4},
		Session: config.SessionConfig{MTU: 1024, FrameTimeout: time.Second, MaxIncompleteFrames: 8, IdleTimeout: time.Minute},
		Surb:    config.SurbConfig{TargetInventory: 4, RefillRateMax: 1},
		Ticket:  config.TicketConfig{MinWinProb: 0.5, MinPrice: 1},
		Bloom: config.BloomConfig{
			Capacity: 1000, FalsePositiveRate: 0.001,
			PersistPath: filepath.Join(t.TempDir(), "tags"),
		},
		Ack:   config.AckConfig{Timeout: time.Second},
		Probe: config.ProbeConfig{RTTBudget: time.Second, UnhealthyAfter: 3, HealthyAfter: 3},
	}
}

func testDeps(t *testing.T) Deps {
	t.Helper()

	packetKey, err := crypto.GeneratePacketKey()
	require.NoError(t, err)
	chainKey, err := crypto.GenerateChainKey()
	require.NoError(t, err)

	return Deps{
		PacketKey:  packetKey,
		ChainKey:   chainKey,
		Chain:      fakeChainClient{},
		Identity:   fakeIdentityClient{},
		RawChain:   &fakeRawSource{events: make(chan chainevents.RawEvent, 1)},
		Tickets:    fakeStore{},
		Redeemer:   fakeChainClient{},
		Transport:  fakeTransport{},
		Registerer: prometheus.NewRegistry(),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	badCfg := testConfig(t)
	badCfg.Mix.Capacity = 0

	_, err := New(badCfg, testDeps(t))
	require.Error(t, err)
}

func TestNodeStartStop(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, n.Start(ctx))
	require.Error(t, n.Start(ctx))

	require.NoError(t, n.Stop())
	require.Error(t, n.Stop())
}

func TestOpenAndCloseSession(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.Start(ctx))
	defer n.Stop()

	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	peerKey, err := crypto.GeneratePacketKey()
	require.NoError(t, err)

	sess := n.OpenSession(pseudonym, []packet.RouteHop{{PacketKey: peerKey.Public()}})
	require.NotNil(t, sess)

	n.CloseSession(pseudonym)
}
