package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/ticket"
)

func testTicket(channel ticket.ChannelID, epoch uint32, index uint64, amount uint64) ticket.Ticket {
	return ticket.Ticket{
		ChannelID:    channel,
		ChannelEpoch: epoch,
		Index:        index,
		Amount:       ticket.AmountFromUint64(amount),
	}
}

func TestStoreUnacknowledgedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var channel ticket.ChannelID
	channel[0] = 1
	var challenge ticket.Challenge
	challenge[0] = 2

	tk := testTicket(channel, 1, 5, 100)
	require.NoError(t, s.StoreUnacknowledged(ctx, challenge, tk, [32]byte{9}))

	got, ownKey, ok, err := s.TakeUnacknowledged(ctx, challenge)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tk, got)
	require.Equal(t, byte(9), ownKey[0])

	_, _, ok, err = s.TakeUnacknowledged(ctx, challenge)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreUnacknowledgedRejectsDuplicateChallenge(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var channel ticket.ChannelID
	var challenge ticket.Challenge
	tk := testTicket(channel, 1, 1, 10)

	require.NoError(t, s.StoreUnacknowledged(ctx, challenge, tk, [32]byte{}))

	err := s.StoreUnacknowledged(ctx, challenge, tk, [32]byte{})
	require.Error(t, err)

	var terr *ticket.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, ticket.KindDuplicateChallenge, terr.Kind)
}

func TestStoreWinningAndMarkRedeemedTracksUnrealizedValue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var channel ticket.ChannelID
	channel[0] = 7

	t1 := testTicket(channel, 2, 1, 100)
	t2 := testTicket(channel, 2, 2, 50)

	require.NoError(t, s.StoreWinning(ctx, t1, [32]byte{}))
	require.NoError(t, s.StoreWinning(ctx, t2, [32]byte{}))

	value, err := s.UnrealizedValue(ctx, channel, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(150), value)

	require.NoError(t, s.MarkRedeemed(ctx, channel, 2, []uint64{1}))

	value, err = s.UnrealizedValue(ctx, channel, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(50), value)

	remaining, err := s.WinningTickets(ctx, channel, 2)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, uint64(2), remaining[0].Index)
}

func TestStoreLastIndexTracksHighestOutgoingIndex(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var channel ticket.ChannelID

	require.NoError(t, s.StoreWinning(ctx, testTicket(channel, 1, 3, 1), [32]byte{}))
	require.NoError(t, s.StoreWinning(ctx, testTicket(channel, 1, 9, 1), [32]byte{}))
	require.NoError(t, s.StoreWinning(ctx, testTicket(channel, 1, 5, 1), [32]byte{}))

	idx, ok, err := s.LastIndex(ctx, channel, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(9), idx)

	_, ok, err = s.LastIndex(ctx, channel, 2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreSeenIndexGuardsReuse(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var channel ticket.ChannelID

	seen, err := s.SeenIndex(ctx, channel, 1, 42)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.RecordIndex(ctx, channel, 1, 42))

	seen, err = s.SeenIndex(ctx, channel, 1, 42)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestStorePurgeEpochDropsOnlyOlderEpochs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var channel ticket.ChannelID

	require.NoError(t, s.StoreWinning(ctx, testTicket(channel, 1, 1, 10), [32]byte{}))
	require.NoError(t, s.StoreWinning(ctx, testTicket(channel, 2, 1, 10), [32]byte{}))
	require.NoError(t, s.RecordIndex(ctx, channel, 1, 1))
	require.NoError(t, s.RecordIndex(ctx, channel, 2, 1))

	require.NoError(t, s.PurgeEpoch(ctx, channel, 2))

	epoch1, err := s.WinningTickets(ctx, channel, 1)
	require.NoError(t, err)
	require.Empty(t, epoch1)

	epoch2, err := s.WinningTickets(ctx, channel, 2)
	require.NoError(t, err)
	require.Len(t, epoch2, 1)

	seen, err := s.SeenIndex(ctx, channel, 1, 1)
	require.NoError(t, err)
	require.False(t, seen)
}
