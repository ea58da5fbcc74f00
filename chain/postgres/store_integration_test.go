//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/ticket"
)

// TestMain spins up a throwaway Postgres container for the duration of this
// package's integration tests, the same boundary-scenario pattern as §8:
// a real TicketStore rather than a mock backs every test below.
func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Println("dockertest: could not connect to docker:", err)
		os.Exit(1)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env:        []string{"POSTGRES_PASSWORD=hopr", "POSTGRES_DB=hopr"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
	})
	if err != nil {
		fmt.Println("dockertest: could not start postgres:", err)
		os.Exit(1)
	}

	dsn = fmt.Sprintf("postgres://postgres:hopr@%s/hopr?sslmode=disable",
		resource.GetHostPort("5432/tcp"))

	if err := pool.Retry(func() error {
		_, err := Connect(context.Background(), dsn)
		return err
	}); err != nil {
		fmt.Println("dockertest: postgres never became ready:", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = pool.Purge(resource)
	os.Exit(code)
}

var dsn string

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func TestStoreUnacknowledgedLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var channel ticket.ChannelID
	channel[0] = 1
	var challenge ticket.Challenge
	challenge[0] = 2

	tk := ticket.Ticket{
		ChannelID:    channel,
		ChannelEpoch: 1,
		Index:        7,
		Amount:       ticket.AmountFromUint64(500),
	}

	require.NoError(t, s.StoreUnacknowledged(ctx, challenge, tk, [32]byte{3}))

	err := s.StoreUnacknowledged(ctx, challenge, tk, [32]byte{3})
	require.Error(t, err)
	var terr *ticket.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, ticket.KindDuplicateChallenge, terr.Kind)

	got, ownKey, ok, err := s.TakeUnacknowledged(ctx, challenge)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tk.Index, got.Index)
	require.Equal(t, byte(3), ownKey[0])

	_, _, ok, err = s.TakeUnacknowledged(ctx, challenge)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreWinningTicketsAndUnrealizedValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var channel ticket.ChannelID
	channel[0] = 9

	t1 := ticket.Ticket{ChannelID: channel, ChannelEpoch: 4, Index: 1, Amount: ticket.AmountFromUint64(100)}
	t2 := ticket.Ticket{ChannelID: channel, ChannelEpoch: 4, Index: 2, Amount: ticket.AmountFromUint64(250)}

	require.NoError(t, s.StoreWinning(ctx, t1, [32]byte{}))
	require.NoError(t, s.StoreWinning(ctx, t2, [32]byte{}))

	value, err := s.UnrealizedValue(ctx, channel, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(350), value)

	require.NoError(t, s.MarkRedeemed(ctx, channel, 4, []uint64{1}))

	value, err = s.UnrealizedValue(ctx, channel, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(250), value)

	remaining, err := s.WinningTickets(ctx, channel, 4)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, uint64(2), remaining[0].Index)
}

func TestStorePurgeEpochAcrossTables(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var channel ticket.ChannelID
	channel[0] = 11

	require.NoError(t, s.StoreWinning(ctx, ticket.Ticket{
		ChannelID: channel, ChannelEpoch: 1, Index: 1, Amount: ticket.AmountFromUint64(1),
	}, [32]byte{}))
	require.NoError(t, s.RecordIndex(ctx, channel, 1, 1))

	require.NoError(t, s.PurgeEpoch(ctx, channel, 2))

	tickets, err := s.WinningTickets(ctx, channel, 1)
	require.NoError(t, err)
	require.Empty(t, tickets)

	seen, err := s.SeenIndex(ctx, channel, 1, 1)
	require.NoError(t, err)
	require.False(t, seen)
}
