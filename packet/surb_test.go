package packet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/session/surb"
	"github.com/hoprnet/hopr-core/ticket"
)

// TestSurbReplyRoundTrip builds a SURB at B addressed back to itself
// through one relay, hands it to A as an attached SURB, and has A spend it
// with SendReply: the completed packet must unwrap at B carrying the
// payload A sent, and A's first-hop ticket to the relay must validate.
func TestSurbReplyRoundTrip(t *testing.T) {
	ledger := newMemLedger()
	resolver := newMemResolver()
	keyIDs := newMemKeyIDs()

	a := newNode(t, ledger, resolver, keyIDs, 1)
	relay := newNode(t, ledger, resolver, keyIDs, 2)
	b := newNode(t, ledger, resolver, keyIDs, 3)

	chARelay := ticket.ChannelID{0x10}
	chRelayB := ticket.ChannelID{0x11}
	ledger.openChannel(chARelay, a.chainKey.Address(), relay.chainKey.Address(), 1_000_000)
	ledger.openChannel(chRelayB, relay.chainKey.Address(), b.chainKey.Address(), 1_000_000)

	bPseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	surbBlob, err := b.proc.BuildSurb(context.Background(),
		[]RouteHop{{PacketKey: relay.packetKey.Public(), Channel: chARelay}}, bPseudonym)
	require.NoError(t, err)

	material, err := DecodeSurbMaterial(surbBlob)
	require.NoError(t, err)
	require.Equal(t, relay.packetKey.Public(), material.FirstHop)

	a.surbs.put(bPseudonym, 7, surbBlob)

	out, err := a.proc.SendReply(context.Background(), bPseudonym, 7, chARelay, []byte("pong"), nil)
	require.NoError(t, err)
	require.Equal(t, relay.packetKey.Public(), out.FirstHop)

	relayIn, err := relay.proc.RecvData(context.Background(), a.packetKey.Public(), out.Bytes)
	require.NoError(t, err)
	require.Equal(t, OutcomeForwarded, relayIn.Outcome)
	require.Equal(t, b.packetKey.Public(), relayIn.NextHop)

	bIn, err := b.proc.RecvData(context.Background(), relay.packetKey.Public(), relayIn.Bytes)
	require.NoError(t, err)
	require.Equal(t, OutcomeFinal, bIn.Outcome)
	require.Equal(t, []byte("pong"), bIn.Plaintext)
	require.Equal(t, bPseudonym, bIn.Pseudonym)

	ackResult, err := a.proc.RecvAck(context.Background(), relay.packetKey.Public(), out.Challenge, relayIn.AckToSend)
	require.NoError(t, err)
	require.Equal(t, chARelay, ackResult.Ticket.ChannelID)
}

// TestSendReplyFailsWithoutStoredSurb exercises the Return variant's
// NotEnoughSurbs case: no SURB was ever stored for this pseudonym/id pair.
func TestSendReplyFailsWithoutStoredSurb(t *testing.T) {
	ledger := newMemLedger()
	resolver := newMemResolver()
	keyIDs := newMemKeyIDs()

	a := newNode(t, ledger, resolver, keyIDs, 1)

	pseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	_, err = a.proc.SendReply(context.Background(), pseudonym, surb.SurbId(1), ticket.ChannelID{}, []byte("x"), nil)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindNotEnoughSurbs, perr.Kind)
}

// TestBuildSurbZeroHop builds a SURB addressed directly back to its
// builder with no relays, matching the 0-hop direct boundary scenario's
// reply leg: the completed reply needs no ticket at all.
func TestBuildSurbZeroHop(t *testing.T) {
	ledger := newMemLedger()
	resolver := newMemResolver()
	keyIDs := newMemKeyIDs()

	a := newNode(t, ledger, resolver, keyIDs, 1)
	b := newNode(t, ledger, resolver, keyIDs, 2)

	bPseudonym, err := crypto.GeneratePseudonym()
	require.NoError(t, err)

	surbBlob, err := b.proc.BuildSurb(context.Background(), nil, bPseudonym)
	require.NoError(t, err)

	a.surbs.put(bPseudonym, 1, surbBlob)

	out, err := a.proc.SendReply(context.Background(), bPseudonym, 1, ticket.ChannelID{}, []byte("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, b.packetKey.Public(), out.FirstHop)

	bIn, err := b.proc.RecvData(context.Background(), a.packetKey.Public(), out.Bytes)
	require.NoError(t, err)
	require.Equal(t, OutcomeFinal, bIn.Outcome)
	require.Equal(t, []byte("hi"), bIn.Plaintext)
}
