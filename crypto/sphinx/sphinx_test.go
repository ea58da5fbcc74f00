package sphinx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-core/crypto"
)

func genKey(t *testing.T) *crypto.PacketKeyPriv {
	t.Helper()
	priv, err := crypto.GeneratePacketKey()
	require.NoError(t, err)
	return priv
}

// hopPayload builds a HopPayload with arbitrary (round-trip-only) half-key
// commitment points; this package's own tests don't exercise PoR binding,
// that's covered in package packet.
func hopPayload(t *testing.T, nextHop KeyID) [HopPayloadSize]byte {
	t.Helper()

	hp := HopPayload{NextHop: nextHop}
	hp.IssuerHalfKeyPoint[0] = 0x01
	hp.NextHopHalfKeyPoint[0] = 0x02

	b, err := hp.Encode()
	require.NoError(t, err)
	return b
}

func TestBuildUnwrapRoundTripThreeHops(t *testing.T) {
	relay0 := genKey(t)
	relay1 := genKey(t)
	exit := genKey(t)

	relays := []Hop{
		{PacketKey: relay0.Public(), Payload: hopPayload(t, 1)},
		{PacketKey: relay1.Public(), Payload: hopPayload(t, 2)},
	}

	final := FinalPayload{Plaintext: []byte("hello mixnet")}
	finalBytes, err := final.Encode()
	require.NoError(t, err)

	pkt, err := Build(relays, exit.Public(), finalBytes)
	require.NoError(t, err)

	res0, err := Unwrap(relay0, pkt)
	require.NoError(t, err)
	require.False(t, res0.Final)
	require.Equal(t, KeyID(1), res0.HopPayload.NextHop)

	res1, err := Unwrap(relay1, res0.Next)
	require.NoError(t, err)
	require.False(t, res1.Final)
	require.Equal(t, KeyID(2), res1.HopPayload.NextHop)

	res2, err := Unwrap(exit, res1.Next)
	require.NoError(t, err)
	require.True(t, res2.Final)

	decoded, err := DecodeFinalPayload(res2.FinalPayload[:len(final.Plaintext)+FinalPayloadHeaderSize], 0)
	require.NoError(t, err)
	require.Equal(t, final.Plaintext, decoded.Plaintext)
}

func TestBuildUnwrapDirectToExit(t *testing.T) {
	exit := genKey(t)

	final := FinalPayload{Plaintext: []byte("direct")}
	finalBytes, err := final.Encode()
	require.NoError(t, err)

	pkt, err := Build(nil, exit.Public(), finalBytes)
	require.NoError(t, err)

	res, err := Unwrap(exit, pkt)
	require.NoError(t, err)
	require.True(t, res.Final)

	decoded, err := DecodeFinalPayload(res.FinalPayload[:len(final.Plaintext)+FinalPayloadHeaderSize], 0)
	require.NoError(t, err)
	require.Equal(t, final.Plaintext, decoded.Plaintext)
}

func TestUnwrapWrongHopFailsMAC(t *testing.T) {
	relay0 := genKey(t)
	wrongKey := genKey(t)
	exit := genKey(t)

	relays := []Hop{{PacketKey: relay0.Public(), Payload: hopPayload(t, 1)}}

	final := FinalPayload{Plaintext: []byte("x")}
	finalBytes, err := final.Encode()
	require.NoError(t, err)

	pkt, err := Build(relays, exit.Public(), finalBytes)
	require.NoError(t, err)

	_, err = Unwrap(wrongKey, pkt)
	require.ErrorIs(t, err, ErrTagMismatch)
}

func TestUnwrapTamperedGammaDetected(t *testing.T) {
	relay0 := genKey(t)
	exit := genKey(t)

	relays := []Hop{{PacketKey: relay0.Public(), Payload: hopPayload(t, 1)}}

	final := FinalPayload{Plaintext: []byte("y")}
	finalBytes, err := final.Encode()
	require.NoError(t, err)

	pkt, err := Build(relays, exit.Public(), finalBytes)
	require.NoError(t, err)

	pkt.Beta[0] ^= 0xFF

	_, err = Unwrap(relay0, pkt)
	require.ErrorIs(t, err, ErrTagMismatch)
}

func TestBuildRejectsOversizedPath(t *testing.T) {
	exit := genKey(t)

	relays := make([]Hop, MaxRelays+1)
	for i := range relays {
		k := genKey(t)
		relays[i] = Hop{PacketKey: k.Public(), Payload: hopPayload(t, KeyID(i))}
	}

	_, err := Build(relays, exit.Public(), nil)
	require.Error(t, err)
}

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	exit := genKey(t)

	final := FinalPayload{Plaintext: []byte("z")}
	finalBytes, err := final.Encode()
	require.NoError(t, err)

	pkt, err := Build(nil, exit.Public(), finalBytes)
	require.NoError(t, err)

	wire := pkt.Encode()
	decoded, err := DecodePacket(wire)
	require.NoError(t, err)
	require.Equal(t, pkt, decoded)
}
