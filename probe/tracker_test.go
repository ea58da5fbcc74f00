package probe

import (
	"testing"
	"time"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/stretchr/testify/require"
)

func testPeer(b byte) crypto.PacketKeyPub {
	raw := make([]byte, crypto.PacketKeySize)
	raw[0] = b
	p, err := crypto.PacketKeyPubFromBytes(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func TestTrackerStartsPeerHealthy(t *testing.T) {
	tr := New(Config{RTTBudget: 100 * time.Millisecond, UnhealthyAfter: 2, HealthyAfter: 2})
	require.Equal(t, StatusHealthy, tr.Status(testPeer(1)))
}

func TestTrackerFlipsUnhealthyAfterConsecutiveFailures(t *testing.T) {
	tr := New(Config{RTTBudget: 100 * time.Millisecond, UnhealthyAfter: 2, HealthyAfter: 2})
	peer := testPeer(2)

	require.Equal(t, StatusHealthy, tr.Record(peer, 0, false))
	require.Equal(t, StatusUnhealthy, tr.Record(peer, 0, false))
	require.Equal(t, StatusUnhealthy, tr.Status(peer))
}

func TestTrackerFlipsBackHealthyAfterConsecutiveGoodProbes(t *testing.T) {
	tr := New(Config{RTTBudget: 100 * time.Millisecond, UnhealthyAfter: 1, HealthyAfter: 2})
	peer := testPeer(3)

	require.Equal(t, StatusUnhealthy, tr.Record(peer, 0, false))
	require.Equal(t, StatusUnhealthy, tr.Record(peer, 10*time.Millisecond, true))
	require.Equal(t, StatusHealthy, tr.Record(peer, 10*time.Millisecond, true))
}

func TestTrackerOverBudgetRTTCountsAsFailure(t *testing.T) {
	tr := New(Config{RTTBudget: 50 * time.Millisecond, UnhealthyAfter: 1, HealthyAfter: 1})
	peer := testPeer(4)

	require.Equal(t, StatusUnhealthy, tr.Record(peer, 500*time.Millisecond, true))
}

func TestTrackerHealthyFractionOverWindow(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	now := func() time.Time { return clock }

	tr := New(Config{RTTBudget: 50 * time.Millisecond, UnhealthyAfter: 1, HealthyAfter: 1, Now: now})
	peer := testPeer(5)
	require.Equal(t, StatusHealthy, tr.Record(peer, 0, true))

	clock = base.Add(10 * time.Second)
	require.Equal(t, StatusUnhealthy, tr.Record(peer, 0, false))

	clock = base.Add(20 * time.Second)
	require.Equal(t, StatusHealthy, tr.Record(peer, 0, true))

	frac, err := tr.HealthyFraction(peer, base, base.Add(30*time.Second))
	require.NoError(t, err)
	require.InDelta(t, 2.0/3.0, frac, 0.01)
}

func TestTrackerForgetDropsPeerState(t *testing.T) {
	tr := New(Config{RTTBudget: time.Second, UnhealthyAfter: 1, HealthyAfter: 1})
	peer := testPeer(6)

	tr.Record(peer, 0, false)
	require.Equal(t, StatusUnhealthy, tr.Status(peer))

	tr.Forget(peer)
	require.Equal(t, StatusHealthy, tr.Status(peer), "forgotten peer should reset to the optimistic default")
}
