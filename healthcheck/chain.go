package healthcheck

import (
	"context"
	"time"

	"github.com/hoprnet/hopr-core/ticket"
)

// ChainPinger is the narrow slice of the on-chain client a liveness check
// needs: any call that must reach the chain to answer at all. Resolving
// the network's current minimum win_prob (§3, used to price every ticket
// this node issues) is already on that path, so it doubles as the probe.
type ChainPinger interface {
	MinimumWinProb(ctx context.Context) (ticket.WinProb, error)
}

// NewChainLivenessObservation builds the Observation that watches client's
// reachability, retrying up to attempts times with backoff between
// failures before requesting shutdown.
func NewChainLivenessObservation(client ChainPinger, interval, timeout,
	backoff time.Duration, attempts int) *Observation {

	return NewObservation(
		"chain client",
		func() error {
			_, err := client.MinimumWinProb(context.Background())
			return err
		},
		interval,
		timeout,
		backoff,
		attempts,
	)
}
