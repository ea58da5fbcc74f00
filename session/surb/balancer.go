package surb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/time/rate"
)

// KeepAlive is a control message carrying one freshly built SURB toward a
// session peer, emitted by the Balancer to keep that peer's reply
// inventory topped up (§4.3).
type KeepAlive struct {
	Surb SURB
}

// Builder constructs a fresh SURB ready to be sent to the peer as part of
// a KeepAlive. In production this wraps the packet processor's SURB
// construction (crypto/sphinx); tests can supply a trivial counter-backed
// stub.
type Builder func() (SURB, error)

// Balancer tracks a session peer's reply inventory from this node's own
// vantage point — SURBs sent minus SURBs the peer has reported consuming
// via a piggybacked counter — and emits a rate-limited stream of
// KeepAlive messages sized to close the gap to a target level (§4.3).
type Balancer struct {
	target       int64
	refillWindow time.Duration

	sent         uint64
	usedReported uint64

	clock   clock.Clock
	ticker  ticker.Ticker
	limiter *rate.Limiter
	build   Builder

	out chan KeepAlive
}

// NewBalancer builds a Balancer targeting inventory level target at the
// peer, refilling over refillWindow, driven by tick and backed by clk for
// rate-estimation timestamps.
func NewBalancer(target int64, refillWindow time.Duration, clk clock.Clock,
	tick ticker.Ticker, build Builder) *Balancer {

	return &Balancer{
		target:       target,
		refillWindow: refillWindow,
		clock:        clk,
		ticker:       tick,
		limiter:      rate.NewLimiter(0, 1),
		build:        build,
		out:          make(chan KeepAlive, 16),
	}
}

// ReportUsed records SURBs the peer has consumed, learned via a
// piggybacked counter on an incoming acknowledgement or data packet.
func (b *Balancer) ReportUsed(n uint64) {
	atomic.AddUint64(&b.usedReported, n)
}

// estimate returns the current estimated peer-side inventory level, §4.3's
// `I = sent − used`.
func (b *Balancer) estimate() int64 {
	return int64(atomic.LoadUint64(&b.sent)) - int64(atomic.LoadUint64(&b.usedReported))
}

// KeepAlives returns the stream of messages to send to the peer. Run must
// be driving the Balancer concurrently for anything to arrive on it.
func (b *Balancer) KeepAlives() <-chan KeepAlive { return b.out }

// Run drives the refill loop until ctx is cancelled: on every tick it
// recomputes the target rate from the current gap to target and the
// configured refill window, applies it to the rate limiter, and — once
// the limiter allows a send — builds and emits one KeepAlive.
func (b *Balancer) Run(ctx context.Context) error {
	b.ticker.Resume()
	defer b.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-b.ticker.Ticks():
			gap := b.target - b.estimate()
			if gap <= 0 {
				b.limiter.SetLimit(0)
				continue
			}

			rps := float64(gap) / b.refillWindow.Seconds()
			b.limiter.SetLimit(rate.Limit(rps))

			if !b.limiter.AllowN(b.clock.Now(), 1) {
				continue
			}

			s, err := b.build()
			if err != nil {
				continue
			}
			atomic.AddUint64(&b.sent, 1)

			select {
			case b.out <- KeepAlive{Surb: s}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
