// Package probe tracks per-peer RTT samples and derives a healthy/unhealthy
// status from them (§5's "Probe RTT" timeout rule): a peer is marked
// unhealthy once enough consecutive probes either exceed the configured RTT
// budget or fail outright, and healthy again once enough consecutive probes
// meet it. The event-log-plus-derived-periods shape follows chanfitness's
// peer-uptime tracker, adapted from "online/offline" to "healthy/unhealthy".
package probe

import (
	"fmt"
	"sync"
	"time"

	"github.com/hoprnet/hopr-core/crypto"
)

// Status is a peer's derived health state.
type Status int

const (
	StatusHealthy Status = iota
	StatusUnhealthy
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// statusEvent is a timestamped status transition observed for a peer.
type statusEvent struct {
	at     time.Time
	status Status
}

// peerLog tracks every status transition for one peer, plus the run of
// consecutive probes currently supporting its status.
type peerLog struct {
	now func() time.Time

	mu              sync.Mutex
	events          []statusEvent
	current         Status
	consecutiveBad  int
	consecutiveGood int
}

func newPeerLog(now func() time.Time) *peerLog {
	return &peerLog{
		now:     now,
		current: StatusHealthy,
		events:  []statusEvent{{at: now(), status: StatusHealthy}},
	}
}

// record folds in one probe outcome and returns the resulting status,
// appending a transition event only when the status actually changes.
func (l *peerLog) record(ok bool, unhealthyAfter, healthyAfter int) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ok {
		l.consecutiveGood++
		l.consecutiveBad = 0
	} else {
		l.consecutiveBad++
		l.consecutiveGood = 0
	}

	switch l.current {
	case StatusHealthy:
		if l.consecutiveBad >= unhealthyAfter {
			l.current = StatusUnhealthy
			l.events = append(l.events, statusEvent{at: l.now(), status: StatusUnhealthy})
		}
	case StatusUnhealthy:
		if l.consecutiveGood >= healthyAfter {
			l.current = StatusHealthy
			l.events = append(l.events, statusEvent{at: l.now(), status: StatusHealthy})
		}
	}

	return l.current
}

// healthyFraction computes the fraction of [start, end] during which this
// peer was recorded as healthy, mirroring chanfitness's online-period
// uptime calculation one event kind over.
func (l *peerLog) healthyFraction(start, end time.Time) (float64, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("probe: end %v before start %v", end, start)
	}

	total := end.Sub(start)
	if total <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var healthy time.Duration
	for i, ev := range l.events {
		if ev.status != StatusHealthy {
			continue
		}

		periodEnd := end
		if i+1 < len(l.events) {
			periodEnd = l.events[i+1].at
		}
		periodStart := ev.at

		if periodEnd.Before(start) || periodStart.After(end) {
			continue
		}
		if periodStart.Before(start) {
			periodStart = start
		}
		if periodEnd.After(end) {
			periodEnd = end
		}

		healthy += periodEnd.Sub(periodStart)
	}

	return float64(healthy) / float64(total), nil
}

// Config parameterizes a Tracker's health-transition thresholds (§5).
type Config struct {
	// RTTBudget is the maximum RTT a probe may take before it counts as a
	// failure toward the unhealthy threshold.
	RTTBudget time.Duration

	// UnhealthyAfter is the number of consecutive failed/over-budget
	// probes before a healthy peer flips to unhealthy.
	UnhealthyAfter int

	// HealthyAfter is the number of consecutive in-budget probes before
	// an unhealthy peer flips back to healthy.
	HealthyAfter int

	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Tracker is the set of per-peer health logs for this node's probes.
type Tracker struct {
	cfg Config

	mu    sync.RWMutex
	peers map[crypto.PacketKeyPub]*peerLog
}

// New constructs a Tracker with the given thresholds.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, peers: make(map[crypto.PacketKeyPub]*peerLog)}
}

func (t *Tracker) logFor(peer crypto.PacketKeyPub) *peerLog {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.peers[peer]
	if !ok {
		l = newPeerLog(t.cfg.now)
		t.peers[peer] = l
	}
	return l
}

// Record folds in the outcome of one probe to peer: rtt is the measured
// round-trip time, and ok is false if the probe timed out or otherwise
// failed outright. It returns the peer's resulting status.
func (t *Tracker) Record(peer crypto.PacketKeyPub, rtt time.Duration, ok bool) Status {
	inBudget := ok && rtt <= t.cfg.RTTBudget
	return t.logFor(peer).record(inBudget, t.cfg.UnhealthyAfter, t.cfg.HealthyAfter)
}

// Status reports a peer's current health status. An unprobed peer is
// reported healthy, matching the optimistic default a freshly discovered
// peer should start with.
func (t *Tracker) Status(peer crypto.PacketKeyPub) Status {
	t.mu.RLock()
	l, ok := t.peers[peer]
	t.mu.RUnlock()

	if !ok {
		return StatusHealthy
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// HealthyFraction reports the fraction of [start, end] during which peer
// was recorded as healthy.
func (t *Tracker) HealthyFraction(peer crypto.PacketKeyPub, start, end time.Time) (float64, error) {
	return t.logFor(peer).healthyFraction(start, end)
}

// Forget discards all tracked state for peer, called once the peer's
// identity is no longer known (keyresolver.Forgotten).
func (t *Tracker) Forget(peer crypto.PacketKeyPub) {
	t.mu.Lock()
	delete(t.peers, peer)
	t.mu.Unlock()
}
