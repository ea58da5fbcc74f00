// Package hoprnode wires every independently testable component
// (keyresolver, cache, chainevents, ticket, replay, packet, mixer, probe,
// workpool, healthcheck) into one running node: atomic started/stopped
// guards and a WaitGroup for the background goroutines each collaborator
// owns, cancelled as a unit, plus a healthcheck.Monitor watching the
// externally-owned ChainClient for liveness.
package hoprnode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hoprnet/hopr-core/cache"
	"github.com/hoprnet/hopr-core/chainevents"
	"github.com/hoprnet/hopr-core/config"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/healthcheck"
	"github.com/hoprnet/hopr-core/keyresolver"
	"github.com/hoprnet/hopr-core/mixer"
	"github.com/hoprnet/hopr-core/packet"
	"github.com/hoprnet/hopr-core/probe"
	"github.com/hoprnet/hopr-core/replay"
	"github.com/hoprnet/hopr-core/session"
	"github.com/hoprnet/hopr-core/session/surb"
	"github.com/hoprnet/hopr-core/ticket"
	"github.com/hoprnet/hopr-core/workpool"
)

// chainLivenessInterval is how often the health monitor checks that the
// configured ChainClient still answers.
const chainLivenessInterval = 30 * time.Second

// Deps bundles every externally-owned collaborator a Node needs but never
// constructs itself: on-chain access, durable ticket storage, and the
// network transport. None of these are this package's concern to build —
// §1 places the on-chain client and P2P transport out of scope as features,
// while still requiring something concrete to drive here.
type Deps struct {
	PacketKey *crypto.PacketKeyPriv
	ChainKey  *crypto.ChainKey
	VRFSecret [32]byte

	Chain    ChainClient
	Identity IdentityClient
	RawChain chainevents.RawSource

	Tickets  ticket.Store
	Redeemer ticket.Redeemer

	Transport session.Transport

	// Registerer collects the node's Prometheus metrics. Nil disables
	// metrics reporting entirely rather than panicking on registration.
	Registerer prometheus.Registerer
}

// Node is one running HOPR mixnet node: the fully wired data plane
// described across §4-§6, started and stopped as a unit.
type Node struct {
	cfg  config.Config
	deps Deps

	dispatcher    *chainevents.Dispatcher
	resolver      *keyresolver.Resolver
	ledger        *cache.ChannelLedger
	ticketStore   *cache.TicketStore
	ticketManager *ticket.Manager
	replayFilter  *replay.Filter
	processor     *packet.Processor
	mixer         *mixer.Mixer
	probes        *probe.Tracker
	pool          *workpool.Pool
	health        *healthcheck.Monitor

	started  int32
	stopped  int32
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopErrs chan error

	mu       sync.Mutex
	sessions map[crypto.Pseudonym]*session.Session
}

// New validates cfg and wires every collaborator together, but starts
// nothing; call Start to run it.
func New(cfg config.Config, deps Deps) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hoprnode: invalid config: %w", err)
	}

	dispatcher := chainevents.NewDispatcher(deps.RawChain)

	rawLedger := &dispatcherLedger{ChainClient: deps.Chain, dispatcher: dispatcher}
	ledger := cache.NewChannelLedger(rawLedger)

	identitySource := &dispatcherIdentitySource{IdentityClient: deps.Identity, dispatcher: dispatcher}
	resolver := keyresolver.New(identitySource)

	replayFilter, err := replay.New(replay.Params{
		Capacity:          cfg.Bloom.Capacity,
		FalsePositiveRate: cfg.Bloom.FalsePositiveRate,
		PersistPath:       cfg.Bloom.PersistPath,
	})
	if err != nil {
		return nil, fmt.Errorf("hoprnode: build replay filter: %w", err)
	}

	ticketStore := cache.NewTicketStore(deps.Tickets)
	ticketManager := ticket.NewManager(ticketStore, deps.Redeemer, deps.VRFSecret)

	n := &Node{
		cfg:           cfg,
		deps:          deps,
		dispatcher:    dispatcher,
		resolver:      resolver,
		ledger:        ledger,
		ticketStore:   ticketStore,
		ticketManager: ticketManager,
		replayFilter:  replayFilter,
		mixer:         mixer.New(cfg.Mix.MinDelay, cfg.Mix.DelayRange, cfg.Mix.Capacity),
		probes: probe.New(probe.Config{
			RTTBudget:      cfg.Probe.RTTBudget,
			UnhealthyAfter: cfg.Probe.UnhealthyAfter,
			HealthyAfter:   cfg.Probe.HealthyAfter,
		}),
		pool:     workpool.New(cfg.Mix.Capacity),
		loopErrs: make(chan error, 4),
		sessions: make(map[crypto.Pseudonym]*session.Session),
	}

	// The processor needs n itself as its SurbStore (resolving a Return
	// send's pseudonym against the live sessions map), so it is built only
	// once n's sessions map already exists.
	n.processor = packet.NewProcessor(deps.PacketKey, deps.ChainKey, ledger, resolver,
		resolver, ticketManager, replayFilter, n)

	if deps.Registerer != nil {
		n.pool.WithMetrics(workpool.NewMetrics(deps.Registerer, cfg.Mix.Capacity))
	}

	n.health = healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{
			healthcheck.NewChainLivenessObservation(deps.Chain, chainLivenessInterval,
				cfg.Probe.RTTBudget, time.Second, 3),
		},
		Shutdown: func(format string, params ...interface{}) {
			n.recordLoopErr(fmt.Errorf(format, params...))
		},
	})

	return n, nil
}

// TakeSurb implements packet.SurbStore by resolving pseudonym to its live
// session and delegating to that session's own SURB inventory.
func (n *Node) TakeSurb(pseudonym crypto.Pseudonym, id surb.SurbId) ([]byte, bool) {
	n.mu.Lock()
	sess, ok := n.sessions[pseudonym]
	n.mu.Unlock()

	if !ok {
		return nil, false
	}

	s, ok := sess.Inventory().TakeByID(id)
	if !ok {
		return nil, false
	}

	return s.Blob, true
}

// Start launches every background loop (the dispatcher's drain loop, the
// resolver's invalidation loop, the cached ledger's invalidation loop, the
// mixer's release loop) in their own goroutines, each scoped to a context
// derived from ctx that Stop cancels.
func (n *Node) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&n.started, 0, 1) {
		return errors.New("hoprnode: node already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if err := n.health.Start(); err != nil {
		cancel()
		return fmt.Errorf("hoprnode: start health monitor: %w", err)
	}

	log.Infof("node starting")

	loops := []func(context.Context) error{
		n.dispatcher.Run,
		n.resolver.Run,
		n.ledger.Run,
		n.mixer.Run,
	}

	for _, loop := range loops {
		loop := loop
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := loop(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				n.recordLoopErr(err)
			}
		}()
	}

	return nil
}

func (n *Node) recordLoopErr(err error) {
	log.Errorf("background loop failed: %v", err)

	select {
	case n.loopErrs <- err:
	default:
	}
}

// LoopErrors returns the channel a background loop's unexpected exit is
// reported on; it is never closed.
func (n *Node) LoopErrors() <-chan error {
	return n.loopErrs
}

// Stop cancels every background loop's context and waits for them to
// return.
func (n *Node) Stop() error {
	if !atomic.CompareAndSwapInt32(&n.stopped, 0, 1) {
		return errors.New("hoprnode: node already stopped")
	}

	n.cancel()
	n.wg.Wait()

	if err := n.health.Stop(); err != nil {
		return fmt.Errorf("hoprnode: stop health monitor: %w", err)
	}

	log.Infof("node stopped")

	return nil
}

// Processor returns the node's packet processor, the collaborator a
// Session is built against as its DataSender.
func (n *Node) Processor() *packet.Processor {
	return n.processor
}

// Probes returns the node's peer-health tracker.
func (n *Node) Probes() *probe.Tracker {
	return n.probes
}

// Pool returns the node's bounded-concurrency worker pool, for batched
// operations like onion decoding that want to respect the same
// concurrency budget as packet forwarding.
func (n *Node) Pool() *workpool.Pool {
	return n.pool
}

// OpenSession starts a new Session for pseudonym along path, registering it
// so RecvData's reassembled output (not yet wired to a transport-facing
// dispatch loop, since inbound delivery is transport-specific) can be
// routed back to it by Pseudonym.
func (n *Node) OpenSession(pseudonym crypto.Pseudonym, path []packet.RouteHop) *session.Session {
	sess := session.New(session.Config{
		MTU:                 n.cfg.Session.MTU,
		FrameTimeout:        n.cfg.Session.FrameTimeout,
		MaxIncompleteFrames: n.cfg.Session.MaxIncompleteFrames,
		IdleTimeout:         n.cfg.Session.IdleTimeout,
		Window:              defaultSessionWindow,
	}, pseudonym, path, n.processor, n.deps.Transport, clock.NewDefaultClock())

	n.mu.Lock()
	n.sessions[pseudonym] = sess
	n.mu.Unlock()

	return sess
}

// CloseSession closes and forgets the session for pseudonym, if any.
func (n *Node) CloseSession(pseudonym crypto.Pseudonym) {
	n.mu.Lock()
	sess, ok := n.sessions[pseudonym]
	delete(n.sessions, pseudonym)
	n.mu.Unlock()

	if ok {
		sess.Close()
	}
}

// defaultSessionWindow bounds outstanding frames per session; it is not
// named in config.SessionConfig since §6 only surfaces it as an internal
// flow-control knob, not an operator-tunable one.
const defaultSessionWindow = 64
