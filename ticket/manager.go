package ticket

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hoprnet/hopr-core/crypto/por"
)

// AckResult is the outcome of acknowledging an outgoing ticket (§4.2): the
// revealed half-key always yields a Response, but only a subset of responses
// turn out to beat the channel's win_prob threshold.
type AckResult struct {
	Ticket   Ticket
	Response [32]byte
	Winning  bool
}

// AggregatedTicket is the result of folding a contiguous run of winning
// tickets for a channel epoch into a single ticket suitable for a cheaper
// on-chain redemption (§4.2).
type AggregatedTicket struct {
	Ticket    Ticket
	Responses [][32]byte
	VRFProofs [][]byte
}

// cursor tracks the next unused outgoing index for one (channel, epoch)
// pair. Index monotonicity (§3 invariant 3) is enforced by serializing all
// allocations through this single counter per channel.
type cursor struct {
	mu    sync.Mutex
	epoch uint32
	next  uint64
}

// Manager is the ticket lifecycle state machine (§4.2): it allocates
// monotone indices for outgoing tickets, tracks the unrealized-value
// invariant, validates incoming tickets against a PoR response, and drives
// redemption/aggregation through a Redeemer. It is the sole owner of ticket
// state transitions; Store is its durable backing, never touched directly
// by callers.
type Manager struct {
	store    Store
	redeemer Redeemer

	vrfSecret [32]byte

	mu      sync.Mutex
	cursors map[ChannelID]*cursor
}

// NewManager constructs a Manager. vrfSecret is the node's ChainKey-derived
// VRF secret used in the winning-ticket check (por.IsWinning); it never
// leaves the node.
func NewManager(store Store, redeemer Redeemer, vrfSecret [32]byte) *Manager {
	return &Manager{
		store:     store,
		redeemer:  redeemer,
		vrfSecret: vrfSecret,
		cursors:   make(map[ChannelID]*cursor),
	}
}

// cursorFor returns the allocation cursor for a channel, lazily seeding it
// from the store's LastIndex on first use so a restart resumes past the
// highest index it has ever persisted (§4.2).
func (m *Manager) cursorFor(ctx context.Context, channel ChannelID, epoch uint32) (*cursor, error) {
	m.mu.Lock()
	c, ok := m.cursors[channel]
	m.mu.Unlock()

	if ok {
		c.mu.Lock()
		if c.epoch == epoch {
			c.mu.Unlock()
			return c, nil
		}
		c.mu.Unlock()
	}

	last, found, err := m.store.LastIndex(ctx, channel, epoch)
	if err != nil {
		return nil, &Error{
			Kind:   KindStoreUnavailable,
			Reason: "seed index cursor",
			Err:    err,
		}
	}

	next := uint64(0)
	if found {
		next = last + 1
	}

	c = &cursor{epoch: epoch, next: next}

	m.mu.Lock()
	m.cursors[channel] = c
	m.mu.Unlock()

	return c, nil
}

// NextIndex allocates the next monotone outgoing index for (channel,
// epoch), bumping the in-memory cursor. The caller is responsible for
// building and signing the ticket that carries this index.
func (m *Manager) NextIndex(ctx context.Context, channel ChannelID, epoch uint32) (uint64, error) {
	c, err := m.cursorFor(ctx, channel, epoch)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		// The channel epoch advanced underneath an outstanding
		// cursor; restart allocation at zero for the new epoch
		// rather than continuing a now-meaningless sequence.
		c.epoch = epoch
		c.next = 0
	}

	idx := c.next
	c.next++

	return idx, nil
}

// StoreUnacknowledged records a freshly issued outgoing ticket alongside the
// own half-key used to build its Challenge, keyed by that Challenge until
// the corresponding Acknowledgement arrives.
func (m *Manager) StoreUnacknowledged(ctx context.Context, t Ticket, ownHalfKey por.HalfKey) error {
	err := m.store.StoreUnacknowledged(ctx, t.Challenge, t, ownHalfKey)
	if err == nil {
		return nil
	}

	return &Error{
		Kind:   KindDuplicateChallenge,
		Ticket: &t,
		Reason: "challenge already pending",
		Err:    err,
	}
}

// Acknowledge completes a ticket's PoR once the next hop has revealed its
// half-key in an Acknowledgement (§4.1, §4.2): it derives the Response,
// checks it against the channel's win_prob via the VRF-style check, and on a
// win persists the ticket as winning so it becomes eligible for aggregation
// or redemption.
func (m *Manager) Acknowledge(ctx context.Context, challenge Challenge,
	revealedHalfKey por.HalfKey) (AckResult, error) {

	t, ownHalfKey, ok, err := m.store.TakeUnacknowledged(ctx, challenge)
	if err != nil {
		return AckResult{}, &Error{
			Kind:   KindStoreUnavailable,
			Reason: "take unacknowledged ticket",
			Err:    err,
		}
	}
	if !ok {
		return AckResult{}, &Error{
			Kind:   KindUnknownChallenge,
			Reason: "no unacknowledged ticket for challenge",
		}
	}

	response := por.DeriveResponse(por.HalfKey(ownHalfKey), revealedHalfKey)

	winning := por.IsWinning(t.Hash(), response, m.vrfSecret, t.WinProb)
	if !winning {
		return AckResult{Ticket: t, Response: response, Winning: false}, nil
	}

	if err := m.store.StoreWinning(ctx, t, response); err != nil {
		return AckResult{}, &Error{
			Kind:   KindStoreUnavailable,
			Ticket: &t,
			Reason: "store winning ticket",
			Err:    err,
		}
	}

	return AckResult{Ticket: t, Response: response, Winning: true}, nil
}

// ValidateIncoming checks a ticket presented by a previous hop against the
// conjunctive rule in §4.1: the issuer's signature must verify, the channel
// index must not have been seen before in this epoch, and the declared
// amount/win_prob must meet the network minimums. Callers are expected to
// have already resolved issuer and minWinProb/minPrice from a
// chain.ChannelLedger.
func (m *Manager) ValidateIncoming(ctx context.Context, t Ticket, issuer *btcec.PublicKey,
	minWinProb WinProb, minPrice Amount) error {

	if !t.VerifySignature(issuer) {
		return &Error{
			Kind:   KindInvalid,
			Ticket: &t,
			Reason: "signature does not verify against issuer",
		}
	}

	if t.WinProb < minWinProb {
		return &Error{
			Kind:   KindInvalid,
			Ticket: &t,
			Reason: "win_prob below network minimum",
		}
	}

	if t.Amount.Uint64() < minPrice.Uint64() {
		return &Error{
			Kind:   KindInvalid,
			Ticket: &t,
			Reason: "amount below network minimum price",
		}
	}

	seen, err := m.store.SeenIndex(ctx, t.ChannelID, t.ChannelEpoch, t.Index)
	if err != nil {
		return &Error{
			Kind:   KindStoreUnavailable,
			Ticket: &t,
			Reason: "check index reuse",
			Err:    err,
		}
	}
	if seen {
		return &Error{
			Kind:   KindIndexReused,
			Ticket: &t,
			Reason: fmt.Sprintf("index %d already seen for epoch %d", t.Index, t.ChannelEpoch),
		}
	}

	if err := m.store.RecordIndex(ctx, t.ChannelID, t.ChannelEpoch, t.Index); err != nil {
		return &Error{
			Kind:   KindStoreUnavailable,
			Ticket: &t,
			Reason: "record index",
			Err:    err,
		}
	}

	return nil
}

// CheckUnrealized verifies that accepting a ticket of the given amount would
// not push the channel's unrealized value past its current on-chain balance
// (§3 invariant 4), without mutating any state.
func (m *Manager) CheckUnrealized(ctx context.Context, channel ChannelID, epoch uint32,
	amount Amount, balance uint64) error {

	unrealized, err := m.store.UnrealizedValue(ctx, channel, epoch)
	if err != nil {
		return &Error{
			Kind:   KindStoreUnavailable,
			Reason: "read unrealized value",
			Err:    err,
		}
	}

	if unrealized+amount.Uint64() > balance {
		return &Error{
			Kind:   KindInsufficientBalance,
			Reason: "unrealized value would exceed channel balance",
		}
	}

	return nil
}

// Redeem submits a single winning ticket for on-chain redemption and, on
// success, marks it redeemed so it is excluded from future unrealized-value
// and aggregation queries.
func (m *Manager) Redeem(ctx context.Context, t Ticket, response [32]byte, vrfProof []byte) error {
	if err := m.redeemer.Redeem(ctx, t, response, vrfProof); err != nil {
		return fmt.Errorf("redeem ticket: %w", err)
	}

	if err := m.store.MarkRedeemed(ctx, t.ChannelID, t.ChannelEpoch, []uint64{t.Index}); err != nil {
		return &Error{
			Kind:   KindStoreUnavailable,
			Ticket: &t,
			Reason: "mark redeemed after on-chain confirmation",
			Err:    err,
		}
	}

	return nil
}

// Aggregate folds every unredeemed winning ticket for a channel epoch into a
// single AggregatedTicket and submits it via AggregateAndRedeem, amortizing
// the per-redemption on-chain cost across many off-chain tickets (§4.2).
// Responses and proofs must be supplied in the same order as the tickets
// returned by the store.
func (m *Manager) Aggregate(ctx context.Context, channel ChannelID, epoch uint32,
	responses map[uint64][32]byte, vrfProofs map[uint64][]byte, agg Ticket) (AggregatedTicket, error) {

	tickets, err := m.store.WinningTickets(ctx, channel, epoch)
	if err != nil {
		return AggregatedTicket{}, &Error{
			Kind:   KindStoreUnavailable,
			Reason: "list winning tickets for aggregation",
			Err:    err,
		}
	}
	if len(tickets) == 0 {
		return AggregatedTicket{}, &Error{
			Kind:   KindInvalid,
			Reason: "no winning tickets to aggregate",
		}
	}

	orderedResponses := make([][32]byte, 0, len(tickets))
	orderedProofs := make([][]byte, 0, len(tickets))
	indices := make([]uint64, 0, len(tickets))

	for _, t := range tickets {
		resp, ok := responses[t.Index]
		if !ok {
			return AggregatedTicket{}, &Error{
				Kind:   KindInvalid,
				Ticket: &t,
				Reason: fmt.Sprintf("missing response for index %d", t.Index),
			}
		}

		orderedResponses = append(orderedResponses, resp)
		orderedProofs = append(orderedProofs, vrfProofs[t.Index])
		indices = append(indices, t.Index)
	}

	if err := m.redeemer.AggregateAndRedeem(ctx, agg, orderedResponses, orderedProofs); err != nil {
		return AggregatedTicket{}, fmt.Errorf("aggregate and redeem: %w", err)
	}

	if err := m.store.MarkRedeemed(ctx, channel, epoch, indices); err != nil {
		return AggregatedTicket{}, &Error{
			Kind:   KindStoreUnavailable,
			Reason: "mark redeemed after aggregate confirmation",
			Err:    err,
		}
	}

	return AggregatedTicket{
		Ticket:    agg,
		Responses: orderedResponses,
		VRFProofs: orderedProofs,
	}, nil
}

// OnChannelEvent reacts to a channel lifecycle transition (§4.2): an epoch
// bump purges all ticket state for epochs strictly before newEpoch, a Closed
// event purges newEpoch as well, and both drop any in-memory cursor so the
// next allocation re-seeds from the store.
func (m *Manager) OnChannelEvent(ctx context.Context, channel ChannelID, newEpoch uint32, closed bool) error {
	purgeBefore := newEpoch
	if closed {
		purgeBefore = newEpoch + 1
	}

	if err := m.store.PurgeEpoch(ctx, channel, purgeBefore); err != nil {
		return &Error{
			Kind:   KindStoreUnavailable,
			Reason: "purge epoch on channel event",
			Err:    err,
		}
	}

	m.mu.Lock()
	delete(m.cursors, channel)
	m.mu.Unlock()

	return nil
}

// UnrealizedValue reports the current unrealized-value sum for a channel
// epoch, used by the packet processor to enforce invariant 4 before issuing
// a new outgoing ticket.
func (m *Manager) UnrealizedValue(ctx context.Context, channel ChannelID, epoch uint32) (uint64, error) {
	v, err := m.store.UnrealizedValue(ctx, channel, epoch)
	if err != nil {
		return 0, &Error{
			Kind:   KindStoreUnavailable,
			Reason: "read unrealized value",
			Err:    err,
		}
	}

	return v, nil
}
