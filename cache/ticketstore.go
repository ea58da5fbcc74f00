// Package cache provides write-through accelerators in front of the
// out-of-scope persistence layers this core depends on (§4.5, §9 open
// question 2): a ticket.Store decorator that spares the hot validation path
// a round trip for index-reuse checks and unrealized-value reads, and a
// chain.ChannelLedger decorator that caches channel entries, invalidated by
// the ledger's own event stream. Neither cache is ever consulted as a
// source of truth on its own; every entry is either populated from, or
// invalidated by, the backend it fronts.
package cache

import (
	"context"
	"sync"

	"github.com/hoprnet/hopr-core/ticket"
)

type chanEpoch struct {
	channel ticket.ChannelID
	epoch   uint32
}

type indexKey struct {
	chanEpoch
	index uint64
}

// TicketStore wraps a ticket.Store, adding an in-memory write-through table
// for index-reuse checks and a read-through/invalidate-on-write table for
// unrealized-value sums (§4.5). Every call still reaches the backend on a
// cache miss or a write; the backend remains the single authoritative
// source (§9 open question 2).
type TicketStore struct {
	backend ticket.Store

	seenMu sync.RWMutex
	seen   map[indexKey]struct{}

	unrealizedMu sync.RWMutex
	unrealized   map[chanEpoch]uint64
	unrealizedOK map[chanEpoch]bool
}

// NewTicketStore wraps backend with the write-through tables described
// above. backend is the authoritative store (a Postgres adapter in
// production, an in-memory adapter in tests).
func NewTicketStore(backend ticket.Store) *TicketStore {
	return &TicketStore{
		backend:      backend,
		seen:         make(map[indexKey]struct{}),
		unrealized:   make(map[chanEpoch]uint64),
		unrealizedOK: make(map[chanEpoch]bool),
	}
}

// StoreUnacknowledged forwards to the backend and invalidates the cached
// unrealized-value sum for this channel epoch, since the backend's sum now
// reflects the newly pending ticket.
func (s *TicketStore) StoreUnacknowledged(ctx context.Context, challenge ticket.Challenge,
	t ticket.Ticket, ownHalfKey [32]byte) error {

	if err := s.backend.StoreUnacknowledged(ctx, challenge, t, ownHalfKey); err != nil {
		return err
	}

	s.invalidateUnrealized(t.ChannelID, t.ChannelEpoch)
	return nil
}

// TakeUnacknowledged forwards directly to the backend; a challenge is taken
// at most once, so caching it would never save a round trip.
func (s *TicketStore) TakeUnacknowledged(ctx context.Context, challenge ticket.Challenge) (
	ticket.Ticket, [32]byte, bool, error) {

	return s.backend.TakeUnacknowledged(ctx, challenge)
}

// StoreWinning forwards to the backend and invalidates the cached
// unrealized-value sum for the ticket's channel epoch.
func (s *TicketStore) StoreWinning(ctx context.Context, t ticket.Ticket, response [32]byte) error {
	if err := s.backend.StoreWinning(ctx, t, response); err != nil {
		return err
	}

	s.invalidateUnrealized(t.ChannelID, t.ChannelEpoch)
	return nil
}

// MarkRedeemed forwards to the backend and invalidates the cached
// unrealized-value sum for the affected channel epoch. The indices redeemed
// carry no amount information at this layer, so the cache cannot apply a
// local delta and must fall back to a fresh read on next use.
func (s *TicketStore) MarkRedeemed(ctx context.Context, channel ticket.ChannelID, epoch uint32,
	indices []uint64) error {

	if err := s.backend.MarkRedeemed(ctx, channel, epoch, indices); err != nil {
		return err
	}

	s.invalidateUnrealized(channel, epoch)
	return nil
}

// WinningTickets forwards directly to the backend; aggregation runs are
// infrequent enough that caching the result buys nothing.
func (s *TicketStore) WinningTickets(ctx context.Context, channel ticket.ChannelID,
	epoch uint32) ([]ticket.Ticket, error) {

	return s.backend.WinningTickets(ctx, channel, epoch)
}

// UnrealizedValue serves from the cache on a hit; on a miss it reads
// through to the backend and populates the cache.
func (s *TicketStore) UnrealizedValue(ctx context.Context, channel ticket.ChannelID,
	epoch uint32) (uint64, error) {

	key := chanEpoch{channel, epoch}

	s.unrealizedMu.RLock()
	v, ok := s.unrealizedOK[key]
	cached := s.unrealized[key]
	s.unrealizedMu.RUnlock()

	if ok && v {
		return cached, nil
	}

	fresh, err := s.backend.UnrealizedValue(ctx, channel, epoch)
	if err != nil {
		return 0, err
	}

	s.unrealizedMu.Lock()
	s.unrealized[key] = fresh
	s.unrealizedOK[key] = true
	s.unrealizedMu.Unlock()

	return fresh, nil
}

func (s *TicketStore) invalidateUnrealized(channel ticket.ChannelID, epoch uint32) {
	key := chanEpoch{channel, epoch}

	s.unrealizedMu.Lock()
	delete(s.unrealized, key)
	delete(s.unrealizedOK, key)
	s.unrealizedMu.Unlock()
}

// LastIndex forwards directly to the backend; it is read once per channel
// epoch, at cursor-seed time, so caching it would never save a round trip.
func (s *TicketStore) LastIndex(ctx context.Context, channel ticket.ChannelID,
	epoch uint32) (uint64, bool, error) {

	return s.backend.LastIndex(ctx, channel, epoch)
}

// SeenIndex is the hot path this cache exists for: it is consulted once per
// incoming ticket on every forwarding hop. A cache hit never needs to name
// the backend at all.
func (s *TicketStore) SeenIndex(ctx context.Context, channel ticket.ChannelID, epoch uint32,
	index uint64) (bool, error) {

	key := indexKey{chanEpoch{channel, epoch}, index}

	s.seenMu.RLock()
	_, hit := s.seen[key]
	s.seenMu.RUnlock()

	if hit {
		return true, nil
	}

	return s.backend.SeenIndex(ctx, channel, epoch, index)
}

// RecordIndex writes through to the backend and the in-memory set in the
// same call, so a subsequent SeenIndex for this index never reaches the
// backend again.
func (s *TicketStore) RecordIndex(ctx context.Context, channel ticket.ChannelID, epoch uint32,
	index uint64) error {

	if err := s.backend.RecordIndex(ctx, channel, epoch, index); err != nil {
		return err
	}

	key := indexKey{chanEpoch{channel, epoch}, index}

	s.seenMu.Lock()
	s.seen[key] = struct{}{}
	s.seenMu.Unlock()

	return nil
}

// PurgeEpoch forwards to the backend and drops every cached entry for
// epochs before beforeEpoch, since those entries have no further reader and
// would otherwise grow the cache without bound across epoch bumps.
func (s *TicketStore) PurgeEpoch(ctx context.Context, channel ticket.ChannelID, beforeEpoch uint32) error {
	if err := s.backend.PurgeEpoch(ctx, channel, beforeEpoch); err != nil {
		return err
	}

	s.seenMu.Lock()
	for key := range s.seen {
		if key.channel == channel && key.epoch < beforeEpoch {
			delete(s.seen, key)
		}
	}
	s.seenMu.Unlock()

	s.unrealizedMu.Lock()
	for key := range s.unrealized {
		if key.channel == channel && key.epoch < beforeEpoch {
			delete(s.unrealized, key)
			delete(s.unrealizedOK, key)
		}
	}
	s.unrealizedMu.Unlock()

	return nil
}
