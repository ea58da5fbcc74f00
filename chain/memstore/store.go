// Package memstore provides in-memory ticket.Store and chain.ChannelLedger
// implementations for tests and local development (§4.2, §6) — the
// reusable counterpart to chain/postgres, keyed by (channel, epoch) the
// same way the Postgres schema is.
package memstore

import (
	"context"
	"sync"

	"github.com/hoprnet/hopr-core/ticket"
)

type chanEpoch struct {
	channel ticket.ChannelID
	epoch   uint32
}

type unackedEntry struct {
	t          ticket.Ticket
	ownHalfKey [32]byte
}

// Store is an in-memory ticket.Store, guarded by a single mutex. It is not
// meant to scale the way chain/postgres does; it exists for tests and
// single-process development nodes.
type Store struct {
	mu sync.Mutex

	unacked   map[ticket.Challenge]unackedEntry
	winning   map[chanEpoch][]ticket.Ticket
	lastIndex map[chanEpoch]uint64
	seen      map[chanEpoch]map[uint64]bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		unacked:   make(map[ticket.Challenge]unackedEntry),
		winning:   make(map[chanEpoch][]ticket.Ticket),
		lastIndex: make(map[chanEpoch]uint64),
		seen:      make(map[chanEpoch]map[uint64]bool),
	}
}

func (s *Store) touchLastIndex(key chanEpoch, index uint64) {
	if cur, ok := s.lastIndex[key]; !ok || index > cur {
		s.lastIndex[key] = index
	}
}

// StoreUnacknowledged implements ticket.Store.
func (s *Store) StoreUnacknowledged(_ context.Context, challenge ticket.Challenge,
	t ticket.Ticket, ownHalfKey [32]byte) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.unacked[challenge]; ok {
		return &ticket.Error{
			Kind:   ticket.KindDuplicateChallenge,
			Ticket: &t,
			Reason: "challenge already pending",
		}
	}

	s.unacked[challenge] = unackedEntry{t: t, ownHalfKey: ownHalfKey}
	s.touchLastIndex(chanEpoch{t.ChannelID, t.ChannelEpoch}, t.Index)

	return nil
}

// TakeUnacknowledged implements ticket.Store.
func (s *Store) TakeUnacknowledged(_ context.Context, challenge ticket.Challenge) (
	ticket.Ticket, [32]byte, bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.unacked[challenge]
	if !ok {
		return ticket.Ticket{}, [32]byte{}, false, nil
	}
	delete(s.unacked, challenge)

	return e.t, e.ownHalfKey, true, nil
}

// StoreWinning implements ticket.Store.
func (s *Store) StoreWinning(_ context.Context, t ticket.Ticket, _ [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chanEpoch{t.ChannelID, t.ChannelEpoch}
	s.winning[key] = append(s.winning[key], t)
	s.touchLastIndex(key, t.Index)

	return nil
}

// MarkRedeemed implements ticket.Store.
func (s *Store) MarkRedeemed(_ context.Context, channel ticket.ChannelID, epoch uint32,
	indices []uint64) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	key := chanEpoch{channel, epoch}
	redeemed := make(map[uint64]bool, len(indices))
	for _, idx := range indices {
		redeemed[idx] = true
	}

	remaining := s.winning[key][:0]
	for _, t := range s.winning[key] {
		if !redeemed[t.Index] {
			remaining = append(remaining, t)
		}
	}
	s.winning[key] = remaining

	return nil
}

// WinningTickets implements ticket.Store.
func (s *Store) WinningTickets(_ context.Context, channel ticket.ChannelID,
	epoch uint32) ([]ticket.Ticket, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.winning[chanEpoch{channel, epoch}]
	out := make([]ticket.Ticket, len(src))
	copy(out, src)

	return out, nil
}

// UnrealizedValue implements ticket.Store, summed the same way
// chain/postgres computes it: unacknowledged plus winning-unredeemed
// amounts for the channel epoch.
func (s *Store) UnrealizedValue(_ context.Context, channel ticket.ChannelID,
	epoch uint32) (uint64, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint64
	for _, e := range s.unacked {
		if e.t.ChannelID == channel && e.t.ChannelEpoch == epoch {
			total += e.t.Amount.Uint64()
		}
	}
	for _, t := range s.winning[chanEpoch{channel, epoch}] {
		total += t.Amount.Uint64()
	}

	return total, nil
}

// LastIndex implements ticket.Store.
func (s *Store) LastIndex(_ context.Context, channel ticket.ChannelID,
	epoch uint32) (uint64, bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.lastIndex[chanEpoch{channel, epoch}]
	return idx, ok, nil
}

// SeenIndex implements ticket.Store.
func (s *Store) SeenIndex(_ context.Context, channel ticket.ChannelID, epoch uint32,
	index uint64) (bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seen[chanEpoch{channel, epoch}][index], nil
}

// RecordIndex implements ticket.Store.
func (s *Store) RecordIndex(_ context.Context, channel ticket.ChannelID, epoch uint32,
	index uint64) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	key := chanEpoch{channel, epoch}
	if s.seen[key] == nil {
		s.seen[key] = make(map[uint64]bool)
	}
	s.seen[key][index] = true

	return nil
}

// PurgeEpoch implements ticket.Store.
func (s *Store) PurgeEpoch(_ context.Context, channel ticket.ChannelID, beforeEpoch uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.winning {
		if key.channel == channel && key.epoch < beforeEpoch {
			delete(s.winning, key)
		}
	}
	for key := range s.seen {
		if key.channel == channel && key.epoch < beforeEpoch {
			delete(s.seen, key)
		}
	}
	for key := range s.lastIndex {
		if key.channel == channel && key.epoch < beforeEpoch {
			delete(s.lastIndex, key)
		}
	}
	for c, e := range s.unacked {
		if e.t.ChannelID == channel && e.t.ChannelEpoch < beforeEpoch {
			delete(s.unacked, c)
		}
	}

	return nil
}
