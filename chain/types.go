// Package chain defines the contract boundaries this core depends on but
// does not implement: the on-chain channel ledger and the persistent ticket
// store (§1, §6, §9). Both are external collaborators in production (an
// indexer/RPC client and a SQL-backed CRUD service respectively); this
// package defines the interfaces the rest of the core programs against, plus
// a Postgres-backed reference adapter (chain/postgres) and an in-memory
// adapter for tests.
package chain

import (
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/ticket"
)

// Status is the lifecycle state of a payment channel (§3).
type Status int

const (
	// StatusClosed indicates the channel has no funds committed.
	StatusClosed Status = iota

	// StatusOpen indicates the channel is accepting and honoring tickets.
	StatusOpen

	// StatusPendingToClose indicates a closure has been initiated; new
	// ticket issuance toward this channel must halt (§4.2).
	StatusPendingToClose
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPendingToClose:
		return "pending_to_close"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Entry is a channel's on-chain state as observed by the core (§3).
type Entry struct {
	ChannelID   ticket.ChannelID
	Source      crypto.Address
	Destination crypto.Address
	Balance     uint64
	Status      Status
	Epoch       uint32
	TicketIndex uint64
}

// EventKind enumerates the channel lifecycle events the indexer can emit
// (§6).
type EventKind int

const (
	EventOpened EventKind = iota
	EventBalanceChanged
	EventClosureInitiated
	EventClosed
	EventEpochBumped
)

// Event is a finalized channel lifecycle event from the chain indexer.
type Event struct {
	Kind      EventKind
	ChannelID ticket.ChannelID
	Entry     Entry
}
