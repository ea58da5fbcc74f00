package ticket

import "context"

// Store is the persistence contract for ticket state (§4.2, §6): an
// out-of-scope SQL-backed CRUD service in production, collapsed here to a
// single interface implemented by a Postgres adapter (chain/postgres) and an
// in-memory adapter (chain/memstore) for tests. It lives in this package
// (rather than chain, which depends on ticket's types) so that Manager can
// depend on it without an import cycle.
type Store interface {
	// StoreUnacknowledged inserts a ticket awaiting acknowledgement,
	// failing if challenge is already present (§4.2).
	StoreUnacknowledged(ctx context.Context, challenge Challenge, t Ticket, ownHalfKey [32]byte) error

	// TakeUnacknowledged atomically looks up and removes the
	// unacknowledged ticket for challenge.
	TakeUnacknowledged(ctx context.Context, challenge Challenge) (t Ticket, ownHalfKey [32]byte, ok bool, err error)

	// StoreWinning persists a ticket that has been confirmed winning,
	// pending redemption or aggregation.
	StoreWinning(ctx context.Context, t Ticket, response [32]byte) error

	// MarkRedeemed deducts the given indices within (channel, epoch) from
	// unrealized value; irreversible (§4.2).
	MarkRedeemed(ctx context.Context, channel ChannelID, epoch uint32, indices []uint64) error

	// WinningTickets returns all winning, not-yet-redeemed tickets for a
	// channel epoch, ordered by index, for aggregation/redemption.
	WinningTickets(ctx context.Context, channel ChannelID, epoch uint32) ([]Ticket, error)

	// UnrealizedValue returns the current unrealized-value sum for a
	// channel epoch (§3 invariant 4).
	UnrealizedValue(ctx context.Context, channel ChannelID, epoch uint32) (uint64, error)

	// LastIndex returns the highest persisted outgoing index for a
	// channel epoch, used to seed the in-memory cursor on restart (§4.2).
	LastIndex(ctx context.Context, channel ChannelID, epoch uint32) (uint64, bool, error)

	// SeenIndex reports whether (channel, epoch, index) has already been
	// recorded, guarding against index reuse on forward validation.
	SeenIndex(ctx context.Context, channel ChannelID, epoch uint32, index uint64) (bool, error)

	// RecordIndex records that (channel, epoch, index) has now been seen.
	RecordIndex(ctx context.Context, channel ChannelID, epoch uint32, index uint64) error

	// PurgeEpoch discards all state for a channel prior to the given
	// epoch, on Closed or epoch-bump events (§4.2).
	PurgeEpoch(ctx context.Context, channel ChannelID, beforeEpoch uint32) error
}

// Redeemer is the narrow slice of the on-chain ledger the ticket Manager
// needs in order to settle tickets (§4.2, §6). chain.ChannelLedger
// implements this structurally; Manager depends on this interface instead of
// importing package chain, which itself depends on package ticket.
type Redeemer interface {
	Redeem(ctx context.Context, t Ticket, response [32]byte, vrfProof []byte) error
	AggregateAndRedeem(ctx context.Context, agg Ticket, responses [][32]byte, vrfProofs [][]byte) error
}
