// Package postgres is the reference ticket.Store adapter backed by
// Postgres (§4.2, §6, §9 open question 2): the single authoritative write
// path for ticket/channel-epoch state, with cache.TicketStore as an
// optional read-through/write-through accelerator in front of it.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/hoprnet/hopr-core/ticket"
)

// Store is a Postgres-backed ticket.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over an already-connected pool. Callers are
// expected to have run Migrate against the same dsn beforehand.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pooled connection to dsn and applies any pending
// migrations before returning.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return New(pool), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// StoreUnacknowledged implements ticket.Store.
func (s *Store) StoreUnacknowledged(ctx context.Context, challenge ticket.Challenge,
	t ticket.Ticket, ownHalfKey [32]byte) error {

	_, err := s.pool.Exec(ctx, `
		INSERT INTO unacknowledged_tickets
			(challenge, channel_id, channel_epoch, index, index_offset,
			 amount, win_prob, signature, own_half_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		challenge[:], t.ChannelID[:], t.ChannelEpoch, int64(t.Index), int64(t.IndexOffset),
		t.Amount[:], int64(t.WinProb), t.Signature[:], ownHalfKey[:])
	if err != nil {
		if isUniqueViolation(err) {
			return &ticket.Error{
				Kind:   ticket.KindDuplicateChallenge,
				Ticket: &t,
				Reason: "challenge already pending",
				Err:    err,
			}
		}
		return fmt.Errorf("postgres: store unacknowledged: %w", err)
	}

	return nil
}

// TakeUnacknowledged implements ticket.Store.
func (s *Store) TakeUnacknowledged(ctx context.Context, challenge ticket.Challenge) (
	t ticket.Ticket, ownHalfKey [32]byte, ok bool, err error) {

	row := s.pool.QueryRow(ctx, `
		DELETE FROM unacknowledged_tickets
		WHERE challenge = $1
		RETURNING channel_id, channel_epoch, index, index_offset, amount,
			win_prob, signature, own_half_key`,
		challenge[:])

	var (
		channelID, amount, signature, ownKey []byte
		index, winProb                       int64
		offset                               int32
		epoch                                int32
	)

	err = row.Scan(&channelID, &epoch, &index, &offset, &amount, &winProb, &signature, &ownKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return ticket.Ticket{}, [32]byte{}, false, nil
	}
	if err != nil {
		return ticket.Ticket{}, [32]byte{}, false, fmt.Errorf("postgres: take unacknowledged: %w", err)
	}

	t = ticket.Ticket{
		Challenge:    challenge,
		Index:        uint64(index),
		IndexOffset:  uint32(offset),
		WinProb:      ticket.WinProb(winProb),
		ChannelEpoch: uint32(epoch),
	}
	copy(t.ChannelID[:], channelID)
	copy(t.Amount[:], amount)
	copy(t.Signature[:], signature)
	copy(ownHalfKey[:], ownKey)

	return t, ownHalfKey, true, nil
}

// StoreWinning implements ticket.Store.
func (s *Store) StoreWinning(ctx context.Context, t ticket.Ticket, response [32]byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO winning_tickets
			(channel_id, channel_epoch, index, index_offset, amount,
			 win_prob, challenge, signature, response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (channel_id, channel_epoch, index) DO NOTHING`,
		t.ChannelID[:], t.ChannelEpoch, int64(t.Index), int64(t.IndexOffset), t.Amount[:],
		int64(t.WinProb), t.Challenge[:], t.Signature[:], response[:])
	if err != nil {
		return fmt.Errorf("postgres: store winning: %w", err)
	}

	return nil
}

// MarkRedeemed implements ticket.Store.
func (s *Store) MarkRedeemed(ctx context.Context, channel ticket.ChannelID, epoch uint32,
	indices []uint64) error {

	boxed := make([]int64, len(indices))
	for i, idx := range indices {
		boxed[i] = int64(idx)
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE winning_tickets SET redeemed = true
		WHERE channel_id = $1 AND channel_epoch = $2 AND index = ANY($3)`,
		channel[:], epoch, boxed)
	if err != nil {
		return fmt.Errorf("postgres: mark redeemed: %w", err)
	}

	return nil
}

// WinningTickets implements ticket.Store.
func (s *Store) WinningTickets(ctx context.Context, channel ticket.ChannelID,
	epoch uint32) ([]ticket.Ticket, error) {

	rows, err := s.pool.Query(ctx, `
		SELECT index, index_offset, amount, win_prob, challenge, signature
		FROM winning_tickets
		WHERE channel_id = $1 AND channel_epoch = $2 AND NOT redeemed
		ORDER BY index ASC`,
		channel[:], epoch)
	if err != nil {
		return nil, fmt.Errorf("postgres: winning tickets: %w", err)
	}
	defer rows.Close()

	var out []ticket.Ticket
	for rows.Next() {
		var (
			index, winProb        int64
			offset                int32
			amount, challenge, sig []byte
		)

		if err := rows.Scan(&index, &offset, &amount, &winProb, &challenge, &sig); err != nil {
			return nil, fmt.Errorf("postgres: scan winning ticket: %w", err)
		}

		t := ticket.Ticket{
			ChannelID:    channel,
			ChannelEpoch: epoch,
			Index:        uint64(index),
			IndexOffset:  uint32(offset),
			WinProb:      ticket.WinProb(winProb),
		}
		copy(t.Amount[:], amount)
		copy(t.Challenge[:], challenge)
		copy(t.Signature[:], sig)

		out = append(out, t)
	}

	return out, rows.Err()
}

// UnrealizedValue implements ticket.Store, computed directly as the sum of
// every pending ticket's amount — unacknowledged plus winning-but-not-yet-
// redeemed — rather than a separately maintained running counter, so it can
// never drift out of sync with the rows that back it. Amounts are stored as
// opaque 12-byte big-endian values (the wire format, §6), so the sum is
// folded in Go rather than in SQL.
func (s *Store) UnrealizedValue(ctx context.Context, channel ticket.ChannelID,
	epoch uint32) (uint64, error) {

	rows, err := s.pool.Query(ctx, `
		SELECT amount FROM unacknowledged_tickets
			WHERE channel_id = $1 AND channel_epoch = $2
		UNION ALL
		SELECT amount FROM winning_tickets
			WHERE channel_id = $1 AND channel_epoch = $2 AND NOT redeemed`,
		channel[:], epoch)
	if err != nil {
		return 0, fmt.Errorf("postgres: unrealized value: %w", err)
	}
	defer rows.Close()

	var total uint64
	for rows.Next() {
		var amount []byte
		if err := rows.Scan(&amount); err != nil {
			return 0, fmt.Errorf("postgres: scan unrealized amount: %w", err)
		}
		total += amountToUint64(amount)
	}

	return total, rows.Err()
}

// LastIndex implements ticket.Store, derived as the highest index recorded
// across both unacknowledged and winning tickets for the channel epoch.
func (s *Store) LastIndex(ctx context.Context, channel ticket.ChannelID,
	epoch uint32) (uint64, bool, error) {

	row := s.pool.QueryRow(ctx, `
		SELECT MAX(idx) FROM (
			SELECT MAX(index) AS idx FROM unacknowledged_tickets
				WHERE channel_id = $1 AND channel_epoch = $2
			UNION ALL
			SELECT MAX(index) AS idx FROM winning_tickets
				WHERE channel_id = $1 AND channel_epoch = $2
		) combined`,
		channel[:], epoch)

	var max *int64
	if err := row.Scan(&max); err != nil {
		return 0, false, fmt.Errorf("postgres: last index: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}

	return uint64(*max), true, nil
}

// SeenIndex implements ticket.Store.
func (s *Store) SeenIndex(ctx context.Context, channel ticket.ChannelID, epoch uint32,
	index uint64) (bool, error) {

	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM seen_indices
			WHERE channel_id = $1 AND channel_epoch = $2 AND index = $3)`,
		channel[:], epoch, int64(index))

	var seen bool
	if err := row.Scan(&seen); err != nil {
		return false, fmt.Errorf("postgres: seen index: %w", err)
	}

	return seen, nil
}

// RecordIndex implements ticket.Store.
func (s *Store) RecordIndex(ctx context.Context, channel ticket.ChannelID, epoch uint32,
	index uint64) error {

	_, err := s.pool.Exec(ctx, `
		INSERT INTO seen_indices (channel_id, channel_epoch, index)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		channel[:], epoch, int64(index))
	if err != nil {
		return fmt.Errorf("postgres: record index: %w", err)
	}

	return nil
}

// PurgeEpoch implements ticket.Store.
func (s *Store) PurgeEpoch(ctx context.Context, channel ticket.ChannelID, beforeEpoch uint32) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM unacknowledged_tickets WHERE channel_id = $1 AND channel_epoch < $2`,
		channel[:], beforeEpoch)
	batch.Queue(`DELETE FROM winning_tickets WHERE channel_id = $1 AND channel_epoch < $2`,
		channel[:], beforeEpoch)
	batch.Queue(`DELETE FROM seen_indices WHERE channel_id = $1 AND channel_epoch < $2`,
		channel[:], beforeEpoch)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: purge epoch: %w", err)
		}
	}

	return nil
}

// amountToUint64 decodes a 12-byte big-endian ticket.Amount as stored on
// the wire (top 32 bits always zero in practice — see ticket.Amount.Uint64).
func amountToUint64(b []byte) uint64 {
	var a ticket.Amount
	copy(a[:], b)
	return a.Uint64()
}
