package cache

import (
	"context"
	"sync"

	"github.com/hoprnet/hopr-core/chain"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/ticket"
)

type sourceDest struct {
	source      crypto.Address
	destination crypto.Address
}

// ChannelLedger wraps a chain.ChannelLedger, caching Channel/ChannelTo
// lookups in two RWMutex-guarded tables and invalidating both from the
// ledger's own event stream (§4.5). It never originates channel state: the
// wrapped ledger remains the single source of truth.
type ChannelLedger struct {
	chain.ChannelLedger

	mu       sync.RWMutex
	byID     map[ticket.ChannelID]chain.Entry
	byParty  map[sourceDest]chain.Entry
	byIDOK   map[ticket.ChannelID]bool
	byPartOK map[sourceDest]bool
}

// NewChannelLedger wraps backend with a read-through channel-entry cache.
func NewChannelLedger(backend chain.ChannelLedger) *ChannelLedger {
	return &ChannelLedger{
		ChannelLedger: backend,
		byID:          make(map[ticket.ChannelID]chain.Entry),
		byParty:       make(map[sourceDest]chain.Entry),
		byIDOK:        make(map[ticket.ChannelID]bool),
		byPartOK:      make(map[sourceDest]bool),
	}
}

// Channel serves from the cache on a hit; on a miss it reads through to the
// wrapped ledger and populates both tables.
func (c *ChannelLedger) Channel(ctx context.Context, id ticket.ChannelID) (chain.Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.byID[id]
	hit := c.byIDOK[id]
	c.mu.RUnlock()

	if hit {
		return entry, ok, nil
	}

	fresh, found, err := c.ChannelLedger.Channel(ctx, id)
	if err != nil {
		return chain.Entry{}, false, err
	}

	c.put(fresh, found, id)
	return fresh, found, nil
}

// ChannelTo serves from the cache on a hit; on a miss it reads through to
// the wrapped ledger and populates both tables.
func (c *ChannelLedger) ChannelTo(ctx context.Context, source, destination crypto.Address) (
	chain.Entry, bool, error) {

	key := sourceDest{source, destination}

	c.mu.RLock()
	entry, ok := c.byParty[key]
	hit := c.byPartOK[key]
	c.mu.RUnlock()

	if hit {
		return entry, ok, nil
	}

	fresh, found, err := c.ChannelLedger.ChannelTo(ctx, source, destination)
	if err != nil {
		return chain.Entry{}, false, err
	}

	c.put(fresh, found, fresh.ChannelID)
	return fresh, found, nil
}

func (c *ChannelLedger) put(entry chain.Entry, found bool, id ticket.ChannelID) {
	key := sourceDest{entry.Source, entry.Destination}

	c.mu.Lock()
	c.byID[id] = entry
	c.byIDOK[id] = found
	if found {
		c.byParty[key] = entry
		c.byPartOK[key] = found
	}
	c.mu.Unlock()
}

func (c *ChannelLedger) invalidate(entry chain.Entry) {
	key := sourceDest{entry.Source, entry.Destination}

	c.mu.Lock()
	delete(c.byID, entry.ChannelID)
	delete(c.byIDOK, entry.ChannelID)
	delete(c.byParty, key)
	delete(c.byPartOK, key)
	c.mu.Unlock()
}

// Run drains the wrapped ledger's event stream, invalidating the
// corresponding cache entry on every lifecycle event, until ctx is
// cancelled or the event stream closes.
func (c *ChannelLedger) Run(ctx context.Context) error {
	events, err := c.ChannelLedger.Events(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.invalidate(ev.Entry)
		}
	}
}
