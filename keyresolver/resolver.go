// Package keyresolver implements the ChainKey↔PacketKey bijection (§3,
// §4.5) and the compact Sphinx KeyID assignment (the KeyIdMapper of §3) on
// top of it. The ChainKey↔PacketKey lookups are fronted by an LRU; KeyIDs
// are assigned locally and kept in a plain map, with no LRU. The authoritative
// mapping lives with whatever directory tracks on-chain identity
// announcements, reached through the Source interface below, and this
// package's job is to answer the hot-path PacketKeyOf/ChainKeyOf/KeyIDFor
// calls the packet processor makes on every send and receive without
// round-tripping to that directory each time.
package keyresolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"

	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/crypto/sphinx"
)

// EventKind enumerates the identity-directory changes a Resolver reacts to.
type EventKind int

const (
	// Announced indicates a ChainKey↔PacketKey pairing is now valid.
	Announced EventKind = iota

	// Forgotten indicates a previously announced pairing must no longer
	// be trusted (the peer rotated its PacketKey, or left the network).
	Forgotten
)

// Event is a single identity-directory change.
type Event struct {
	Kind      EventKind
	ChainKey  crypto.Address
	PacketKey crypto.PacketKeyPub
}

// Source is the authoritative identity directory a Resolver fronts. In
// production this is the on-chain announcement log read through the same
// indexer that backs chain.ChannelLedger; in tests it is a static map.
type Source interface {
	// PacketKeyOf resolves a ChainKey's currently announced PacketKey.
	PacketKeyOf(ctx context.Context, addr crypto.Address) (crypto.PacketKeyPub, bool, error)

	// ChainKeyOf resolves a PacketKey back to its announcing ChainKey.
	ChainKeyOf(ctx context.Context, pub crypto.PacketKeyPub) (crypto.Address, bool, error)

	// Events returns a channel of Announced/Forgotten events. The Source
	// owns the channel's lifetime; callers must drain it until it closes.
	Events(ctx context.Context) (<-chan Event, error)
}

// defaultCacheCapacity bounds each direction's LRU. A node with more
// simultaneously active peers than this will simply take more Source
// round-trips on the colder entries; it is not a correctness bound.
const defaultCacheCapacity = 8192

// Resolver fronts a Source with an LRU cache in each direction (§4.5),
// invalidated as Announced/Forgotten events arrive, and separately
// maintains the compact uint32 KeyID assignment intermediate Sphinx hops
// use to address each other instead of a full PacketKey (§3's
// KeyIdMapper). It implements both chain.KeyResolver and
// packet.KeyIDResolver without importing either package, structurally.
type Resolver struct {
	source Source

	toPacketKey *lru.Cache[crypto.Address, crypto.PacketKeyPub]
	toChainKey  *lru.Cache[crypto.PacketKeyPub, crypto.Address]

	mu      sync.RWMutex
	keyIDs  map[crypto.PacketKeyPub]sphinx.KeyID
	byKeyID map[sphinx.KeyID]crypto.PacketKeyPub
	nextID  uint32
}

// New builds a Resolver fronting source. Call Run to start consuming
// source's invalidation events; until Run is running, a Forgotten event
// simply never arrives and entries age out only by LRU eviction.
func New(source Source) *Resolver {
	return &Resolver{
		source:      source,
		toPacketKey: lru.NewCache[crypto.Address, crypto.PacketKeyPub](defaultCacheCapacity),
		toChainKey:  lru.NewCache[crypto.PacketKeyPub, crypto.Address](defaultCacheCapacity),
		keyIDs:      make(map[crypto.PacketKeyPub]sphinx.KeyID),
		byKeyID:     make(map[sphinx.KeyID]crypto.PacketKeyPub),
	}
}

// Run drains source's event stream until ctx is cancelled or the stream
// closes. Announced events are pushed straight into both caches so the
// very next lookup hits without a Source round-trip; Forgotten events
// evict the pairing from both caches and drop any KeyID assigned to the
// forgotten PacketKey, so a later KeyIDFor call for a reused PacketKey
// never resolves to a stale identity.
func (r *Resolver) Run(ctx context.Context) error {
	events, err := r.source.Events(ctx)
	if err != nil {
		return fmt.Errorf("keyresolver: subscribe to source events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Resolver) handle(ev Event) {
	switch ev.Kind {
	case Announced:
		r.toPacketKey.Put(ev.ChainKey, ev.PacketKey)
		r.toChainKey.Put(ev.PacketKey, ev.ChainKey)

	case Forgotten:
		r.toPacketKey.Delete(ev.ChainKey)
		r.toChainKey.Delete(ev.PacketKey)

		r.mu.Lock()
		if id, ok := r.keyIDs[ev.PacketKey]; ok {
			delete(r.keyIDs, ev.PacketKey)
			delete(r.byKeyID, id)
		}
		r.mu.Unlock()
	}
}

// PacketKeyOf implements chain.KeyResolver.
func (r *Resolver) PacketKeyOf(ctx context.Context, addr crypto.Address) (crypto.PacketKeyPub, bool, error) {
	if pub, err := r.toPacketKey.Get(addr); err == nil {
		return pub, true, nil
	} else if !errors.Is(err, cache.ErrElementNotFound) {
		return crypto.PacketKeyPub{}, false, fmt.Errorf("keyresolver: cache lookup: %w", err)
	}

	pub, ok, err := r.source.PacketKeyOf(ctx, addr)
	if err != nil {
		return crypto.PacketKeyPub{}, false, err
	}
	if !ok {
		return crypto.PacketKeyPub{}, false, nil
	}

	r.toPacketKey.Put(addr, pub)
	r.toChainKey.Put(pub, addr)

	return pub, true, nil
}

// ChainKeyOf implements chain.KeyResolver.
func (r *Resolver) ChainKeyOf(ctx context.Context, pub crypto.PacketKeyPub) (crypto.Address, bool, error) {
	if addr, err := r.toChainKey.Get(pub); err == nil {
		return addr, true, nil
	} else if !errors.Is(err, cache.ErrElementNotFound) {
		return crypto.Address{}, false, fmt.Errorf("keyresolver: cache lookup: %w", err)
	}

	addr, ok, err := r.source.ChainKeyOf(ctx, pub)
	if err != nil {
		return crypto.Address{}, false, err
	}
	if !ok {
		return crypto.Address{}, false, nil
	}

	r.toChainKey.Put(pub, addr)
	r.toPacketKey.Put(addr, pub)

	return addr, true, nil
}

// KeyIDFor implements packet.KeyIDResolver: it returns the KeyID already
// assigned to pub, assigning the next one in sequence the first time pub
// is seen. KeyIDs are local to this node's own Resolver instance; they are
// carried in outgoing Sphinx headers and must be resolved back via the
// receiving node's own ResolveKeyID, never compared across nodes.
func (r *Resolver) KeyIDFor(_ context.Context, pub crypto.PacketKeyPub) (sphinx.KeyID, error) {
	r.mu.RLock()
	if id, ok := r.keyIDs[pub]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.keyIDs[pub]; ok {
		return id, nil
	}

	id := sphinx.KeyID(atomic.AddUint32(&r.nextID, 1))
	r.keyIDs[pub] = id
	r.byKeyID[id] = pub

	return id, nil
}

// ResolveKeyID implements packet.KeyIDResolver.
func (r *Resolver) ResolveKeyID(_ context.Context, id sphinx.KeyID) (crypto.PacketKeyPub, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pub, ok := r.byKeyID[id]
	if !ok {
		return crypto.PacketKeyPub{}, fmt.Errorf("keyresolver: unknown key id %d", id)
	}

	return pub, nil
}
