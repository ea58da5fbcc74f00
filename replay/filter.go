// Package replay implements the packet-tag replay filter (§4.4): a
// capacity-bounded Bloom filter that guarantees a packet tag is never
// processed twice, at the cost of occasionally dropping a fresh packet as a
// false positive. It never admits a replay.
package replay

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/yawning/bloom"
)

// TagSize is the length in bytes of a packet tag (§4.4).
const TagSize = 16

// Tag uniquely (with negligible collision probability) identifies a packet
// for replay-detection purposes.
type Tag [TagSize]byte

// Result is the outcome of CheckAndSet.
type Result int

const (
	// Fresh indicates the tag had not been seen; it is now recorded.
	Fresh Result = iota

	// Replay indicates the tag was already present, or the filter
	// reports a false positive — both must be treated identically by
	// callers (§3 invariant 3).
	Replay
)

// Params bundles the filter's sizing knobs (§6: bloom.capacity,
// bloom.false_positive_rate, bloom.persist_path).
type Params struct {
	// Capacity is the number of tags the active filter is sized for
	// before rotation (N = 10^7 in production).
	Capacity uint64

	// FalsePositiveRate is the target false-positive probability at
	// Capacity insertions (10^-5 in production).
	FalsePositiveRate float64

	// PersistPath is the base path for the active filter's durable tag
	// log; PersistPath+".grace" holds the retiring filter's log during
	// its grace period.
	PersistPath string
}

// generation is one Bloom filter plus the raw tags inserted into it, kept so
// the filter can be reconstructed on restart without relying on the
// underlying library's own serialization format.
type generation struct {
	filter   *bloom.Filter
	inserted uint64
	log      *os.File
}

// Filter is the rotating, persisted replay filter described in §4.4: an
// active generation that absorbs new tags, and an optional previous
// generation retained for a grace period to catch packets issued just
// before rotation.
type Filter struct {
	params Params

	mu       sync.Mutex
	active   *generation
	previous *generation
}

// New constructs a Filter, loading any durably persisted state for both the
// active and grace generations from disk.
func New(params Params) (*Filter, error) {
	f := &Filter{params: params}

	active, err := loadOrCreateGeneration(params, params.PersistPath)
	if err != nil {
		return nil, fmt.Errorf("replay: load active generation: %w", err)
	}
	f.active = active

	if _, err := os.Stat(params.PersistPath + ".grace"); err == nil {
		previous, err := loadOrCreateGeneration(params, params.PersistPath+".grace")
		if err != nil {
			return nil, fmt.Errorf("replay: load grace generation: %w", err)
		}
		f.previous = previous
	}

	return f, nil
}

// newBloomFilter constructs a fresh Bloom filter sized for params. The
// filter is seeded from crypto/rand so that an adversary who can observe
// tags cannot pick inputs that systematically collide in this node's hash
// functions, per yawning/bloom's stated design goal.
func newBloomFilter(params Params) (*bloom.Filter, error) {
	f, err := bloom.New(rand.Reader, params.FalsePositiveRate, params.Capacity)
	if err != nil {
		return nil, fmt.Errorf("construct bloom filter: %w", err)
	}

	return f, nil
}

// loadOrCreateGeneration opens (or creates) the tag log at path, replaying
// any tags it already contains into a fresh Bloom filter.
func loadOrCreateGeneration(params Params, path string) (*generation, error) {
	bf, err := newBloomFilter(params)
	if err != nil {
		return nil, err
	}

	var inserted uint64

	if existing, err := os.Open(path); err == nil {
		r := bufio.NewReader(existing)
		var tag Tag
		for {
			if _, err := io.ReadFull(r, tag[:]); err != nil {
				break
			}
			bf.Add(tag[:])
			inserted++
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	log, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open tag log %s: %w", path, err)
	}

	return &generation{filter: bf, inserted: inserted, log: log}, nil
}

// CheckAndSet implements the §4.4 contract: Fresh the first time a tag is
// seen, Replay (including false positives) on any subsequent call with the
// same tag, and Replay if the tag matches the grace-period generation.
func (f *Filter) CheckAndSet(tag Tag) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.previous != nil && f.previous.filter.Test(tag[:]) {
		return Replay, nil
	}

	if f.active.filter.Test(tag[:]) {
		return Replay, nil
	}

	if err := f.appendAndSync(f.active, tag); err != nil {
		return Replay, fmt.Errorf("replay: persist tag: %w", err)
	}

	f.active.filter.Add(tag[:])
	f.active.inserted++

	if f.active.inserted >= f.params.Capacity {
		if err := f.rotateLocked(); err != nil {
			return Fresh, fmt.Errorf("replay: rotate: %w", err)
		}
	}

	return Fresh, nil
}

// appendAndSync durably records tag in gen's log: write, fsync, no rename
// needed since the log is append-only (§6's "fsynced then atomically
// renamed" requirement covers the rotation boundary, handled in
// rotateLocked, not each individual insert).
func (f *Filter) appendAndSync(gen *generation, tag Tag) error {
	if _, err := gen.log.Write(tag[:]); err != nil {
		return err
	}

	return gen.log.Sync()
}

// rotateLocked retires the active generation to grace status and starts a
// fresh one. The retiring log's every tag has already been individually
// fsynced by appendAndSync, so rotation only needs to atomically rename it
// into the grace slot (replacing any prior grace generation, which is
// dropped) and create a fresh, empty active log. The retiring file's
// descriptor stays valid across the rename. Callers must hold f.mu.
func (f *Filter) rotateLocked() error {
	if f.previous != nil {
		f.previous.log.Close()
	}

	gracePath := f.params.PersistPath + ".grace"
	if err := os.Rename(f.params.PersistPath, gracePath); err != nil {
		return fmt.Errorf("rename active log to grace: %w", err)
	}
	if dir, err := os.Open(filepath.Dir(f.params.PersistPath)); err == nil {
		dir.Sync()
		dir.Close()
	}

	fresh, err := newBloomFilter(f.params)
	if err != nil {
		return err
	}

	newActiveLog, err := os.OpenFile(f.params.PersistPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("create fresh active log: %w", err)
	}

	f.previous = f.active
	f.active = &generation{filter: fresh, inserted: 0, log: newActiveLog}

	return nil
}

// DropGrace discards the grace-period generation once its retention window
// has elapsed, called by a caller-driven timer rather than internally so
// this package stays free of its own clock dependency (§4.4 rotation,
// "retains a second filter for a grace period").
func (f *Filter) DropGrace() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.previous == nil {
		return nil
	}

	if err := f.previous.log.Close(); err != nil {
		return err
	}

	path := f.params.PersistPath + ".grace"
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replay: remove grace log: %w", err)
	}

	f.previous = nil
	return nil
}

// Close releases the underlying file handles.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if f.active != nil {
		if err := f.active.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.previous != nil {
		if err := f.previous.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
