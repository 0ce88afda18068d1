package proxy

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"dpidesync/csrand"
)

// maxRegistrySize caps how many entries the registry holds; once it is
// reached, Acquire evicts the oldest entry before adding a new one. It is
// independent of, and normally far larger than, Params.MaxOpen.
const maxRegistrySize = 64 * 1024

// connRegistry is a bounded, concurrent-safe accounting of in-flight
// connections. It answers a single question — "is there room for one more
// client?" — cheaply enough to check on every accept.
//
// Structurally this is the source library's replay filter repurposed: a
// SipHash-2-4 keyed map backed by a container/list FIFO protected by a
// mutex, except entries are evicted by explicit Release rather than by age,
// since here they represent live connections rather than recently-seen
// byte sequences.
type connRegistry struct {
	mu      sync.Mutex
	key     [2]uint64
	limit   int
	entries map[uint64]*list.Element
	fifo    *list.List
}

type registryEntry struct {
	key uint64
}

// newConnRegistry constructs a registry that admits at most limit
// connections at once. limit <= 0 means unbounded.
func newConnRegistry(limit int) (*connRegistry, error) {
	var keyBytes [16]byte
	if err := csrand.Bytes(keyBytes[:]); err != nil {
		return nil, err
	}

	r := &connRegistry{
		limit:   limit,
		entries: make(map[uint64]*list.Element),
		fifo:    list.New(),
	}
	r.key[0] = binary.BigEndian.Uint64(keyBytes[0:8])
	r.key[1] = binary.BigEndian.Uint64(keyBytes[8:16])
	return r, nil
}

// token identifies one registered connection; callers hold onto it to
// Release later.
type token uint64

// Acquire admits one more connection if the registry has room, returning
// the token to release on cleanup. ok is false when the registry is at
// capacity — the caller's overflow-connection immediate-close behavior
// follows from that (spec.md §4.5).
func (r *connRegistry) Acquire(remote []byte) (token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && r.fifo.Len() >= r.limit {
		return 0, false
	}

	hash := siphash.Hash(r.key[0], r.key[1], remote)
	// A hash collision with a still-live connection is indistinguishable
	// from a duplicate Acquire; fold the sequence number in so repeat
	// connections from the same remote never collide in practice.
	hash ^= uint64(r.fifo.Len()) + uint64(len(r.entries))*2654435761

	if r.fifo.Len() >= maxRegistrySize {
		r.evictOldest()
	}

	elem := r.fifo.PushBack(&registryEntry{key: hash})
	r.entries[hash] = elem
	return token(hash), true
}

// Release removes t from the registry, freeing a slot for Acquire.
func (r *connRegistry) Release(t token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.entries[uint64(t)]
	if !ok {
		return
	}
	delete(r.entries, uint64(t))
	r.fifo.Remove(elem)
}

// Len reports the number of currently registered connections.
func (r *connRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fifo.Len()
}

// evictOldest drops the longest-registered entry. Only reached if a caller
// leaks tokens without Releasing them for an implausibly long time; it
// exists so that leak can't grow the registry without bound.
func (r *connRegistry) evictOldest() {
	front := r.fifo.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*registryEntry)
	delete(r.entries, entry.key)
	r.fifo.Remove(front)
}
