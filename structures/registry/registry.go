package registry

import (
	"errors"
	"github.com/saylorsolutions/weakbus/syncx"
	"github.com/saylorsolutions/weakbus/weakref"
	"hash/maphash"
	"slices"
	"sync"
)

var (
	ErrNilReference = errors.New("nil reference")
)

// DefaultShards is the number of shards used by [New] when no count is given.
var DefaultShards = 32

// Guard is consulted by [Registry.AddFunc] with the live references for a key, while the key's shard is locked.
// Returning an error rejects the new reference and leaves the entry untouched.
// A Guard must not call back into the [Registry].
type Guard func(live []weakref.Reference) error

// Registry is a concurrency-safe mapping from a key to an ordered sequence of [weakref.Reference].
//
// Keys are spread across shards, each with its own lock, so unrelated keys don't contend with each other.
// Entries are copy-on-write: every mutation replaces a key's slice rather than changing it, so a [Registry.Snapshot] is never affected by later changes.
//
// Dead references are removed lazily by Add, RemoveMatching, Prune, and PruneKey.
// An entry is never left empty after a mutating call returns.
type Registry[K comparable] struct {
	seed   maphash.Seed
	shards []*shard[K]
}

type shard[K comparable] struct {
	mux     sync.RWMutex
	entries map[K][]weakref.Reference
}

// New creates a [Registry].
// A shard count may be specified to override the value of [DefaultShards].
func New[K comparable](shards ...int) *Registry[K] {
	count := DefaultShards
	if len(shards) > 0 {
		count = shards[0]
	}
	if count < 1 {
		panic("shard count must be >= 1")
	}
	r := &Registry[K]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[K], count),
	}
	for i := range r.shards {
		r.shards[i] = &shard[K]{entries: map[K][]weakref.Reference{}}
	}
	return r
}

func (r *Registry[K]) shardFor(key K) *shard[K] {
	if len(r.shards) == 1 {
		return r.shards[0]
	}
	return r.shards[maphash.Comparable(r.seed, key)%uint64(len(r.shards))]
}

// Add appends the reference to the key's entry, creating the entry if needed.
// False is returned if a live reference with the same identity is already present.
func (r *Registry[K]) Add(key K, ref weakref.Reference) bool {
	added, _ := r.AddFunc(key, ref, nil)
	return added
}

// AddFunc is the same as [Registry.Add], but the [Guard] may veto the addition.
// Duplicate suppression happens before the guard is consulted, and dead references encountered are pruned.
func (r *Registry[K]) AddFunc(key K, ref weakref.Reference, guard Guard) (bool, error) {
	if ref == nil {
		return false, ErrNilReference
	}
	id := ref.Identity()
	s := r.shardFor(key)
	return syncx.LockFuncTErr(&s.mux, func() (bool, error) {
		current := s.entries[key]
		live := make([]weakref.Reference, 0, len(current)+1)
		for _, existing := range current {
			if !existing.Alive() {
				continue
			}
			if existing.Identity() == id {
				return false, nil
			}
			live = append(live, existing)
		}
		if guard != nil {
			if err := guard(slices.Clip(live)); err != nil {
				return false, err
			}
		}
		s.entries[key] = append(live, ref)
		return true, nil
	})
}

// RemoveMatching removes every live reference with the given identity, and returns how many were removed.
// Dead references are pruned along the way, and the key is dropped if nothing remains.
func (r *Registry[K]) RemoveMatching(key K, id weakref.Identity) int {
	s := r.shardFor(key)
	return syncx.LockFuncT(&s.mux, func() int {
		current, ok := s.entries[key]
		if !ok {
			return 0
		}
		var removed int
		kept := make([]weakref.Reference, 0, len(current))
		for _, ref := range current {
			if !ref.Alive() {
				continue
			}
			if ref.Identity() == id {
				removed++
				continue
			}
			kept = append(kept, ref)
		}
		s.store(key, kept)
		return removed
	})
}

// RemoveAll drops the entry for the key regardless of the liveness of its references.
// The number of stored references is returned.
func (r *Registry[K]) RemoveAll(key K) int {
	s := r.shardFor(key)
	return syncx.LockFuncT(&s.mux, func() int {
		n := len(s.entries[key])
		delete(s.entries, key)
		return n
	})
}

// Snapshot returns the references stored for the key at the time of the call, in insertion order.
// The returned slice must not be modified.
func (r *Registry[K]) Snapshot(key K) []weakref.Reference {
	s := r.shardFor(key)
	return syncx.RLockFuncT(&s.mux, func() []weakref.Reference {
		return slices.Clip(s.entries[key])
	})
}

// HasKey reports whether an entry exists for the key.
// An entry whose references have all expired, but haven't been pruned yet, still counts.
func (r *Registry[K]) HasKey(key K) bool {
	s := r.shardFor(key)
	return syncx.RLockFuncT(&s.mux, func() bool {
		_, ok := s.entries[key]
		return ok
	})
}

// Keys returns every key with an entry, in no particular order.
func (r *Registry[K]) Keys() []K {
	var keys []K
	for _, s := range r.shards {
		syncx.RLockFunc(&s.mux, func() {
			for key := range s.entries {
				keys = append(keys, key)
			}
		})
	}
	return keys
}

// Len returns the number of keys with an entry.
func (r *Registry[K]) Len() int {
	var n int
	for _, s := range r.shards {
		syncx.RLockFunc(&s.mux, func() {
			n += len(s.entries)
		})
	}
	return n
}

// PruneKey removes dead references for a single key, and returns how many were removed.
func (r *Registry[K]) PruneKey(key K) int {
	s := r.shardFor(key)
	return syncx.LockFuncT(&s.mux, func() int {
		return s.prune(key)
	})
}

// Prune removes dead references for all keys, and returns how many were removed.
func (r *Registry[K]) Prune() int {
	var n int
	for _, s := range r.shards {
		syncx.LockFunc(&s.mux, func() {
			for key := range s.entries {
				n += s.prune(key)
			}
		})
	}
	return n
}

// Must be called with the lock held.
func (s *shard[K]) prune(key K) int {
	current, ok := s.entries[key]
	if !ok {
		return 0
	}
	kept := make([]weakref.Reference, 0, len(current))
	for _, ref := range current {
		if ref.Alive() {
			kept = append(kept, ref)
		}
	}
	removed := len(current) - len(kept)
	if removed > 0 {
		s.store(key, kept)
	}
	return removed
}

// Must be called with the lock held.
func (s *shard[K]) store(key K, refs []weakref.Reference) {
	if len(refs) == 0 {
		delete(s.entries, key)
		return
	}
	s.entries[key] = refs
}
