package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Key identifies one cache entry. Equality is structural, so the same path
// loaded as two different types produces two independent entries.
type Key struct {
	Path string
	Type string
}

// Stats is a point-in-time snapshot of the store's counters. Snapshots never
// mutate store state.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	SizeBytes int64
}

// ErrEntryTooLarge is returned when a single entry exceeds the byte budget
// configured for its type; no amount of eviction could make it fit.
var ErrEntryTooLarge = errors.New("cache: entry exceeds type size limit")

type entry struct {
	key        Key
	assetID    string
	value      any
	sizeBytes  int64
	lastAccess time.Time
}

// shard holds the entries of a single asset type together with their recency
// order. Front of the list is the most recently used entry.
type shard struct {
	entries    map[Key]*list.Element
	recency    *list.List
	sizeBytes  int64
	limitBytes int64 // 0 means unbounded
}

func newShard() *shard {
	return &shard{
		entries: make(map[Key]*list.Element),
		recency: list.New(),
	}
}

// Store is the shared key->asset mapping. All reads and writes, including the
// hit/miss counters and the assetID index, happen under one mutex so
// concurrent readers only ever observe committed states.
type Store struct {
	mu        sync.Mutex
	shards    map[string]*shard
	index     map[string]map[Key]struct{}
	hits      uint64
	misses    uint64
	evictions uint64

	onEvict func(key Key)
}

// NewStore constructs an empty store with no size limits configured.
func NewStore() *Store {
	return &Store{
		shards: make(map[string]*shard),
		index:  make(map[string]map[Key]struct{}),
	}
}

// OnEvict registers a hook invoked (under the store lock) whenever an entry is
// evicted to satisfy a size limit. Used for metrics; the hook must not call
// back into the store.
func (s *Store) OnEvict(fn func(key Key)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Get returns the cached value for key and marks it most recently used. The
// hit/miss counters advance on every call.
func (s *Store) Get(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[key.Type]
	if !ok {
		s.misses++
		return nil, false
	}
	elem, ok := sh.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	sh.recency.MoveToFront(elem)
	ent := elem.Value.(*entry)
	ent.lastAccess = time.Now()
	s.hits++
	return ent.value, true
}

// Contains reports whether key is resident without touching recency or the
// hit/miss counters.
func (s *Store) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[key.Type]
	if !ok {
		return false
	}
	_, ok = sh.entries[key]
	return ok
}

// Put inserts value under key, attributing it to assetID for later
// invalidation. When the type has a byte limit and the insert would push the
// resident set past it, least recently used entries of that type are evicted
// first. Replacing an existing key releases its previous size contribution
// before the new one is accounted; a rejected oversized replacement leaves the
// resident entry untouched.
func (s *Store) Put(key Key, assetID string, value any, sizeBytes int64) error {
	if sizeBytes < 0 {
		return fmt.Errorf("cache: negative size %d for %s", sizeBytes, key.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[key.Type]
	if !ok {
		sh = newShard()
		s.shards[key.Type] = sh
	}

	if sh.limitBytes > 0 && sizeBytes > sh.limitBytes {
		return fmt.Errorf("%w: %s needs %d bytes, limit is %d", ErrEntryTooLarge, key.Path, sizeBytes, sh.limitBytes)
	}

	if elem, ok := sh.entries[key]; ok {
		s.dropLocked(sh, elem)
	}

	if sh.limitBytes > 0 {
		for sh.sizeBytes+sizeBytes > sh.limitBytes {
			s.evictOldestLocked(sh)
		}
	}

	elem := sh.recency.PushFront(&entry{
		key:        key,
		assetID:    assetID,
		value:      value,
		sizeBytes:  sizeBytes,
		lastAccess: time.Now(),
	})
	sh.entries[key] = elem
	sh.sizeBytes += sizeBytes

	keys, ok := s.index[assetID]
	if !ok {
		keys = make(map[Key]struct{})
		s.index[assetID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Remove deletes a single entry, returning whether it was resident.
func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[key.Type]
	if !ok {
		return false
	}
	elem, ok := sh.entries[key]
	if !ok {
		return false
	}
	s.dropLocked(sh, elem)
	return true
}

// InvalidateAsset removes every entry attributed to assetID and returns how
// many were dropped. The lookup goes through the exact-key index, so asset ids
// that are substrings of one another never interfere.
func (s *Store) InvalidateAsset(assetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.index[assetID]
	if !ok {
		return 0
	}
	removed := 0
	for key := range keys {
		sh, ok := s.shards[key.Type]
		if !ok {
			continue
		}
		if elem, ok := sh.entries[key]; ok {
			s.dropLocked(sh, elem)
			removed++
		}
	}
	return removed
}

// SetLimit configures the byte budget for one asset type. A zero limit means
// unbounded. Lowering the limit below the current resident size evicts least
// recently used entries immediately so the budget is never silently exceeded.
func (s *Store) SetLimit(assetType string, limitBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[assetType]
	if !ok {
		sh = newShard()
		s.shards[assetType] = sh
	}
	sh.limitBytes = limitBytes
	if limitBytes <= 0 {
		return
	}
	for sh.sizeBytes > limitBytes && sh.recency.Len() > 0 {
		s.evictOldestLocked(sh)
	}
}

// Limit returns the configured byte budget for assetType (0 when unbounded).
func (s *Store) Limit(assetType string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shards[assetType]; ok {
		return sh.limitBytes
	}
	return 0
}

// Stats returns a snapshot of the running counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
	for _, sh := range s.shards {
		stats.Entries += len(sh.entries)
		stats.SizeBytes += sh.sizeBytes
	}
	return stats
}

// TypeCounts returns the number of resident entries per asset type.
func (s *Store) TypeCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.shards))
	for assetType, sh := range s.shards {
		if len(sh.entries) > 0 {
			counts[assetType] = len(sh.entries)
		}
	}
	return counts
}

// Clear drops every entry and resets size accounting and the hit/miss
// counters. Configured limits survive the reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sh := range s.shards {
		sh.entries = make(map[Key]*list.Element)
		sh.recency.Init()
		sh.sizeBytes = 0
	}
	s.index = make(map[string]map[Key]struct{})
	s.hits = 0
	s.misses = 0
	s.evictions = 0
}

// evictOldestLocked removes the least recently used entry of the shard.
func (s *Store) evictOldestLocked(sh *shard) {
	elem := sh.recency.Back()
	if elem == nil {
		return
	}
	ent := elem.Value.(*entry)
	s.dropLocked(sh, elem)
	s.evictions++
	if s.onEvict != nil {
		s.onEvict(ent.key)
	}
}

// dropLocked removes an element from its shard and the assetID index, keeping
// the size accounting consistent with the resident set.
func (s *Store) dropLocked(sh *shard, elem *list.Element) {
	ent := elem.Value.(*entry)
	sh.recency.Remove(elem)
	delete(sh.entries, ent.key)
	sh.sizeBytes -= ent.sizeBytes

	if keys, ok := s.index[ent.assetID]; ok {
		delete(keys, ent.key)
		if len(keys) == 0 {
			delete(s.index, ent.assetID)
		}
	}
}
