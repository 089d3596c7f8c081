package index

import (
	"sync"
	"sync/atomic"

	"github.com/zoocache/zoocache.go/tagtrie"
)

const numShards = 16

// Meta is the in-memory metadata of one cached entry. Snapshot and expiry
// mutations (lazy repair, TTI extension) take the per-meta latch; the LRU
// stamp is updated atomically without it.
type Meta struct {
	mu        sync.Mutex
	snaps     []TagSnap
	createdAt int64
	expiresAt int64 // unix nanos, 0 means no TTL
	ttl       int64 // original TTL window in nanos, preserved across TTI extensions
	tti       bool
	lastUsed  int64 // unix seconds, atomic
}

func NewMeta(snaps []TagSnap, createdAt, expiresAt int64, tti bool, nowUnix int64) *Meta {
	ret := &Meta{
		snaps:     snaps,
		createdAt: createdAt,
		expiresAt: expiresAt,
		tti:       tti,
		lastUsed:  nowUnix,
	}
	if expiresAt > createdAt {
		ret.ttl = expiresAt - createdAt
	}
	return ret
}

// MetaFromEntry reconstitutes metadata from a stored record
func MetaFromEntry(e *Entry, nowUnix int64) *Meta {
	return NewMeta(e.Snaps, e.CreatedAt, e.ExpiresAt, e.TTI, nowUnix)
}

func (m *Meta) CreatedAt() int64 {
	return m.createdAt
}

func (m *Meta) TTIEnabled() bool {
	return m.tti
}

// TTL is the original expiry window in nanos, 0 when the entry has no TTL.
func (m *Meta) TTL() int64 {
	return m.ttl
}

func (m *Meta) ExpiresAt() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Extend moves the expiry forward. Called on TTI reads, already coalesced by
// the caller.
func (m *Meta) Extend(expiresAt int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiresAt > m.expiresAt {
		m.expiresAt = expiresAt
	}
}

// Snaps returns a copy of the tag snapshots, safe to validate without the latch.
func (m *Meta) Snaps() []TagSnap {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]TagSnap, len(m.snaps))
	copy(ret, m.snaps)
	return ret
}

// Repair folds a fresher epoch horizon into the snapshots so the next
// validation short-circuits at the first node. Never moves a horizon back.
func (m *Meta) Repair(repairTo uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.snaps {
		if m.snaps[i].Snap.Subtree < repairTo {
			m.snaps[i].Snap.Subtree = repairTo
		}
	}
}

// Touch updates the LRU stamp if it is older than the coalescing interval.
func (m *Meta) Touch(nowUnix int64, intervalSecs int64) {
	prev := atomic.LoadInt64(&m.lastUsed)
	if nowUnix-prev >= intervalSecs {
		atomic.CompareAndSwapInt64(&m.lastUsed, prev, nowUnix)
	}
}

func (m *Meta) LastUsed() int64 {
	return atomic.LoadInt64(&m.lastUsed)
}

// Entry re-assembles the stored record from the metadata and the value bytes.
func (m *Meta) Entry(value []byte) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := make([]TagSnap, len(m.snaps))
	copy(snaps, m.snaps)
	return &Entry{
		Snaps:     snaps,
		CreatedAt: m.createdAt,
		ExpiresAt: m.expiresAt,
		TTI:       m.tti,
		Value:     value,
	}
}

// Index is the concurrent key → Meta map, sharded to limit latch contention.
type Index struct {
	shards [numShards]shard
	count  int64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*Meta
}

func New() *Index {
	ret := &Index{}
	for i := range ret.shards {
		ret.shards[i].m = make(map[string]*Meta)
	}
	return ret
}

// fnv-1a over the key selects the shard
func (idx *Index) shardFor(key string) *shard {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &idx.shards[h%numShards]
}

func (idx *Index) Get(key string) *Meta {
	s := idx.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key]
}

func (idx *Index) Has(key string) bool {
	return idx.Get(key) != nil
}

// Put installs metadata for the key, replacing any previous generation.
// Reports whether the key was new to the index.
func (idx *Index) Put(key string, meta *Meta) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	_, existed := s.m[key]
	s.m[key] = meta
	s.mu.Unlock()
	if !existed {
		atomic.AddInt64(&idx.count, 1)
	}
	return !existed
}

// PutIfAbsent installs metadata only when the key has none yet, returning the
// winning Meta. Concurrent readers reconstituting the same stored record
// after a restart converge on one generation.
func (idx *Index) PutIfAbsent(key string, meta *Meta) *Meta {
	s := idx.shardFor(key)
	s.mu.Lock()
	if existing, ok := s.m[key]; ok {
		s.mu.Unlock()
		return existing
	}
	s.m[key] = meta
	s.mu.Unlock()
	atomic.AddInt64(&idx.count, 1)
	return meta
}

func (idx *Index) Delete(key string) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	_, existed := s.m[key]
	delete(s.m, key)
	s.mu.Unlock()
	if existed {
		atomic.AddInt64(&idx.count, -1)
	}
	return existed
}

// Len is the number of keys with live in-memory metadata. After a restart it
// lags the storage count until entries are touched again.
func (idx *Index) Len() int {
	return int(atomic.LoadInt64(&idx.count))
}

func (idx *Index) Reset() {
	for i := range idx.shards {
		s := &idx.shards[i]
		s.mu.Lock()
		s.m = make(map[string]*Meta)
		s.mu.Unlock()
	}
	atomic.StoreInt64(&idx.count, 0)
}

// Candidate is one sampled eviction candidate.
type Candidate struct {
	Key      string
	LastUsed int64
}

// Sample collects up to n candidates for approximate-LRU eviction, relying on
// the randomized iteration order of the shard maps. Shards are probed round-
// robin starting from a rotating offset so repeated evictions do not fixate
// on one shard.
func (idx *Index) Sample(n int, start int) []Candidate {
	ret := make([]Candidate, 0, n)
	for i := 0; i < numShards && len(ret) < n; i++ {
		s := &idx.shards[(start+i)%numShards]
		s.mu.RLock()
		for k, meta := range s.m {
			ret = append(ret, Candidate{Key: k, LastUsed: meta.LastUsed()})
			if len(ret) >= n {
				break
			}
		}
		s.mu.RUnlock()
	}
	return ret
}
