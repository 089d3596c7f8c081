// Package store composes the storage backend, the entry index and the tag
// clock into the bounded cache store: the read side runs the validation
// pipeline (TTL, tag snapshots, lazy repair, TTI extension, LRU stamping),
// the write side enforces the capacity bound with approximate-LRU eviction.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoocache/zoocache.go/common"
	"github.com/zoocache/zoocache.go/index"
	"github.com/zoocache/zoocache.go/tagtrie"
)

// evictionSamples is the number of candidates examined per eviction. Sampling
// keeps eviction O(1)-ish instead of scanning the whole index.
const evictionSamples = 5

// Params are the resource-model knobs of the bounded store.
type Params struct {
	// MaxEntries caps the number of stored entries; 0 means unbounded.
	MaxEntries int
	// MaxValueSize rejects oversized values with ErrStorageIsFull; 0 means no limit.
	MaxValueSize int
	// TTIFlush coalesces TTI expiry rewrites: an extension is persisted only
	// when it moves the expiry forward by at least this much.
	TTIFlush time.Duration
	// LRUUpdate coalesces last-used stamping on reads.
	LRUUpdate time.Duration
	Logger    zerolog.Logger
}

// Store is safe for concurrent use. The singleflight layer above guarantees
// one writer per key; different keys write concurrently.
type Store struct {
	storage common.Storage
	trie    *tagtrie.Trie
	idx     *index.Index
	log     zerolog.Logger
	now     func() time.Time

	maxEntries   int
	maxValueSize int
	ttiFlush     time.Duration
	lruUpdate    time.Duration

	// admitMu serializes the capacity decision so the bound holds under
	// concurrent inserts of distinct keys
	admitMu     sync.Mutex
	count       int64 // stored entries, seeded from the backend at startup
	sampleStart uint32
}

func New(storage common.Storage, trie *tagtrie.Trie, p Params) (*Store, error) {
	count, err := storage.Len()
	if err != nil {
		return nil, fmt.Errorf("store: read backend length: %w", err)
	}
	return &Store{
		storage:      storage,
		trie:         trie,
		idx:          index.New(),
		log:          p.Logger,
		now:          time.Now,
		maxEntries:   p.MaxEntries,
		maxValueSize: p.MaxValueSize,
		ttiFlush:     p.TTIFlush,
		lruUpdate:    p.LRUUpdate,
		count:        int64(count),
	}, nil
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Get runs the hot read path. The boolean reports a hit; a miss is always
// safe to treat as "unknown, produce again".
func (s *Store) Get(key string) ([]byte, bool, error) {
	meta := s.idx.Get(key)
	var value []byte
	loaded := false
	if meta == nil {
		// first touch after restart (or after an index drop): reconstitute
		// the metadata from the stored record
		raw, err := s.storage.Get([]byte(key))
		if err != nil {
			return nil, false, err
		}
		if raw == nil {
			return nil, false, nil
		}
		e, err := index.EntryFromBytes(raw)
		if err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("dropping undecodable entry")
			s.removeStored(key)
			return nil, false, nil
		}
		meta = s.idx.PutIfAbsent(key, index.MetaFromEntry(e, s.now().Unix()))
		value = e.Value
		loaded = true
	}

	now := s.now()
	if exp := meta.ExpiresAt(); exp != 0 && now.UnixNano() > exp {
		if s.idx.Delete(key) {
			s.removeStored(key)
		}
		return nil, false, nil
	}

	// validate every tag snapshot against the clock; collect the lowest
	// verified horizon for lazy repair
	var repairTo uint64
	for _, ts := range meta.Snaps() {
		valid, rep := s.trie.Check(ts.Tag, ts.Snap)
		if !valid {
			// stale: drop the metadata now, the stored record off the hot path
			if s.idx.Delete(key) {
				go s.removeStored(key)
			}
			return nil, false, nil
		}
		if rep != 0 && (repairTo == 0 || rep < repairTo) {
			repairTo = rep
		}
	}
	if repairTo != 0 {
		meta.Repair(repairTo)
	}

	if !loaded {
		raw, err := s.storage.Get([]byte(key))
		if err != nil {
			return nil, false, err
		}
		if raw == nil {
			// eviction raced the lookup
			s.idx.Delete(key)
			return nil, false, nil
		}
		e, err := index.EntryFromBytes(raw)
		if err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("dropping undecodable entry")
			if s.idx.Delete(key) {
				s.removeStored(key)
			}
			return nil, false, nil
		}
		value = e.Value
	}

	if meta.TTIEnabled() {
		s.maybeExtend(key, meta, value, now)
	}
	lruSecs := int64(s.lruUpdate / time.Second)
	meta.Touch(now.Unix(), lruSecs)
	return value, true, nil
}

// maybeExtend implements TTI: a successful read moves the expiry to now+TTL,
// coalesced by the flush window to avoid an update storm. The rewrite is
// lazy: losing it only makes the entry expire prematurely, which is safe.
func (s *Store) maybeExtend(key string, meta *index.Meta, value []byte, now time.Time) {
	ttl := meta.TTL()
	if ttl <= 0 {
		return
	}
	newExp := now.UnixNano() + ttl
	if newExp-meta.ExpiresAt() < int64(s.ttiFlush) {
		return
	}
	meta.Extend(newExp)
	if err := s.storage.Set([]byte(key), meta.Entry(value).Bytes()); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("persisting TTI extension failed")
	}
}

// Put stores the entry, capturing tag snapshots and enforcing the capacity
// bound. A Put rejected by tag validation or the value-size limit leaves the
// cache unchanged. When the backend write itself fails, the key keeps its
// previous entry, but entries already evicted to make room stay evicted and
// the trie nodes created for the tags remain. ttl == 0 means no expiry.
func (s *Store) Put(key string, value []byte, tags []string, ttl time.Duration, tti bool) error {
	if err := common.ValidateTags(tags); err != nil {
		return err
	}
	if s.maxValueSize > 0 && len(value) > s.maxValueSize {
		return fmt.Errorf("%w: value of %d bytes exceeds limit of %d", common.ErrStorageIsFull, len(value), s.maxValueSize)
	}

	snaps := s.trie.SnapshotAll(tags)
	tagSnaps := make([]index.TagSnap, len(tags))
	for i := range tags {
		tagSnaps[i] = index.TagSnap{Tag: tags[i], Snap: snaps[i]}
	}

	now := s.now()
	createdAt := now.UnixNano()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixNano()
	}
	meta := index.NewMeta(tagSnaps, createdAt, expiresAt, tti && expiresAt != 0, now.Unix())
	record := meta.Entry(value).Bytes()

	s.admitMu.Lock()
	isNew := !s.idx.Has(key)
	if isNew {
		has, err := s.storage.Has([]byte(key))
		if err != nil {
			s.admitMu.Unlock()
			return err
		}
		isNew = !has
	}
	if isNew && s.maxEntries > 0 {
		for atomic.LoadInt64(&s.count) >= int64(s.maxEntries) {
			if !s.evictOne(key) {
				break
			}
		}
	}
	if isNew {
		atomic.AddInt64(&s.count, 1)
	}
	s.admitMu.Unlock()

	if err := s.storage.Set([]byte(key), record); err != nil {
		if isNew {
			atomic.AddInt64(&s.count, -1)
		}
		return err
	}
	s.idx.Put(key, meta)
	return nil
}

// evictOne removes the least-recently-used of a small candidate sample.
// Caller holds admitMu. Returns false when there is nothing left to evict.
func (s *Store) evictOne(exclude string) bool {
	start := int(atomic.AddUint32(&s.sampleStart, 1))
	victim := ""
	victimUsed := int64(0)
	for _, cand := range s.idx.Sample(evictionSamples, start) {
		if cand.Key == exclude {
			continue
		}
		if victim == "" || cand.LastUsed < victimUsed {
			victim, victimUsed = cand.Key, cand.LastUsed
		}
	}
	if victim == "" {
		// index may be cold after a restart; fall back to any stored key
		_ = s.storage.IterateKeys(func(k []byte) bool {
			if string(k) != exclude {
				victim = string(k)
				return false
			}
			return true
		})
	}
	if victim == "" {
		return false
	}
	s.idx.Delete(victim)
	s.removeStored(victim)
	s.log.Debug().Str("key", victim).Msg("evicted")
	return true
}

// removeStored deletes the stored record and maintains the entry count.
// Callers that raced each other are expected to have arbitrated via the
// index delete; the count stays approximate under pathological interleavings,
// always erring towards over-counting (the bound holds).
func (s *Store) removeStored(key string) {
	has, err := s.storage.Has([]byte(key))
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("removing entry failed")
		return
	}
	if !has {
		return
	}
	if err = s.storage.Delete([]byte(key)); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("removing entry failed")
		return
	}
	atomic.AddInt64(&s.count, -1)
}

// Remove drops the entry explicitly.
func (s *Store) Remove(key string) error {
	s.idx.Delete(key)
	has, err := s.storage.Has([]byte(key))
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	if err = s.storage.Delete([]byte(key)); err != nil {
		return err
	}
	atomic.AddInt64(&s.count, -1)
	return nil
}

// Clear drops all entries.
func (s *Store) Clear() error {
	s.idx.Reset()
	if err := s.storage.Clear(); err != nil {
		return err
	}
	atomic.StoreInt64(&s.count, 0)
	return nil
}

// Len is the number of stored entries, delegated to the backend so it
// survives restarts.
func (s *Store) Len() (int, error) {
	return s.storage.Len()
}

// IndexLen is the number of entries with live in-memory metadata.
func (s *Store) IndexLen() int {
	return s.idx.Len()
}

// Close flushes and closes the backend.
func (s *Store) Close() error {
	return s.storage.Close()
}
