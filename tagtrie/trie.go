// Package tagtrie implements the tag clock: a prefix trie over colon-delimited
// tags whose nodes carry monotone invalidation epochs. A reader decides in
// O(path length) whether a snapshot captured at write time has been outdated
// by a later invalidation of the tag, an ancestor, or a descendant, without
// touching any other entry.
package tagtrie

import (
	"sync"
	"time"

	"github.com/zoocache/zoocache.go/common"
)

// Snapshot is the freshness witness captured from the trie at write time.
// Counter is the tag's own invalidation epoch at capture; Subtree is the
// epoch horizon of the capture: any invalidation relevant to the tag issued
// after the capture carries an epoch strictly greater than Subtree.
type Snapshot struct {
	Counter uint64
	Subtree uint64
}

// Trie is the shared tag clock. Safe for concurrent use: validations take the
// read latch, invalidations and snapshots the write latch. A single
// coarse-grained latch is deliberate; node-level latching is an optimization
// the current callers do not need.
type Trie struct {
	mu    sync.RWMutex
	root  *node
	epoch uint64
	now   func() time.Time
}

func New() *Trie {
	ret := &Trie{
		root: newNode(),
		now:  time.Now,
	}
	ret.epoch = uint64(ret.now().UnixNano())
	return ret
}

// SetClock overrides the time source. Epochs stay strictly monotone
// regardless of the clock going backwards.
func (tr *Trie) SetClock(now func() time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.now = now
}

// nextEpoch issues a strictly monotone epoch, seeded from wall-clock nanos so
// that invalidations issued after a process restart outrank snapshots
// persisted by a previous process. Caller must hold the write latch.
func (tr *Trie) nextEpoch() uint64 {
	e := uint64(tr.now().UnixNano())
	if e <= tr.epoch {
		e = tr.epoch + 1
	}
	tr.epoch = e
	return e
}

// Snapshot walks (and creates) nodes along the tag's segments and returns the
// freshness witness for the tag. The tag must be validated by the caller.
func (tr *Trie) Snapshot(tag string) Snapshot {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.snapshot(tag, tr.now().Unix())
}

// SnapshotAll captures witnesses for all tags under one latch acquisition, so
// that a multi-tag entry observes a single epoch horizon.
func (tr *Trie) SnapshotAll(tags []string) []Snapshot {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	nowUnix := tr.now().Unix()
	ret := make([]Snapshot, len(tags))
	for i, tag := range tags {
		ret[i] = tr.snapshot(tag, nowUnix)
	}
	return ret
}

func (tr *Trie) snapshot(tag string, nowUnix int64) Snapshot {
	n := tr.root
	for _, segment := range common.SplitTag(tag) {
		n = n.ensureChild(segment)
		n.touch(nowUnix)
	}
	return Snapshot{Counter: n.counter, Subtree: tr.epoch}
}

// Invalidate bumps the subtree epoch of every node along the tag's path and
// the exact epoch of the leaf, creating nodes as needed. Returns the epoch
// issued for this invalidation. The tag must be validated by the caller.
func (tr *Trie) Invalidate(tag string) uint64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	epoch := tr.nextEpoch()
	nowUnix := tr.now().Unix()
	n := tr.root
	for _, segment := range common.SplitTag(tag) {
		n = n.ensureChild(segment)
		n.subtree = epoch
		n.touch(nowUnix)
	}
	n.counter = epoch
	return epoch
}

// Check decides whether the snapshot is still a valid freshness witness for
// the tag. A missing path means the tag was never invalidated. When the
// verdict is valid but the walk had to descend past sibling noise, repairTo
// carries the current epoch horizon the caller may fold back into the stored
// snapshot (lazy repair); repairTo is 0 when no repair is useful.
func (tr *Trie) Check(tag string, snap Snapshot) (valid bool, repairTo uint64) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	nowUnix := tr.now().Unix()
	segments := common.SplitTag(tag)
	n := tr.root
	for i, segment := range segments {
		n = n.child(segment)
		if n == nil {
			// path never observed by an invalidation: trivially fresh
			return true, 0
		}
		n.touch(nowUnix)
		if n.subtree <= snap.Subtree {
			// nothing in this subtree changed since the capture
			if i == 0 {
				return true, 0
			}
			return true, tr.epoch
		}
		if n.counter > snap.Subtree {
			// the tag itself or one of its ancestors was invalidated after the capture
			return false, 0
		}
		if i == len(segments)-1 {
			// leaf subtree advanced without an exact hit on the path:
			// a descendant of the tag was invalidated
			return false, 0
		}
	}
	// walk completed through sibling activity only
	return true, tr.epoch
}

// Len returns the number of nodes in the trie (root excluded).
func (tr *Trie) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.root.numNodes()
}

// Reset drops all nodes. The epoch keeps advancing so snapshots captured
// before the reset never outrank later invalidations.
func (tr *Trie) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.root = newNode()
	tr.nextEpoch()
}

// Prune removes nodes idle for longer than maxAge. Only leaves whose counters
// are both zero are eligible: a node that witnessed an invalidation is kept,
// so a missing path always genuinely means "never invalidated". Returns the
// number of nodes removed.
func (tr *Trie) Prune(maxAge time.Duration) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	cutoff := tr.now().Add(-maxAge).Unix()
	return pruneNode(tr.root, cutoff)
}

func pruneNode(n *node, cutoff int64) int {
	removed := 0
	for segment, child := range n.children {
		removed += pruneNode(child, cutoff)
		if len(child.children) == 0 && child.counter == 0 && child.subtree == 0 && child.touchedAt() < cutoff {
			delete(n.children, segment)
			removed++
		}
	}
	return removed
}
