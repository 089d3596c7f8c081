// Package flight coordinates concurrent misses on one key: exactly one caller
// is admitted as the producing leader, everyone else parks on the flight's
// completion and either receives the produced value or, when the leader
// failed, a retry signal. A leader's error is never inherited by waiters.
package flight

import (
	"context"
	"sync"
	"time"

	"github.com/zoocache/zoocache.go/common"
)

// call is the transient coordination record of one in-progress production.
// value and failed are written exactly once, before done is closed.
type call struct {
	done   chan struct{}
	value  []byte
	failed bool
}

// Waiter is the handle a non-leader parks on.
type Waiter struct {
	c *call
}

// Wait parks until the leader completes or the timeout expires. On leader
// success it returns the produced value. On leader failure it returns
// common.ErrLeaderFailed: the waiter did not produce anything and is free to
// retry (and may be elected leader itself). On timeout it returns
// common.ErrLeaderTimeout; the leader is unaffected.
func (w *Waiter) Wait(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.c.done:
		if w.c.failed {
			return nil, common.ErrLeaderFailed
		}
		return w.c.value, nil
	case <-timer.C:
		return nil, common.ErrLeaderTimeout
	}
}

// WaitContext is Wait with caller-controlled cancellation. Cancelling the
// waiter only detaches it; the leader keeps producing.
func (w *Waiter) WaitContext(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.c.done:
		if w.c.failed {
			return nil, common.ErrLeaderFailed
		}
		return w.c.value, nil
	case <-timer.C:
		return nil, common.ErrLeaderTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Group tracks at most one flight per key. The latch is held only for the
// state transition itself; waiters park outside it.
type Group struct {
	mu      sync.Mutex
	flights map[string]*call
}

func NewGroup() *Group {
	return &Group{
		flights: make(map[string]*call),
	}
}

// Enter is the single atomic admission decision for a miss on the key.
// With no flight in progress the caller becomes the leader and must
// eventually call Finish exactly once. Otherwise the caller is attached to
// the existing flight as a waiter.
func (g *Group) Enter(key string) (leader bool, w *Waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.flights[key]; ok {
		return false, &Waiter{c: c}
	}
	g.flights[key] = &call{done: make(chan struct{})}
	return true, nil
}

// Finish completes the key's flight and releases all waiters. On success the
// leader has already stored the value, so a caller observing the cleared
// flight state hits the cache on its next read. Finishing an unknown key is
// a no-op.
func (g *Group) Finish(key string, failed bool, value []byte) {
	g.mu.Lock()
	c, ok := g.flights[key]
	if ok {
		delete(g.flights, key)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	c.value = value
	c.failed = failed
	close(c.done)
}

// Len is the number of flights in progress.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}
