package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zoocache/zoocache.go/common"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSingleLeader(t *testing.T) {
	g := NewGroup()

	const n = 50
	var leaders int32
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			leader, w := g.Enter("k")
			if leader {
				atomic.AddInt32(&leaders, 1)
				time.Sleep(10 * time.Millisecond)
				g.Finish("k", false, []byte("v"))
				results[i] = []byte("v")
				return
			}
			results[i], errs[i] = w.Wait(time.Second)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, leaders)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, []byte("v"), results[i])
	}
	require.Equal(t, 0, g.Len())
}

func TestLeaderFailureReleasesWaiters(t *testing.T) {
	g := NewGroup()

	leader, _ := g.Enter("k")
	require.True(t, leader)

	leader2, w := g.Enter("k")
	require.False(t, leader2)

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(time.Second)
		done <- err
	}()

	g.Finish("k", true, nil)
	require.ErrorIs(t, <-done, common.ErrLeaderFailed)

	// the flight is gone: the next miss elects a new leader
	leader3, _ := g.Enter("k")
	require.True(t, leader3)
	g.Finish("k", false, []byte("v2"))
}

func TestWaiterTimeout(t *testing.T) {
	g := NewGroup()

	leader, _ := g.Enter("k")
	require.True(t, leader)

	_, w := g.Enter("k")
	start := time.Now()
	_, err := w.Wait(30 * time.Millisecond)
	require.ErrorIs(t, err, common.ErrLeaderTimeout)
	require.Less(t, time.Since(start), time.Second)

	// the timed-out waiter did not affect the leader
	g.Finish("k", false, []byte("late"))
	require.Equal(t, 0, g.Len())
}

func TestWaiterCancellation(t *testing.T) {
	g := NewGroup()

	leader, _ := g.Enter("k")
	require.True(t, leader)

	_, w := g.Enter("k")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.WaitContext(ctx, time.Minute)
		done <- err
	}()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// cancelling a waiter leaves the flight running
	require.Equal(t, 1, g.Len())
	g.Finish("k", false, nil)
}

func TestIndependentKeys(t *testing.T) {
	g := NewGroup()
	l1, _ := g.Enter("a")
	l2, _ := g.Enter("b")
	require.True(t, l1)
	require.True(t, l2)
	require.Equal(t, 2, g.Len())
	g.Finish("a", false, nil)
	g.Finish("b", false, nil)
}

func TestFinishUnknownKeyIsNoop(t *testing.T) {
	g := NewGroup()
	g.Finish("never-entered", false, []byte("x"))
	require.Equal(t, 0, g.Len())
}
