package bus

import (
	"sync"

	"github.com/zoocache/zoocache.go/common"
)

// MemoryBus is an in-process Bus. Useful for tests and for wiring several
// cache instances inside one process; like Redis pub/sub it also delivers a
// publisher's own messages back to its subscriptions.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]chan []byte
	closed bool
}

var _ common.Bus = &MemoryBus{}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]chan []byte),
	}
}

func (b *MemoryBus) Publish(channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return common.ErrClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	for _, ch := range b.subs[channel] {
		select {
		case ch <- cp:
		default:
			// best-effort transport: a lagging subscriber loses the message
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, common.ErrClosed
	}
	ch := make(chan []byte, 64)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = nil
	return nil
}
