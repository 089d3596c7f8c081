package bus

import (
	"fmt"
	"sync"

	"github.com/go-redis/redis"
	"github.com/rs/zerolog"

	"github.com/zoocache/zoocache.go/common"
)

// RedisBus propagates invalidations over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

var _ common.Bus = &RedisBus{}

// NewRedisBus connects to the Redis instance at url (`redis://host:port/db`).
func NewRedisBus(url string, log zerolog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err = client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bus: connect to redis: %w", err)
	}
	return &RedisBus{client: client, log: log}, nil
}

func (b *RedisBus) Publish(channel string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return common.ErrClosed
	}
	b.mu.Unlock()
	return b.client.Publish(channel, payload).Err()
}

func (b *RedisBus) Subscribe(channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, common.ErrClosed
	}
	ps := b.client.Subscribe(channel)
	if _, err := ps.Receive(); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}
	b.subs = append(b.subs, ps)

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				b.log.Warn().Str("channel", channel).Msg("bus subscriber lagging, dropping message")
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return b.client.Close()
}
