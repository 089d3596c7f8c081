package zoocache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoocache/zoocache.go/bus"
	"github.com/zoocache/zoocache.go/common"
	"github.com/zoocache/zoocache.go/flight"
	"github.com/zoocache/zoocache.go/store"
	"github.com/zoocache/zoocache.go/tagtrie"
)

// Core is one cache instance: the bounded store, the tag clock, the
// singleflight coordinator and the optional bus subscription. Construct it
// from a Config; it is safe for concurrent use by many goroutines.
type Core struct {
	cfg     Config
	log     zerolog.Logger
	trie    *tagtrie.Trie
	store   *store.Store
	flights *flight.Group
	bus     common.Bus
	ownBus  bool
	now     func() time.Time

	opCount   uint64
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type coreOptions struct {
	storage common.Storage
	bus     common.Bus
	clock   func() time.Time
}

// Option customizes a Core beyond the Config, mainly to inject backends
// directly (tests, in-process buses).
type Option func(*coreOptions)

// WithStorage injects a storage backend instead of opening one from
// Config.StorageURL.
func WithStorage(s common.Storage) Option {
	return func(o *coreOptions) { o.storage = s }
}

// WithBus injects a bus instead of opening one from Config.BusURL. The
// caller keeps ownership and must close the bus (before closing the Core,
// whose subscription loops drain until the bus shuts their channels).
func WithBus(b common.Bus) Option {
	return func(o *coreOptions) { o.bus = b }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *coreOptions) { o.clock = now }
}

func New(cfg Config, opts ...Option) (*Core, error) {
	cfg = cfg.withDefaults()
	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	storage := o.storage
	if storage == nil {
		var err error
		if storage, err = cfg.openStorage(); err != nil {
			return nil, err
		}
	}

	trie := tagtrie.New()
	st, err := store.New(storage, trie, store.Params{
		MaxEntries:   cfg.MaxEntries,
		MaxValueSize: cfg.MaxValueSize,
		TTIFlush:     cfg.TTIFlush,
		LRUUpdate:    cfg.LRUUpdateInterval,
		Logger:       log,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	c := &Core{
		cfg:     cfg,
		log:     log,
		trie:    trie,
		store:   st,
		flights: flight.NewGroup(),
		bus:     o.bus,
		now:     time.Now,
		quit:    make(chan struct{}),
	}
	if o.clock != nil {
		c.now = o.clock
		trie.SetClock(o.clock)
		st.SetClock(o.clock)
	}

	if c.bus == nil && cfg.BusURL != "" {
		b, errb := cfg.openBus(log)
		if errb != nil {
			_ = storage.Close()
			return nil, errb
		}
		c.bus = b
		c.ownBus = true
	}
	if c.bus != nil {
		if err = c.startBusLoops(); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	if cfg.AutoPruneEvery > 0 && cfg.PruneAfter > 0 {
		c.wg.Add(1)
		go c.runPruneTicker()
	}
	return c, nil
}

// Get returns the cached value for the key. The boolean reports a hit; a
// miss covers absent, expired and stale entries alike. Get never blocks on
// another caller's flight.
func (c *Core) Get(key string) ([]byte, bool, error) {
	c.maybePrune()
	return c.store.Get(key)
}

// Set stores the value under the key with the given dependency tags and the
// configured default TTL.
func (c *Core) Set(key string, value []byte, tags []string) error {
	return c.SetWithTTL(key, value, tags, c.cfg.DefaultTTL)
}

// SetWithTTL is Set with an explicit TTL; ttl == 0 stores without expiry.
func (c *Core) SetWithTTL(key string, value []byte, tags []string, ttl time.Duration) error {
	c.maybePrune()
	return c.store.Put(key, value, tags, ttl, c.cfg.ReadExtendTTL)
}

// GetOrEnter is the single atomic hit-or-admit decision of the singleflight
// protocol. On a hit it returns the value. On a miss the caller is either
// elected leader (and must Set and then FinishFlight exactly once) or handed
// a Waiter parked on the current leader's completion.
func (c *Core) GetOrEnter(key string) (value []byte, ok bool, leader bool, w *flight.Waiter, err error) {
	value, ok, err = c.Get(key)
	if err != nil || ok {
		return value, ok, false, nil, err
	}
	leader, w = c.flights.Enter(key)
	if leader {
		// a completion may have landed between the read and the admission
		value, ok, err = c.store.Get(key)
		if err != nil {
			c.flights.Finish(key, true, nil)
			return nil, false, false, nil, err
		}
		if ok {
			c.flights.Finish(key, false, value)
			return value, true, false, nil, nil
		}
	}
	return nil, false, leader, w, nil
}

// FinishFlight completes the caller's flight for the key. On success the
// value must already have been stored via Set, so that any caller observing
// the cleared flight hits the cache.
func (c *Core) FinishFlight(key string, failed bool, value []byte) {
	c.flights.Finish(key, failed, value)
}

// Producer computes a value and the dependency tags to cache it under.
type Producer func() (value []byte, tags []string, err error)

// GetOrCompute coalesces concurrent misses on the key onto one producer
// invocation. Waiters receive the produced value; if the leader's producer
// fails they retry (one of them is re-elected) rather than inheriting the
// leader's error. A waiter that outwaits FlightTimeout gets ErrLeaderTimeout.
func (c *Core) GetOrCompute(key string, produce Producer) ([]byte, error) {
	return c.GetOrComputeTTL(key, produce, c.cfg.DefaultTTL)
}

func (c *Core) GetOrComputeTTL(key string, produce Producer, ttl time.Duration) ([]byte, error) {
	for {
		value, ok, leader, w, err := c.GetOrEnter(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return value, nil
		}
		if leader {
			value, tags, perr := produce()
			if perr != nil {
				c.flights.Finish(key, true, nil)
				return nil, perr
			}
			if err = c.store.Put(key, value, tags, ttl, c.cfg.ReadExtendTTL); err != nil {
				c.flights.Finish(key, true, nil)
				return nil, err
			}
			c.flights.Finish(key, false, value)
			return value, nil
		}
		value, err = w.Wait(c.cfg.FlightTimeout)
		if err == nil {
			return value, nil
		}
		if errors.Is(err, common.ErrLeaderFailed) {
			continue
		}
		return nil, err
	}
}

// Invalidate renders every entry depending on the tag (or on any tag below
// it) stale, and broadcasts the invalidation when a bus is configured.
func (c *Core) Invalidate(tag string) error {
	if err := common.ValidateTag(tag); err != nil {
		return err
	}
	c.maybePrune()
	c.trie.Invalidate(tag)
	if c.bus != nil {
		msg := bus.Message{Tag: tag, Timestamp: c.now().Unix()}
		if err := c.bus.Publish(bus.InvalidateChannel(c.cfg.Prefix), msg.Encode()); err != nil {
			// the bus is best-effort; the local invalidation already took
			c.log.Warn().Str("tag", tag).Err(err).Msg("publishing invalidation failed")
		}
	}
	return nil
}

// Clear drops all entries and resets the tag clock.
func (c *Core) Clear() error {
	if err := c.store.Clear(); err != nil {
		return err
	}
	c.trie.Reset()
	return nil
}

// Prune garbage-collects trie nodes idle for longer than maxAge.
func (c *Core) Prune(maxAge time.Duration) {
	n := c.trie.Prune(maxAge)
	if n > 0 {
		c.log.Debug().Int("removed", n).Msg("pruned tag trie")
	}
}

// Len is the number of stored entries.
func (c *Core) Len() (int, error) {
	return c.store.Len()
}

// Stats is a point-in-time snapshot of instance internals, also served over
// the inspect channel.
type Stats struct {
	Prefix    string `json:"prefix"`
	Entries   int    `json:"entries"`
	Indexed   int    `json:"indexed"`
	TrieNodes int    `json:"trie_nodes"`
	Flights   int    `json:"flights"`
	Timestamp int64  `json:"timestamp"`
}

func (c *Core) Stats() Stats {
	entries, err := c.store.Len()
	if err != nil {
		entries = -1
	}
	return Stats{
		Prefix:    c.cfg.Prefix,
		Entries:   entries,
		Indexed:   c.store.IndexLen(),
		TrieNodes: c.trie.Len(),
		Flights:   c.flights.Len(),
		Timestamp: c.now().Unix(),
	}
}

// Close stops background loops and releases the backends. Idempotent.
func (c *Core) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		if c.bus != nil && c.ownBus {
			err = c.bus.Close()
		}
		c.wg.Wait()
		if serr := c.store.Close(); err == nil {
			err = serr
		}
	})
	return err
}

// maybePrune runs the trie GC every AutoPruneInterval operations.
func (c *Core) maybePrune() {
	if c.cfg.PruneAfter <= 0 {
		return
	}
	if atomic.AddUint64(&c.opCount, 1)%uint64(c.cfg.AutoPruneInterval) == 0 {
		c.Prune(c.cfg.PruneAfter)
	}
}

func (c *Core) runPruneTicker() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.AutoPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Prune(c.cfg.PruneAfter)
		case <-c.quit:
			return
		}
	}
}

func (c *Core) startBusLoops() error {
	invalidations, err := c.bus.Subscribe(bus.InvalidateChannel(c.cfg.Prefix))
	if err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}
	requests, err := c.bus.Subscribe(bus.InspectRequestChannel(c.cfg.Prefix))
	if err != nil {
		return fmt.Errorf("subscribe inspect requests: %w", err)
	}
	c.wg.Add(2)
	go c.runInvalidationLoop(invalidations)
	go c.runInspectLoop(requests)
	return nil
}

// runInvalidationLoop applies received invalidations locally. It never
// re-publishes: our own broadcasts come back on the subscription too, and
// re-applying them only advances epochs.
func (c *Core) runInvalidationLoop(ch <-chan []byte) {
	defer c.wg.Done()
	for payload := range ch {
		msg, err := bus.ParseMessage(payload)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed bus message")
			continue
		}
		c.trie.Invalidate(msg.Tag)
	}
}

// runInspectLoop answers remote inspection requests with instance stats.
func (c *Core) runInspectLoop(ch <-chan []byte) {
	defer c.wg.Done()
	for range ch {
		reply, err := json.Marshal(c.Stats())
		if err != nil {
			continue
		}
		if err = c.bus.Publish(bus.InspectReplyChannel(c.cfg.Prefix), reply); err != nil {
			c.log.Warn().Err(err).Msg("publishing inspect reply failed")
		}
	}
}
