package zoocache

import (
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// The process-global instance, for callers that want the convenience of a
// package-level cache. Libraries and tests should construct their own Core
// from a Config instead.

type manager struct {
	mu         sync.Mutex
	cfg        Config
	configured bool
	core       *Core
}

var defaultManager manager

// Configure sets the configuration of the process-global instance. The
// instance itself is created lazily on first use, so Configure may be called
// after cache users are wired up. Re-configuring with different settings is
// an error; re-configuring with identical settings is a no-op.
func Configure(cfg Config) error {
	defaultManager.mu.Lock()
	defer defaultManager.mu.Unlock()
	if defaultManager.configured && !defaultManager.cfg.equalSettings(cfg) {
		return xerrors.New("zoocache already initialized with different settings")
	}
	defaultManager.cfg = cfg
	defaultManager.configured = true
	return nil
}

func getCore() (*Core, error) {
	defaultManager.mu.Lock()
	defer defaultManager.mu.Unlock()
	if defaultManager.core == nil {
		cfg := defaultManager.cfg
		if !defaultManager.configured {
			cfg = DefaultConfig()
		}
		core, err := New(cfg)
		if err != nil {
			return nil, err
		}
		defaultManager.core = core
		defaultManager.configured = true
		defaultManager.cfg = cfg
	}
	return defaultManager.core, nil
}

// Reset closes the process-global instance and forgets its configuration.
// Mainly for tests.
func Reset() error {
	defaultManager.mu.Lock()
	defer defaultManager.mu.Unlock()
	var err error
	if defaultManager.core != nil {
		err = defaultManager.core.Close()
	}
	defaultManager.core = nil
	defaultManager.cfg = Config{}
	defaultManager.configured = false
	return err
}

// Get reads from the process-global instance.
func Get(key string) ([]byte, bool, error) {
	c, err := getCore()
	if err != nil {
		return nil, false, err
	}
	return c.Get(key)
}

// Set writes to the process-global instance with the default TTL.
func Set(key string, value []byte, tags []string) error {
	c, err := getCore()
	if err != nil {
		return err
	}
	return c.Set(key, value, tags)
}

// SetWithTTL writes to the process-global instance with an explicit TTL.
func SetWithTTL(key string, value []byte, tags []string, ttl time.Duration) error {
	c, err := getCore()
	if err != nil {
		return err
	}
	return c.SetWithTTL(key, value, tags, ttl)
}

// GetOrCompute coalesces concurrent misses on the process-global instance.
func GetOrCompute(key string, produce Producer) ([]byte, error) {
	c, err := getCore()
	if err != nil {
		return nil, err
	}
	return c.GetOrCompute(key, produce)
}

// Invalidate bumps the tag on the process-global instance.
func Invalidate(tag string) error {
	c, err := getCore()
	if err != nil {
		return err
	}
	return c.Invalidate(tag)
}

// Clear drops all entries of the process-global instance.
func Clear() error {
	c, err := getCore()
	if err != nil {
		return err
	}
	return c.Clear()
}

// Prune garbage-collects the process-global instance's tag trie.
func Prune(maxAge time.Duration) error {
	c, err := getCore()
	if err != nil {
		return err
	}
	c.Prune(maxAge)
	return nil
}
