package zoocache

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/zoocache/zoocache.go/bus"
	"github.com/zoocache/zoocache.go/common"
	"github.com/zoocache/zoocache.go/hive_adaptor"
)

// Config enumerates the cache options. The zero value is usable; prefer
// DefaultConfig, which also enables read-extended TTL the way the reference
// configuration does.
type Config struct {
	// StorageURL selects the storage backend: empty or `memory://` for the
	// in-memory map, `badger://<path>` for the embedded disk KV.
	StorageURL string `envconfig:"STORAGE_URL"`
	// BusURL enables cross-process invalidation: `redis://host:port/db`.
	// Empty means no bus.
	BusURL string `envconfig:"BUS_URL"`
	// Prefix namespaces bus channels and storage keys.
	Prefix string `envconfig:"PREFIX" default:"zoocache"`
	// DefaultTTL applies to Set and GetOrCompute; 0 means entries do not expire.
	DefaultTTL time.Duration `envconfig:"DEFAULT_TTL"`
	// ReadExtendTTL turns reads into TTI: a hit pushes the expiry forward.
	ReadExtendTTL bool `envconfig:"READ_EXTEND_TTL" default:"true"`
	// MaxEntries caps stored entries; 0 means unbounded.
	MaxEntries int `envconfig:"MAX_ENTRIES"`
	// MaxValueSize rejects larger values with ErrStorageIsFull; 0 means no limit.
	MaxValueSize int `envconfig:"MAX_VALUE_SIZE"`
	// FlightTimeout bounds how long a waiter parks on another caller's flight.
	FlightTimeout time.Duration `envconfig:"FLIGHT_TIMEOUT" default:"60s"`
	// TTIFlush coalesces TTI expiry rewrites.
	TTIFlush time.Duration `envconfig:"TTI_FLUSH" default:"30s"`
	// AutoPruneInterval runs a trie prune every that many cache operations
	// (when PruneAfter is set).
	AutoPruneInterval int `envconfig:"AUTO_PRUNE_INTERVAL" default:"1000"`
	// AutoPruneEvery additionally runs the prune on a wall-clock cadence.
	AutoPruneEvery time.Duration `envconfig:"AUTO_PRUNE_EVERY"`
	// PruneAfter is the idle age beyond which unreferenced trie nodes are dropped.
	PruneAfter time.Duration `envconfig:"PRUNE_AFTER"`
	// LRUUpdateInterval coalesces last-used stamping on reads.
	LRUUpdateInterval time.Duration `envconfig:"LRU_UPDATE_INTERVAL" default:"30s"`
	// Logger receives operational events; nil disables logging.
	Logger *zerolog.Logger `ignored:"true"`
}

func DefaultConfig() Config {
	return Config{
		Prefix:            "zoocache",
		ReadExtendTTL:     true,
		FlightTimeout:     60 * time.Second,
		TTIFlush:          30 * time.Second,
		AutoPruneInterval: 1000,
		LRUUpdateInterval: 30 * time.Second,
	}
}

// ConfigFromEnv builds the configuration from ZOOCACHE_* environment
// variables (ZOOCACHE_STORAGE_URL, ZOOCACHE_MAX_ENTRIES, ...).
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("zoocache", &cfg); err != nil {
		return Config{}, fmt.Errorf("config from env: %w", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills the zero fields that have mandatory defaults, so a
// hand-built Config{} behaves sanely. ReadExtendTTL is left untouched: false
// is a valid explicit choice.
func (cfg Config) withDefaults() Config {
	if cfg.Prefix == "" {
		cfg.Prefix = "zoocache"
	}
	if cfg.FlightTimeout == 0 {
		cfg.FlightTimeout = 60 * time.Second
	}
	if cfg.TTIFlush == 0 {
		cfg.TTIFlush = 30 * time.Second
	}
	if cfg.AutoPruneInterval == 0 {
		cfg.AutoPruneInterval = 1000
	}
	if cfg.LRUUpdateInterval == 0 {
		cfg.LRUUpdateInterval = 30 * time.Second
	}
	return cfg
}

// equalSettings compares everything except the logger; used by the global
// wrapper's re-configuration guard.
func (cfg Config) equalSettings(other Config) bool {
	cfg.Logger = nil
	other.Logger = nil
	return cfg == other
}

// keyPartition is the storage key namespace derived from the prefix.
func (cfg Config) keyPartition() []byte {
	if cfg.Prefix == "" {
		return nil
	}
	return []byte(cfg.Prefix + ":")
}

func (cfg Config) openStorage() (common.Storage, error) {
	if cfg.StorageURL == "" {
		return hive_adaptor.NewMapDB(cfg.keyPartition()), nil
	}
	u, err := url.Parse(cfg.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return hive_adaptor.NewMapDB(cfg.keyPartition()), nil
	case "badger":
		return hive_adaptor.OpenBadger(u.Host+u.Path, cfg.keyPartition())
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

func (cfg Config) openBus(log zerolog.Logger) (common.Bus, error) {
	if cfg.BusURL == "" {
		return nil, nil
	}
	u, err := url.Parse(cfg.BusURL)
	if err != nil {
		return nil, fmt.Errorf("parse bus url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		return bus.NewRedisBus(cfg.BusURL, log)
	default:
		return nil, fmt.Errorf("unsupported bus scheme %q", u.Scheme)
	}
}
