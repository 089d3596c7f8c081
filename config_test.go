package zoocache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func nopLoggerPtr() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "zoocache", cfg.Prefix)
	require.True(t, cfg.ReadExtendTTL)
	require.Equal(t, 60*time.Second, cfg.FlightTimeout)
	require.Equal(t, 30*time.Second, cfg.TTIFlush)
	require.Equal(t, 1000, cfg.AutoPruneInterval)
	require.Equal(t, 30*time.Second, cfg.LRUUpdateInterval)
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{MaxEntries: 7}.withDefaults()
	require.Equal(t, "zoocache", cfg.Prefix)
	require.Equal(t, 60*time.Second, cfg.FlightTimeout)
	require.Equal(t, 7, cfg.MaxEntries)
	require.False(t, cfg.ReadExtendTTL, "an explicit false is preserved")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ZOOCACHE_STORAGE_URL", "memory://")
	t.Setenv("ZOOCACHE_PREFIX", "myapp")
	t.Setenv("ZOOCACHE_MAX_ENTRIES", "100")
	t.Setenv("ZOOCACHE_DEFAULT_TTL", "90s")
	t.Setenv("ZOOCACHE_READ_EXTEND_TTL", "false")
	t.Setenv("ZOOCACHE_FLIGHT_TIMEOUT", "5s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "memory://", cfg.StorageURL)
	require.Equal(t, "myapp", cfg.Prefix)
	require.Equal(t, 100, cfg.MaxEntries)
	require.Equal(t, 90*time.Second, cfg.DefaultTTL)
	require.False(t, cfg.ReadExtendTTL)
	require.Equal(t, 5*time.Second, cfg.FlightTimeout)
}

func TestStorageURLSchemes(t *testing.T) {
	t.Run("empty defaults to memory", func(t *testing.T) {
		s, err := Config{}.openStorage()
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})
	t.Run("memory scheme", func(t *testing.T) {
		s, err := Config{StorageURL: "memory://"}.openStorage()
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})
	t.Run("unknown scheme", func(t *testing.T) {
		_, err := Config{StorageURL: "carrier-pigeon://coop"}.openStorage()
		require.Error(t, err)
	})
}

func TestUnsupportedBusScheme(t *testing.T) {
	_, err := Config{BusURL: "smoke-signals://hill"}.openBus(nopLogger())
	require.Error(t, err)
}

func TestEqualSettingsIgnoresLogger(t *testing.T) {
	log := nopLoggerPtr()
	a := DefaultConfig()
	b := DefaultConfig()
	b.Logger = log
	require.True(t, a.equalSettings(b))

	b.MaxEntries = 1
	require.False(t, a.equalSettings(b))
}
