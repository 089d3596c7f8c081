package zoocache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobalWrapper(t *testing.T) {
	require.NoError(t, Reset())
	t.Cleanup(func() { require.NoError(t, Reset()) })

	require.NoError(t, Configure(DefaultConfig()))

	require.NoError(t, Set("k", []byte("v"), []string{"org:1"}))
	v, hit, err := Get("k")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, Invalidate("org:1"))
	_, hit, err = Get("k")
	require.NoError(t, err)
	require.False(t, hit)

	calls := 0
	v, err = GetOrCompute("computed", func() ([]byte, []string, error) {
		calls++
		return []byte("produced"), []string{"dep"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("produced"), v)
	require.Equal(t, 1, calls)

	require.NoError(t, Clear())
	_, hit, err = Get("computed")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestConfigureGuardsAgainstDivergence(t *testing.T) {
	require.NoError(t, Reset())
	t.Cleanup(func() { require.NoError(t, Reset()) })

	cfg := DefaultConfig()
	require.NoError(t, Configure(cfg))
	require.NoError(t, Configure(cfg), "re-configuring with identical settings is a no-op")

	other := cfg
	other.MaxEntries = 10
	err := Configure(other)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already initialized with different settings")
}

func TestConfigureBeforeFirstOperationWins(t *testing.T) {
	require.NoError(t, Reset())
	t.Cleanup(func() { require.NoError(t, Reset()) })

	// configuring before the first operation wins, regardless of wiring order
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	require.NoError(t, Configure(cfg))

	for i := 0; i < 10; i++ {
		require.NoError(t, Set(string(rune('a'+i)), []byte("v"), nil))
	}
	c, err := getCore()
	require.NoError(t, err)
	n, err := c.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
