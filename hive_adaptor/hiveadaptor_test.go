package hive_adaptor

import (
	"testing"

	"github.com/iotaledger/hive.go/core/kvstore/mapdb"
	"github.com/stretchr/testify/require"
)

func TestKVStoreAdaptor(t *testing.T) {
	t.Run("get set delete", func(t *testing.T) {
		s := NewMapDB(nil)

		v, err := s.Get([]byte("missing"))
		require.NoError(t, err)
		require.Nil(t, v)

		require.NoError(t, s.Set([]byte("k"), []byte("v")))
		v, err = s.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)

		has, err := s.Has([]byte("k"))
		require.NoError(t, err)
		require.True(t, has)

		require.NoError(t, s.Delete([]byte("k")))
		v, err = s.Get([]byte("k"))
		require.NoError(t, err)
		require.Nil(t, v)

		// deleting an absent key is not an error
		require.NoError(t, s.Delete([]byte("k")))
	})
	t.Run("len and iterate", func(t *testing.T) {
		s := NewMapDB(nil)
		require.NoError(t, s.Set([]byte("a"), []byte("1")))
		require.NoError(t, s.Set([]byte("b"), []byte("2")))

		n, err := s.Len()
		require.NoError(t, err)
		require.Equal(t, 2, n)

		seen := map[string]bool{}
		require.NoError(t, s.IterateKeys(func(k []byte) bool {
			seen[string(k)] = true
			return true
		}))
		require.Equal(t, map[string]bool{"a": true, "b": true}, seen)
	})
	t.Run("partitions are isolated", func(t *testing.T) {
		kvs := mapdb.NewMapDB()
		p1 := NewKVStoreAdaptor(kvs, []byte("one:"))
		p2 := NewKVStoreAdaptor(kvs, []byte("two:"))

		require.NoError(t, p1.Set([]byte("k"), []byte("v1")))
		require.NoError(t, p2.Set([]byte("k"), []byte("v2")))

		v, err := p1.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), v)

		require.NoError(t, p1.Clear())
		v, err = p1.Get([]byte("k"))
		require.NoError(t, err)
		require.Nil(t, v)

		v, err = p2.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), v, "clearing one partition leaves the other")

		// iteration strips the partition prefix
		require.NoError(t, p2.IterateKeys(func(k []byte) bool {
			require.Equal(t, []byte("k"), k)
			return true
		}))
	})
	t.Run("badger survives reopen", func(t *testing.T) {
		dir := t.TempDir()

		s, err := OpenBadger(dir, []byte("zoocache:"))
		require.NoError(t, err)
		require.NoError(t, s.Set([]byte("k"), []byte("v")))
		require.NoError(t, s.Close())

		s2, err := OpenBadger(dir, []byte("zoocache:"))
		require.NoError(t, err)
		defer func() { require.NoError(t, s2.Close()) }()

		n, err := s2.Len()
		require.NoError(t, err)
		require.Equal(t, 1, n)

		v, err := s2.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	})
	t.Run("clear", func(t *testing.T) {
		s := NewMapDB([]byte("zoocache:"))
		require.NoError(t, s.Set([]byte("a"), []byte("1")))
		require.NoError(t, s.Clear())
		n, err := s.Len()
		require.NoError(t, err)
		require.Equal(t, 0, n)
	})
}
