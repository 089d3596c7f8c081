package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoocache/zoocache.go/common"
)

func TestMessageCodec(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		m := Message{Tag: "org:1:user:42", Timestamp: 1700000000}
		require.Equal(t, []byte("org:1:user:42|1700000000"), m.Encode())

		back, err := ParseMessage(m.Encode())
		require.NoError(t, err)
		require.Equal(t, m, back)
	})
	t.Run("missing separator", func(t *testing.T) {
		_, err := ParseMessage([]byte("no-separator"))
		require.Error(t, err)
	})
	t.Run("invalid tag", func(t *testing.T) {
		_, err := ParseMessage([]byte("bad tag|123"))
		require.ErrorIs(t, err, common.ErrInvalidTag)
	})
	t.Run("malformed timestamp", func(t *testing.T) {
		_, err := ParseMessage([]byte("tag|notanumber"))
		require.Error(t, err)
	})
}

func TestChannels(t *testing.T) {
	require.Equal(t, "zoocache:invalidate", InvalidateChannel("zoocache"))
	require.Equal(t, "zoocache:inspect:request", InspectRequestChannel("zoocache"))
	require.Equal(t, "zoocache:inspect:reply", InspectReplyChannel("zoocache"))
}

func TestMemoryBus(t *testing.T) {
	t.Run("fanout includes publisher", func(t *testing.T) {
		b := NewMemoryBus()
		defer func() { require.NoError(t, b.Close()) }()

		ch1, err := b.Subscribe("c")
		require.NoError(t, err)
		ch2, err := b.Subscribe("c")
		require.NoError(t, err)

		require.NoError(t, b.Publish("c", []byte("hello")))
		require.Equal(t, []byte("hello"), recv(t, ch1))
		require.Equal(t, []byte("hello"), recv(t, ch2))
	})
	t.Run("channels are independent", func(t *testing.T) {
		b := NewMemoryBus()
		defer func() { require.NoError(t, b.Close()) }()

		ch, err := b.Subscribe("one")
		require.NoError(t, err)
		require.NoError(t, b.Publish("other", []byte("x")))

		select {
		case payload := <-ch:
			t.Fatalf("unexpected delivery: %q", payload)
		case <-time.After(20 * time.Millisecond):
		}
	})
	t.Run("close ends subscriptions", func(t *testing.T) {
		b := NewMemoryBus()
		ch, err := b.Subscribe("c")
		require.NoError(t, err)
		require.NoError(t, b.Close())

		_, open := <-ch
		require.False(t, open)

		require.ErrorIs(t, b.Publish("c", []byte("x")), common.ErrClosed)
		_, err = b.Subscribe("c")
		require.ErrorIs(t, err, common.ErrClosed)
		require.NoError(t, b.Close(), "close is idempotent")
	})
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus message")
		return nil
	}
}
