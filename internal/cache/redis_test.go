package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisConnectorGetSetDelete(t *testing.T) {
	ctx := context.Background()
	conn := NewRedisConnector(newTestRedis(t))

	_, err := conn.Get(ctx, "", "abi:0x1", "default")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, conn.Set(ctx, "abi:0x1", "default", []byte(`{"ok":true}`), Permanent))
	v, err := conn.Get(ctx, "", "abi:0x1", "default")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(v))

	require.NoError(t, conn.Delete(ctx, "abi:0x1", "default"))
	_, err = conn.Get(ctx, "", "abi:0x1", "default")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheBackfillsFasterLayers(t *testing.T) {
	ctx := context.Background()
	l1, err := NewRistrettoConnector()
	require.NoError(t, err)
	t.Cleanup(l1.Close)
	l2 := NewRedisConnector(newTestRedis(t))

	c := NewCache(zerolog.Nop(), l1, l2)

	// write only reaches l2 directly here to simulate an already-warm L2
	ttl := 10 * time.Minute
	require.NoError(t, l2.Set(ctx, "src:0xabc", "default", []byte("source text"), &ttl))

	v, err := c.Get(ctx, "", "src:0xabc", "default")
	require.NoError(t, err)
	require.Equal(t, "source text", string(v))

	l1v, err := l1.Get(ctx, "", "src:0xabc", "default")
	require.NoError(t, err)
	require.Equal(t, "source text", string(l1v))
}
