package imagecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheStoresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	ctx := context.Background()
	c := NewRedisCache(client, time.Hour)

	_, ok, err := c.Get(ctx, "http://img/1.png")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "http://img/1.png", Entry{ContentType: "image/png", Data: []byte{0x89, 0x50}}))

	has, err := c.Has(ctx, "http://img/1.png")
	require.NoError(t, err)
	require.True(t, has)

	entry, ok, err := c.Get(ctx, "http://img/1.png")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/png", entry.ContentType)
	require.Equal(t, []byte{0x89, 0x50}, entry.Data)

	key := Key("http://img/1.png")
	require.Regexp(t, `^catalog:image:[0-9a-f]{64}$`, key)
	require.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	has, err = c.Has(ctx, "http://img/1.png")
	require.NoError(t, err)
	require.False(t, has)
}
