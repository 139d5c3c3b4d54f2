package utils

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*OWSCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewOWSCache(client, "eows", time.Minute), mr
}

func TestOWSCacheKey(t *testing.T) {
	c, _ := newTestCache(t)

	a := c.CacheKey("", url.Values{"service": {"WCS"}, "request": {"GetCapabilities"}})
	b := c.CacheKey("", url.Values{"REQUEST": {"GetCapabilities"}, "Service": {"WCS"}})
	assert.Equal(t, a, b, "key order and case do not matter")

	other := c.CacheKey("landsat", url.Values{"service": {"WCS"}, "request": {"GetCapabilities"}})
	assert.NotEqual(t, a, other, "namespaces are separated")
}

func TestOWSCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := c.CacheKey("", url.Values{"request": {"GetCapabilities"}})

	resp, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, resp)

	require.NoError(t, c.Put(ctx, key, &CachedResponse{ContentType: "text/xml", Body: []byte("<a/>")}))
	resp, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "text/xml", resp.ContentType)
	assert.Equal(t, "<a/>", string(resp.Body))

	mr.FastForward(2 * time.Minute)
	resp, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, resp, "entries expire")
}

func TestOWSCacheFlush(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for _, ns := range []string{"a", "b"} {
		key := c.CacheKey(ns, url.Values{"request": {"GetCapabilities"}})
		require.NoError(t, c.Put(ctx, key, &CachedResponse{ContentType: "text/xml", Body: []byte(ns)}))
	}
	mr.Set("unrelated", "1")

	require.NoError(t, c.Flush(ctx))
	assert.Len(t, mr.Keys(), 1)
}
