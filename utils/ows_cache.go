package utils

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// OWSCache stores encoded responses of cacheable requests in redis.
// Keys are derived from the namespace and the canonical request.
type OWSCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CachedResponse is a response body with its content type.
type CachedResponse struct {
	ContentType string
	Body        []byte
}

func NewOWSCache(client *redis.Client, prefix string, ttl time.Duration) *OWSCache {
	if ttl <= 0 {
		ttl = DefaultResponseCacheTTL
	}
	return &OWSCache{client: client, prefix: prefix, ttl: ttl}
}

// NewOWSCacheFromAddr connects to the redis server at addr.
func NewOWSCacheFromAddr(addr, prefix string, ttl time.Duration) *OWSCache {
	return NewOWSCache(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

// CacheKey hashes the namespace and the query with keys lower cased and
// sorted so that equivalent requests share an entry.
func (o *OWSCache) CacheKey(namespace string, query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)

	lowered := make(map[string][]string, len(query))
	for k, v := range query {
		lk := strings.ToLower(k)
		lowered[lk] = append(lowered[lk], v...)
	}

	var b strings.Builder
	b.WriteString(namespace)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(lowered[k], "\x00"))
	}
	return fmt.Sprintf("%s:%016x", o.prefix, xxhash.Sum64String(b.String()))
}

// Get returns nil without error on a cache miss.
func (o *OWSCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	vals, err := o.client.HMGet(ctx, key, "ct", "body").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	ct, _ := vals[0].(string)
	body, _ := vals[1].(string)
	return &CachedResponse{ContentType: ct, Body: []byte(body)}, nil
}

func (o *OWSCache) Put(ctx context.Context, key string, resp *CachedResponse) error {
	pipe := o.client.TxPipeline()
	pipe.HSet(ctx, key, "ct", resp.ContentType, "body", resp.Body)
	pipe.Expire(ctx, key, o.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Flush drops every entry under the cache prefix, e.g. after a config
// reload.
func (o *OWSCache) Flush(ctx context.Context) error {
	iter := o.client.Scan(ctx, 0, o.prefix+":*", 256).Iterator()
	for iter.Next(ctx) {
		if err := o.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (o *OWSCache) Close() error {
	return o.client.Close()
}
