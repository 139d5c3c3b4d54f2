package mas

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nci/eows/coverages"
	"github.com/nci/eows/metrics"
	"github.com/nci/gomemcache/memcache"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 4096

// CachedStore serves records from an in-process LRU, then memcache, then
// the wrapped store. Concurrent misses for the same key share one lookup.
// Missing records are not cached.
type CachedStore struct {
	next  Store
	l1    *lru.Cache[string, *coverages.Record]
	mc    *memcache.Client
	ttl   int32
	group singleflight.Group
}

// NewCachedStore wraps next. mc may be nil; ttl applies to memcache items.
func NewCachedStore(next Store, size int, mc *memcache.Client, ttl time.Duration) (*CachedStore, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	l1, err := lru.New[string, *coverages.Record](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, l1: l1, mc: mc, ttl: int32(ttl / time.Second)}, nil
}

func hashKey(parts ...string) string {
	buff := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(buff[:])
}

func (c *CachedStore) mcGet(key string, dst interface{}) bool {
	if c.mc == nil {
		return false
	}
	item, err := c.mc.Get(key)
	if err != nil {
		return false
	}
	return json.Unmarshal(item.Value, dst) == nil
}

func (c *CachedStore) mcSet(key string, v interface{}) {
	if c.mc == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	// memcache may not retain the item anyway
	c.mc.Set(&memcache.Item{Key: key, Value: payload, Expiration: c.ttl})
}

func (c *CachedStore) Record(ctx context.Context, id string) (*coverages.Record, error) {
	if rec, ok := c.l1.Get(id); ok {
		metrics.IncStoreLookup("lru")
		return copyRecord(rec), nil
	}

	v, err, _ := c.group.Do("record\x00"+id, func() (interface{}, error) {
		key := hashKey("record", id)
		var rec coverages.Record
		if c.mcGet(key, &rec) {
			metrics.IncStoreLookup("memcache")
			c.l1.Add(id, &rec)
			return &rec, nil
		}

		r, err := c.next.Record(ctx, id)
		if err != nil || r == nil {
			return r, err
		}
		c.l1.Add(id, r)
		c.mcSet(key, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return copyRecord(v.(*coverages.Record)), nil
}

func copyRecord(r *coverages.Record) *coverages.Record {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

func (c *CachedStore) Identifiers(ctx context.Context, kinds ...string) ([]string, error) {
	sorted := append([]string(nil), kinds...)
	sort.Strings(sorted)
	return c.cachedList(ctx, hashKey(append([]string{"identifiers"}, sorted...)...), func() ([]string, error) {
		return c.next.Identifiers(ctx, kinds...)
	})
}

func (c *CachedStore) Intersects(ctx context.Context, q Query) ([]string, error) {
	return c.cachedList(ctx, hashKey("intersects", queryKey(q)), func() ([]string, error) {
		return c.next.Intersects(ctx, q)
	})
}

// cachedList caches identifier lists in memcache only; they go stale
// whenever records are loaded.
func (c *CachedStore) cachedList(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		var ids []string
		if c.mcGet(key, &ids) {
			metrics.IncStoreLookup("memcache")
			return ids, nil
		}
		ids, err := load()
		if err != nil {
			return nil, err
		}
		c.mcSet(key, ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

func queryKey(q Query) string {
	var b strings.Builder
	if !q.Begin.IsZero() {
		b.WriteString(q.Begin.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('/')
	if !q.End.IsZero() {
		b.WriteString(q.End.UTC().Format(time.RFC3339Nano))
	}
	if q.BBox != nil {
		fmt.Fprintf(&b, "|%v", *q.BBox)
	}
	kinds := append([]string(nil), q.Kinds...)
	sort.Strings(kinds)
	fmt.Fprintf(&b, "|%s|%d", strings.Join(kinds, ","), q.Limit)
	return b.String()
}

// Purge drops the in-process entries.
func (c *CachedStore) Purge() {
	c.l1.Purge()
}
