package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dfs-go/internal/dfs"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfs_store_cache_hits_total",
		Help: "Fetches answered from the content cache",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfs_store_cache_misses_total",
		Help: "Fetches that went to the content store",
	})
)

// CachedStore keeps recently fetched content in an LRU with TTL. Content
// ids name immutable bytes, so entries never need invalidation.
type CachedStore struct {
	dfs.ContentStore
	cache *expirable.LRU[string, []byte]
}

// NewCachedStore wraps next with a cache of at most size items.
func NewCachedStore(next dfs.ContentStore, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		ContentStore: next,
		cache:        expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Pin passes through and seeds the cache with the pinned bytes.
func (c *CachedStore) Pin(ctx context.Context, fileName string, data []byte) (string, error) {
	contentID, err := c.ContentStore.Pin(ctx, fileName, data)
	if err != nil {
		return "", err
	}
	c.cache.Add(contentID, append([]byte(nil), data...))
	return contentID, nil
}

func (c *CachedStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if data, ok := c.cache.Get(contentID); ok {
		cacheHitsTotal.Inc()
		return append([]byte(nil), data...), nil
	}
	cacheMissesTotal.Inc()

	data, err := c.ContentStore.Fetch(ctx, contentID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(contentID, append([]byte(nil), data...))
	return data, nil
}

var _ dfs.ContentStore = (*CachedStore)(nil)
