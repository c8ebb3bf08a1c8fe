package starch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eringen/starch/entity"
)

// maxCachedQueries bounds the number of distinct queries kept at once.
const maxCachedQueries = 512

// QueryCache is an entity.Store that keeps query results in memory for a
// TTL. Search queries, single-record reads, adjacency and metadata go
// straight to the underlying store.
type QueryCache struct {
	entity.Store

	mu      sync.RWMutex
	entries map[string]cachedQuery
	ttl     time.Duration
}

type cachedQuery struct {
	recs    []entity.Record
	fetched time.Time
}

// NewQueryCache creates a QueryCache backed by store.
func NewQueryCache(store entity.Store, ttl time.Duration) *QueryCache {
	return &QueryCache{Store: store, ttl: ttl, entries: make(map[string]cachedQuery)}
}

func (c *QueryCache) valid(e cachedQuery) bool {
	return time.Since(e.fetched) < c.ttl
}

// Invalidate clears the cache so the next query reaches the store.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cachedQuery)
	c.mu.Unlock()
}

// Query returns cached results for q when they are fresh. It tries a read
// lock first and only takes the write lock to store a reload.
func (c *QueryCache) Query(ctx context.Context, q entity.Query) ([]entity.Record, error) {
	// search terms come from visitors
	if q.Search != "" {
		return c.Store.Query(ctx, q)
	}
	key := queryKey(q)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.valid(e) {
		return e.recs, nil
	}

	recs, err := c.Store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if len(c.entries) >= maxCachedQueries {
		c.prune()
	}
	c.entries[key] = cachedQuery{recs: recs, fetched: time.Now()}
	c.mu.Unlock()
	return recs, nil
}

// prune drops expired entries, and everything when that frees no room.
// Callers hold the write lock.
func (c *QueryCache) prune() {
	for k, e := range c.entries {
		if !c.valid(e) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= maxCachedQueries {
		c.entries = make(map[string]cachedQuery)
	}
}

// Len reports the number of cached queries.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func queryKey(q entity.Query) string {
	order := q.Order
	if order == "" {
		order = entity.Desc
	}
	return fmt.Sprintf("%s|%s|%s|%d|%s|%s|%d",
		q.Type, strings.Join(q.Types, ","), q.Slug, q.ParentID, q.Status, order, q.Limit)
}
