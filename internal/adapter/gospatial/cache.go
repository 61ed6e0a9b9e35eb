package gospatial

import (
	"fmt"
	"os"
	"sync"

	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
)

// Reader decodes a raster file.
type Reader interface {
	Read(path string) (*domain.Raster, error)
}

// CachedReader wraps a Reader with an in-memory LRU of decoded rasters. Entries
// are keyed on path, size and modification time, so a rewritten file is
// decoded again. Callers receive clones and may not mutate the cached copy.
type CachedReader struct {
	inner   Reader
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedReader creates a cache decorator. maxEntries <= 0 disables caching.
func NewCachedReader(inner Reader, maxEntries int, metrics *observability.Metrics) *CachedReader {
	return &CachedReader{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedReader) Read(path string) (*domain.Raster, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
	if r, ok := c.cache.get(key); ok {
		c.metrics.RasterCache.WithLabelValues("hit").Inc()
		return r.Clone(), nil
	}
	c.metrics.RasterCache.WithLabelValues("miss").Inc()

	r, err := c.inner.Read(path)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, r.Clone())
	return r, nil
}

// lruCache is a simple thread-safe LRU cache of decoded rasters.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *domain.Raster
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*domain.Raster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *domain.Raster) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
