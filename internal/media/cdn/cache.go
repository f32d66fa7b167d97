// Package cdn simulates an edge cache in front of the blob store: a bounded map
// of path -> bytes that evicts by insertion age and expires entries lazily.
package cdn

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/romariotrain/video-platform/internal/metrics"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 24 * time.Hour

	ClassMedia     = "media"
	ClassThumbnail = "thumbnail"
)

type Config struct {
	Capacity     int
	MediaTTL     time.Duration
	ThumbnailTTL time.Duration
	Metrics      *metrics.Metrics
}

type entry struct {
	path        string
	data        []byte
	contentType string
	class       string
	ttl         time.Duration
	cachedAt    time.Time
	hits        int64
}

// Cache is safe for concurrent use. Entries are ordered by cachedAt in an
// insertion list, so the front is always the eviction candidate.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      map[string]time.Duration
	items    map[string]*list.Element
	order    *list.List

	clock   func() time.Time
	metrics *metrics.Metrics
}

func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MediaTTL <= 0 {
		cfg.MediaTTL = DefaultTTL
	}
	if cfg.ThumbnailTTL <= 0 {
		cfg.ThumbnailTTL = DefaultTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}

	return &Cache{
		capacity: cfg.Capacity,
		ttl: map[string]time.Duration{
			ClassMedia:     cfg.MediaTTL,
			ClassThumbnail: cfg.ThumbnailTTL,
		},
		items:   make(map[string]*list.Element),
		order:   list.New(),
		clock:   time.Now,
		metrics: cfg.Metrics,
	}
}

// Hit is a cached response body. Data is shared with the cache and must not be modified.
type Hit struct {
	Data        []byte
	ContentType string
}

// ClassOf maps a content type to its TTL class.
func ClassOf(contentType string) string {
	if strings.HasPrefix(contentType, "image/") {
		return ClassThumbnail
	}
	return ClassMedia
}

// Put caches data under path, evicting the oldest entry when the cache is full.
// Re-caching an existing path refreshes it without evicting anything else.
func (c *Cache) Put(path string, data []byte, contentType string) {
	class := ClassOf(contentType)
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[path]; ok {
		c.order.Remove(el)
		delete(c.items, path)
	} else if len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry{
		path:        path,
		data:        data,
		contentType: contentType,
		class:       class,
		ttl:         c.ttl[class],
		cachedAt:    now,
	}
	c.items[path] = c.order.PushBack(e)
	c.metrics.CacheEntries.Set(float64(len(c.items)))
}

// Get returns the cached body, or false on a miss. An entry older than its TTL
// is removed by the lookup that finds it.
func (c *Cache) Get(path string) (Hit, bool) {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[path]
	if !ok {
		return Hit{}, false
	}
	e := el.Value.(*entry)

	if now.Sub(e.cachedAt) > e.ttl {
		c.order.Remove(el)
		delete(c.items, path)
		c.metrics.CacheEvictions.Inc()
		c.metrics.CacheEntries.Set(float64(len(c.items)))
		return Hit{}, false
	}

	e.hits++
	return Hit{Data: e.data, ContentType: e.contentType}, true
}

func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[path]; ok {
		c.order.Remove(el)
		delete(c.items, path)
		c.metrics.CacheEntries.Set(float64(len(c.items)))
	}
}

// InvalidatePrefix drops every entry whose path starts with prefix and reports how many went.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for path, el := range c.items {
		if strings.HasPrefix(path, prefix) {
			c.order.Remove(el)
			delete(c.items, path)
			n++
		}
	}
	c.metrics.CacheEntries.Set(float64(len(c.items)))
	return n
}

type EntryStats struct {
	Path        string    `json:"path"`
	Hits        int64     `json:"hits"`
	CachedAt    time.Time `json:"cached_at"`
	Size        int       `json:"size"`
	ContentType string    `json:"content_type"`
}

type Stats struct {
	Size     int          `json:"size"`
	Capacity int          `json:"max_size"`
	Entries  []EntryStats `json:"entries"`
}

// Stats lists entries oldest first.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Size: len(c.items), Capacity: c.capacity, Entries: make([]EntryStats, 0, len(c.items))}
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		s.Entries = append(s.Entries, EntryStats{
			Path:        e.path,
			Hits:        e.hits,
			CachedAt:    e.cachedAt,
			Size:        len(e.data),
			ContentType: e.contentType,
		})
	}
	return s
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Front()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).path)
	c.metrics.CacheEvictions.Inc()
}
