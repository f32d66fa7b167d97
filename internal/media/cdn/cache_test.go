package cdn

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/video-platform/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(capacity int) (*Cache, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	c := New(Config{Capacity: capacity, MediaTTL: time.Hour, ThumbnailTTL: 2 * time.Hour})
	c.clock = clk.Now
	return c, clk
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache(3)

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Put("streams/a/hls/playlist.m3u8", []byte("#EXTM3U"), "application/vnd.apple.mpegurl")

	hit, ok := c.Get("streams/a/hls/playlist.m3u8")
	require.True(t, ok)
	assert.Equal(t, "#EXTM3U", string(hit.Data))
	assert.Equal(t, "application/vnd.apple.mpegurl", hit.ContentType)

	_, _ = c.Get("streams/a/hls/playlist.m3u8")
	stats := c.Stats()
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, int64(2), stats.Entries[0].Hits)
	assert.Equal(t, 3, stats.Capacity)
}

func TestCache_EvictsOldestCachedAt(t *testing.T) {
	const capacity = 5
	c, clk := newTestCache(capacity)

	for i := 0; i < capacity; i++ {
		c.Put(fmt.Sprintf("p%d", i), []byte{byte(i)}, "video/mp4")
		clk.Advance(time.Second)
	}

	// Access does not protect p0: eviction is by insertion time, not access time.
	_, ok := c.Get("p0")
	require.True(t, ok)

	c.Put("p5", []byte{5}, "video/mp4")

	stats := c.Stats()
	assert.Equal(t, capacity, stats.Size)
	_, ok = c.Get("p0")
	assert.False(t, ok, "oldest entry must be evicted")
	for i := 1; i <= capacity; i++ {
		_, ok := c.Get(fmt.Sprintf("p%d", i))
		assert.True(t, ok, "p%d should survive", i)
	}
}

func TestCache_RePutRefreshesWithoutEviction(t *testing.T) {
	c, clk := newTestCache(2)

	c.Put("a", []byte("a"), "video/mp4")
	clk.Advance(time.Second)
	c.Put("b", []byte("b"), "video/mp4")
	clk.Advance(time.Second)
	c.Put("a", []byte("a2"), "video/mp4")

	require.Equal(t, 2, c.Stats().Size)

	// a is now the newest, so b goes first.
	c.Put("c", []byte("c"), "video/mp4")
	_, ok := c.Get("b")
	assert.False(t, ok)
	hit, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a2", string(hit.Data))
}

func TestCache_LazyExpiry(t *testing.T) {
	m := metrics.New(nil)
	c := New(Config{Capacity: 10, MediaTTL: time.Hour, ThumbnailTTL: 3 * time.Hour, Metrics: m})
	clk := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	c.clock = clk.Now

	c.Put("media", []byte("m"), "application/dash+xml")
	c.Put("thumb", []byte("t"), "image/jpeg")

	clk.Advance(time.Hour)
	_, ok := c.Get("media")
	require.True(t, ok, "exactly at TTL is still fresh")

	clk.Advance(time.Minute)

	// Expired entries stay until a lookup discovers them.
	require.Equal(t, 2, c.Stats().Size)

	_, ok = c.Get("media")
	require.False(t, ok)
	assert.Equal(t, 1, c.Stats().Size)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictions))

	_, ok = c.Get("thumb")
	assert.True(t, ok, "thumbnails use their own TTL")
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(10)
	c.Put("streams/v1/hls/playlist.m3u8", []byte("x"), "application/vnd.apple.mpegurl")
	c.Put("streams/v1/dash/manifest.mpd", []byte("y"), "application/dash+xml")
	c.Put("streams/v2/hls/playlist.m3u8", []byte("z"), "application/vnd.apple.mpegurl")

	c.Invalidate("streams/v2/hls/playlist.m3u8")
	c.Invalidate("never-cached")
	_, ok := c.Get("streams/v2/hls/playlist.m3u8")
	require.False(t, ok)

	assert.Equal(t, 2, c.InvalidatePrefix("streams/v1/"))
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(16)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%40)
				if i%3 == 0 {
					c.Put(key, []byte(key), "video/mp4")
				} else {
					c.Get(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Size, 16)
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassThumbnail, ClassOf("image/jpeg"))
	assert.Equal(t, ClassMedia, ClassOf("application/vnd.apple.mpegurl"))
	assert.Equal(t, ClassMedia, ClassOf(""))
}
