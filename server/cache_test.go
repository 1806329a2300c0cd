package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache(64)

	assert.True(t, c.Set("/a", []byte("aaaa"), "text/plain"))

	e, ok := c.Get("/a")
	require.True(t, ok)
	assert.Equal(t, []byte("aaaa"), e.Data)
	assert.Equal(t, "text/plain", e.Mime)
	assert.Equal(t, 4, e.Size)
	assert.False(t, e.InsertedAt.IsZero())

	_, ok = c.Get("/missing")
	assert.False(t, ok)
}

func TestCacheRefusesOversizedEntries(t *testing.T) {
	c := NewCache(8)

	assert.False(t, c.Set("/big", make([]byte, 9), "application/octet-stream"))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Size())
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0)

	assert.False(t, c.Enabled())
	assert.False(t, c.Set("/a", []byte("a"), "text/plain"))
}

func TestCacheFIFOEviction(t *testing.T) {
	c := NewCache(10)

	require.True(t, c.Set("/a", []byte("aaaa"), "text/plain"))
	require.True(t, c.Set("/b", []byte("bbbb"), "text/plain"))

	// Reading /a must not protect it: eviction is FIFO, not LRU.
	_, ok := c.Get("/a")
	require.True(t, ok)

	require.True(t, c.Set("/c", []byte("cccc"), "text/plain"))

	_, ok = c.Get("/a")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("/b")
	assert.True(t, ok)

	_, ok = c.Get("/c")
	assert.True(t, ok)

	assert.LessOrEqual(t, c.Size(), 10)
}

func TestCacheEvictsUntilNewEntryFits(t *testing.T) {
	c := NewCache(10)

	require.True(t, c.Set("/a", []byte("aaaa"), "text/plain"))
	require.True(t, c.Set("/b", []byte("bbbb"), "text/plain"))
	require.True(t, c.Set("/big", make([]byte, 9), "text/plain"))

	_, okA := c.Get("/a")
	_, okB := c.Get("/b")
	assert.False(t, okA)
	assert.False(t, okB)

	_, ok := c.Get("/big")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Size(), 10)
}

func TestCacheReplaceSameURI(t *testing.T) {
	c := NewCache(16)

	require.True(t, c.Set("/a", []byte("old"), "text/plain"))
	require.True(t, c.Set("/a", []byte("newer"), "text/plain"))

	e, ok := c.Get("/a")
	require.True(t, ok)
	assert.Equal(t, []byte("newer"), e.Data)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 5, c.Size())
}

func TestCacheEvict(t *testing.T) {
	c := NewCache(16)

	require.True(t, c.Set("/a", []byte("aaaa"), "text/plain"))
	c.Evict("/a")

	_, ok := c.Get("/a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCacheTrackEvictsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	c := NewCache(1024)
	defer c.Close()

	require.True(t, c.Set("/page", []byte("v1"), "text/html"))
	require.NoError(t, c.Track("/page", path))

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("/page")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
