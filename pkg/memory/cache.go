package memory

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
)

// PageCache holds the pages resident in the buffer pool. Clean pages live in
// a ristretto cache sized to the configured pool capacity and may be evicted
// at any time; dirty pages are pinned in a map and never evicted (NO-STEAL),
// so an uncommitted change can never reach disk through eviction.
type PageCache struct {
	clean *ristretto.Cache[uint64, page.Page]

	mutex  sync.RWMutex
	pinned map[uint64]page.Page
}

// NewPageCache creates a cache that keeps at most capacity clean pages.
func NewPageCache(capacity int) (*PageCache, error) {
	clean, err := ristretto.NewCache(&ristretto.Config[uint64, page.Page]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, err, "failed to create page cache")
	}
	return &PageCache{
		clean:  clean,
		pinned: make(map[uint64]page.Page),
	}, nil
}

// Get returns the cached page for pid, if resident.
func (c *PageCache) Get(pid primitives.PageID) (page.Page, bool) {
	key := uint64(pid.HashCode())

	c.mutex.RLock()
	if p, ok := c.pinned[key]; ok {
		c.mutex.RUnlock()
		return p, true
	}
	c.mutex.RUnlock()

	return c.clean.Get(key)
}

// Put installs or refreshes a page. Dirty pages are pinned; clean pages go
// to the evictable side.
func (c *PageCache) Put(p page.Page) {
	key := uint64(p.GetID().HashCode())

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if p.IsDirty() != nil {
		c.pinned[key] = p
		c.clean.Del(key)
		return
	}
	delete(c.pinned, key)
	c.clean.Set(key, p, 1)
	c.clean.Wait()
}

// Pin forces a page onto the pinned side regardless of its dirty state.
// Pages fetched read-write are pinned for the duration of their transaction
// so a mutation applied after the fetch can never be evicted unseen.
func (c *PageCache) Pin(p page.Page) {
	key := uint64(p.GetID().HashCode())

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.pinned[key] = p
	c.clean.Del(key)
}

// Demote moves a pinned page back to the evictable side if it is clean.
// Dirty pages stay pinned.
func (c *PageCache) Demote(pid primitives.PageID) {
	key := uint64(pid.HashCode())

	c.mutex.Lock()
	defer c.mutex.Unlock()

	p, ok := c.pinned[key]
	if !ok || p.IsDirty() != nil {
		return
	}
	delete(c.pinned, key)
	c.clean.Set(key, p, 1)
	c.clean.Wait()
}

// Remove drops a page from the cache without writing it.
func (c *PageCache) Remove(pid primitives.PageID) {
	key := uint64(pid.HashCode())

	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.pinned, key)
	c.clean.Del(key)
}

// PinnedPages returns the currently pinned pages: dirty pages and pages
// pinned by a read-write fetch, clean or not.
func (c *PageCache) PinnedPages() []page.Page {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	pages := make([]page.Page, 0, len(c.pinned))
	for _, p := range c.pinned {
		pages = append(pages, p)
	}
	return pages
}

// Close releases the cache's resources.
func (c *PageCache) Close() {
	c.clean.Close()
}
