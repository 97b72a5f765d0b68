package storage

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
)

// PageCache is an in-memory cache of recently read/written page bytes,
// keyed by (cid, page_id), so a repeated Flush/Load over the same CID does
// not re-read its .dat file from disk every time.
type PageCache struct {
	c *fastcache.Cache
}

// NewPageCache returns a cache with roughly maxBytes of capacity. A zero
// maxBytes disables caching (every lookup misses).
func NewPageCache(maxBytes int) *PageCache {
	if maxBytes <= 0 {
		maxBytes = 1
	}
	return &PageCache{c: fastcache.New(maxBytes)}
}

func pageCacheKey(cid int, pageID uint16) []byte {
	var k [6]byte
	binary.BigEndian.PutUint32(k[0:4], uint32(cid))
	binary.BigEndian.PutUint16(k[4:6], pageID)
	return k[:]
}

// Get returns the cached page bytes and whether they were present.
func (p *PageCache) Get(cid int, pageID uint16) ([]byte, bool) {
	return p.c.HasGet(nil, pageCacheKey(cid, pageID))
}

// Set stores a page's bytes, evicting older entries under fastcache's own
// LRU-ish policy once the cache is full.
func (p *PageCache) Set(cid int, pageID uint16, data []byte) {
	p.c.Set(pageCacheKey(cid, pageID), data)
}
