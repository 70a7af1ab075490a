package engine

import (
	"sort"
	"sync"
	"sync/atomic"
)

const cacheVeryOldGenerations = 8

// CacheEntry is one cached static evaluation. Fields are exported so the
// cache can be snapshotted with encoding/gob.
type CacheEntry struct {
	Key         uint64
	Tag         uint64
	Score       float64
	Hits        uint32
	GenWritten  uint32
	GenLastUsed uint32
	Valid       bool
}

// EvalCache is a set-associative table of static evaluations shared by every
// engine in the process. Entries are tagged with the weights fingerprint.
type EvalCache struct {
	mask        uint64
	buckets     int
	entries     []CacheEntry
	stripeLocks []sync.RWMutex
	stripeMask  uint64
	gen         atomic.Uint32
	probes      atomic.Uint64
	hits        atomic.Uint64
}

func NewEvalCache(size uint64, buckets int) *EvalCache {
	if buckets <= 0 {
		buckets = 4
	}
	if size < 1 {
		size = 1
	}
	if (size & (size - 1)) != 0 {
		size = nextPowerOfTwo(size)
	}
	maxStripes := 64
	if int(size) < maxStripes {
		maxStripes = int(size)
	}
	stripes := 1
	for stripes*2 <= maxStripes {
		stripes *= 2
	}
	c := &EvalCache{
		mask:        size - 1,
		buckets:     buckets,
		entries:     make([]CacheEntry, int(size)*buckets),
		stripeLocks: make([]sync.RWMutex, stripes),
		stripeMask:  uint64(stripes - 1),
	}
	c.gen.Store(1)
	return c
}

// NextGeneration ages every entry by one; the engine bumps it once per search.
func (c *EvalCache) NextGeneration() {
	gen := c.gen.Add(1)
	if gen == 0 {
		c.gen.CompareAndSwap(0, 1)
	}
}

func (c *EvalCache) Generation() uint32 {
	return c.currentGeneration()
}

// RestoreGeneration moves the generation forward to gen, for example after
// loading a snapshot. It never moves it back.
func (c *EvalCache) RestoreGeneration(gen uint32) {
	for {
		cur := c.gen.Load()
		if gen == 0 || gen <= cur {
			return
		}
		if c.gen.CompareAndSwap(cur, gen) {
			return
		}
	}
}

func (c *EvalCache) Clear() {
	c.lockAllStripes()
	defer c.unlockAllStripes()
	for i := range c.entries {
		c.entries[i] = CacheEntry{}
	}
	c.gen.Store(1)
	c.probes.Store(0)
	c.hits.Store(0)
}

func (c *EvalCache) bucketIndex(key uint64) int {
	return int(key&c.mask) * c.buckets
}

func (c *EvalCache) stripeIndexForKey(key uint64) int {
	return int((key & c.mask) & c.stripeMask)
}

func (c *EvalCache) Probe(key, tag uint64) (float64, bool) {
	c.probes.Add(1)
	stripe := c.stripeIndexForKey(key)
	c.stripeLocks[stripe].Lock()
	defer c.stripeLocks[stripe].Unlock()
	gen := c.currentGeneration()
	start := c.bucketIndex(key)
	for i := 0; i < c.buckets; i++ {
		entry := &c.entries[start+i]
		if !entry.Valid || entry.Key != key || entry.Tag != tag {
			continue
		}
		entry.Hits++
		entry.GenLastUsed = gen
		c.hits.Add(1)
		return entry.Score, true
	}
	return 0, false
}

// Store writes a value into the key's bucket, taking an empty slot first and
// otherwise evicting the stalest, least used entry.
func (c *EvalCache) Store(key, tag uint64, score float64) {
	stripe := c.stripeIndexForKey(key)
	c.stripeLocks[stripe].Lock()
	defer c.stripeLocks[stripe].Unlock()
	gen := c.currentGeneration()
	start := c.bucketIndex(key)
	fresh := CacheEntry{Key: key, Tag: tag, Score: score, GenWritten: gen, GenLastUsed: gen, Valid: true}

	victim := -1
	for i := 0; i < c.buckets; i++ {
		idx := start + i
		entry := c.entries[idx]
		if entry.Valid && entry.Key == key && entry.Tag == tag {
			fresh.Hits = entry.Hits
			c.entries[idx] = fresh
			return
		}
		if !entry.Valid {
			if victim == -1 || c.entries[victim].Valid {
				victim = idx
			}
			continue
		}
		if victim == -1 || (c.entries[victim].Valid && replaceBefore(gen, entry, c.entries[victim])) {
			victim = idx
		}
	}
	c.entries[victim] = fresh
}

// replaceBefore reports whether a should be evicted ahead of b.
func replaceBefore(gen uint32, a, b CacheEntry) bool {
	ageA, ageB := entryAge(gen, a), entryAge(gen, b)
	oldA, oldB := ageA >= cacheVeryOldGenerations, ageB >= cacheVeryOldGenerations
	if oldA != oldB {
		return oldA
	}
	if a.Hits != b.Hits {
		return a.Hits < b.Hits
	}
	return ageA > ageB
}

// DeleteByTag drops every entry computed with the given weights fingerprint.
func (c *EvalCache) DeleteByTag(tag uint64) int {
	c.lockAllStripes()
	defer c.unlockAllStripes()
	deleted := 0
	for i := range c.entries {
		if !c.entries[i].Valid || c.entries[i].Tag != tag {
			continue
		}
		c.entries[i] = CacheEntry{}
		deleted++
	}
	return deleted
}

func (c *EvalCache) TopEntriesByHits(offset int, limit int) ([]CacheEntry, int) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	entries := c.Snapshot()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Hits != entries[j].Hits {
			return entries[i].Hits > entries[j].Hits
		}
		if entries[i].GenLastUsed != entries[j].GenLastUsed {
			return entries[i].GenLastUsed > entries[j].GenLastUsed
		}
		return entries[i].Key < entries[j].Key
	})
	total := len(entries)
	if offset >= total {
		return []CacheEntry{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return entries[offset:end], total
}

func (c *EvalCache) Count() int {
	if c == nil {
		return 0
	}
	c.lockAllStripesRead()
	defer c.unlockAllStripesRead()
	count := 0
	for i := range c.entries {
		if c.entries[i].Valid {
			count++
		}
	}
	return count
}

func (c *EvalCache) Capacity() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// HitRate returns the lifetime probe and hit counters.
func (c *EvalCache) HitRate() (probes, hits uint64) {
	if c == nil {
		return 0, 0
	}
	return c.probes.Load(), c.hits.Load()
}

// Snapshot copies the valid entries.
func (c *EvalCache) Snapshot() []CacheEntry {
	c.lockAllStripesRead()
	defer c.unlockAllStripesRead()
	out := make([]CacheEntry, 0, len(c.entries)/4)
	for i := range c.entries {
		if c.entries[i].Valid {
			out = append(out, c.entries[i])
		}
	}
	return out
}

// Load re-inserts snapshotted entries under the current generation and
// returns how many were stored. Tables of any size can load any snapshot.
func (c *EvalCache) Load(entries []CacheEntry) int {
	loaded := 0
	for _, entry := range entries {
		if !entry.Valid {
			continue
		}
		c.Store(entry.Key, entry.Tag, entry.Score)
		loaded++
	}
	return loaded
}

func (c *EvalCache) currentGeneration() uint32 {
	gen := c.gen.Load()
	if gen != 0 {
		return gen
	}
	if c.gen.CompareAndSwap(0, 1) {
		return 1
	}
	gen = c.gen.Load()
	if gen == 0 {
		return 1
	}
	return gen
}

func (c *EvalCache) lockAllStripes() {
	for i := range c.stripeLocks {
		c.stripeLocks[i].Lock()
	}
}

func (c *EvalCache) unlockAllStripes() {
	for i := len(c.stripeLocks) - 1; i >= 0; i-- {
		c.stripeLocks[i].Unlock()
	}
}

func (c *EvalCache) lockAllStripesRead() {
	for i := range c.stripeLocks {
		c.stripeLocks[i].RLock()
	}
}

func (c *EvalCache) unlockAllStripesRead() {
	for i := len(c.stripeLocks) - 1; i >= 0; i-- {
		c.stripeLocks[i].RUnlock()
	}
}

func entryAge(gen uint32, entry CacheEntry) uint32 {
	last := entry.GenLastUsed
	if last == 0 {
		last = entry.GenWritten
	}
	return gen - last
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
