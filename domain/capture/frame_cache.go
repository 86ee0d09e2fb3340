package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// frameIDSeq is the monotonic counter backing auto-generated frame ids.
// Grounded on shared_frame_cache.py's frame_{microsecond-timestamp} id, made
// a plain monotonic counter per spec.md §9 (an atomic counter is more
// idiomatic Go than formatting a timestamp string for an id nobody parses).
var frameIDSeq atomic.Uint64

// NextFrameID returns a fresh, monotonically increasing frame id.
func NextFrameID() uint64 { return frameIDSeq.Add(1) }

// CacheStats summarizes SharedFrameCache behavior for diagnostics.
type CacheStats struct {
	Hits            uint64
	Misses          uint64
	HitRate         float64
	CurrentConsumers int
	CurrentFrameID  uint64
	Age             time.Duration
}

type cacheEntry struct {
	frame     *Frame
	timestamp time.Time
	consumers map[string]struct{}
}

// SharedFrameCache is the multi-reader, single-writer "latest frame"
// registry (C1). Grounded on original_source/capture/shared_frame_cache.py
// for its cache/get/release/force_cleanup contract and consumer-registry
// bookkeeping; the Go port uses one mutex (the Python RLock) around entry
// metadata only, never around pixel access, so readers never block each
// other while copying/pointing at Pix.
type SharedFrameCache struct {
	mu          sync.Mutex
	entry       *cacheEntry
	maxCacheAge time.Duration
	autoCleanup bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewSharedFrameCache constructs a cache with the given max age for a
// published frame to remain valid to new readers (original's max_cache_age,
// default 5s).
func NewSharedFrameCache(maxAge time.Duration) *SharedFrameCache {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &SharedFrameCache{maxCacheAge: maxAge, autoCleanup: true}
}

// Cache replaces the current entry with frame, resetting the consumer set.
// frame is always treated as immutable from here on (spec.md §9 Open
// Question 1: read-only publication is unconditional, no "if supported"
// branch); the caller must not mutate frame.Pix after calling Cache.
func (c *SharedFrameCache) Cache(frame *Frame) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frame.FrameID == 0 {
		frame.FrameID = NextFrameID()
	}
	c.entry = &cacheEntry{
		frame:     frame,
		timestamp: time.Now(),
		consumers: make(map[string]struct{}),
	}
	return frame.FrameID
}

// Get returns a read-only view of the current frame for consumerID,
// registering consumerID against the entry. If frameID is non-zero, the
// entry must match it. Returns nil if the entry is absent, stale, or
// mismatched.
func (c *SharedFrameCache) Get(consumerID string, frameID uint64) *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validLocked(frameID) {
		c.misses.Add(1)
		return nil
	}
	c.entry.consumers[consumerID] = struct{}{}
	c.hits.Add(1)
	return c.entry.frame
}

func (c *SharedFrameCache) validLocked(frameID uint64) bool {
	if c.entry == nil || c.entry.frame == nil {
		return false
	}
	if frameID != 0 && c.entry.frame.FrameID != frameID {
		return false
	}
	if time.Since(c.entry.timestamp) > c.maxCacheAge {
		return false
	}
	return true
}

// Release removes consumerID from the current entry. If auto-cleanup is
// enabled and the consumer set becomes empty, the entry is dropped.
func (c *SharedFrameCache) Release(consumerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return
	}
	delete(c.entry.consumers, consumerID)
	if c.autoCleanup && len(c.entry.consumers) == 0 {
		c.entry = nil
	}
}

// ForceCleanup drops the current entry regardless of consumers.
func (c *SharedFrameCache) ForceCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Configure adjusts max age / auto-cleanup behavior at runtime.
func (c *SharedFrameCache) Configure(maxAge time.Duration, autoCleanup *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxAge > 0 {
		c.maxCacheAge = maxAge
	}
	if autoCleanup != nil {
		c.autoCleanup = *autoCleanup
	}
}

// Stats reports cache hit/miss counters and the current entry's age.
func (c *SharedFrameCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	st := CacheStats{Hits: hits, Misses: misses, HitRate: rate}
	if c.entry != nil {
		st.CurrentConsumers = len(c.entry.consumers)
		st.CurrentFrameID = c.entry.frame.FrameID
		st.Age = time.Since(c.entry.timestamp)
	}
	return st
}
