package template

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	evictionSweepInterval = 30 * time.Second
	staleAfter            = time.Hour
	defaultCapacity       = 256
)

// Cache is spec.md's C4 TemplateCache: a (source_ref, grayscale)-keyed LRU
// over decoded Template bitmaps, with a periodic sweep that drops entries
// unused for more than an hour. Backed by github.com/hashicorp/golang-lru/v2
// instead of a fixed dimension-keyed map, to support eviction.
type Cache struct {
	loader *Loader

	mu  sync.Mutex
	lru *lru.Cache[key, *Template]

	stopSweep chan struct{}
	sweepOnce sync.Once

	hits, misses atomic.Uint64
}

// NewCache builds a Cache with the given LRU capacity (entry count, not
// bytes; spec.md's "memory ceiling" is approximated here by a fixed entry
// cap). capacity <= 0 uses defaultCapacity.
func NewCache(loader *Loader, capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	l, _ := lru.New[key, *Template](capacity)
	c := &Cache{loader: loader, lru: l, stopSweep: make(chan struct{})}
	return c
}

// Get returns the cached (or freshly loaded) Template for (sourceRef,
// gray), touching its last-access time on a hit. Per spec.md §4.4.
func (c *Cache) Get(sourceRef string, gray bool) (*Template, error) {
	k := key{sourceRef: sourceRef, gray: gray}

	c.mu.Lock()
	if t, ok := c.lru.Get(k); ok {
		t.LastAccess = time.Now()
		t.AccessCount++
		c.mu.Unlock()
		c.hits.Add(1)
		return t, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	pix, w, h, hash, err := c.loader.Load(sourceRef, gray)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	t := &Template{
		SourceRef: sourceRef, Gray: gray, Pix: pix, Width: w, Height: h,
		Hash: hash, LoadedAt: now, LastAccess: now, AccessCount: 1,
	}

	c.mu.Lock()
	c.lru.Add(k, t)
	c.mu.Unlock()
	return t, nil
}

// WarmLoad concurrently pre-loads every (sourceRef, gray) pair, bounded by
// runtime.NumCPU() concurrent loads through a semaphore, with an atomic
// failure counter (no early-exit condition to race on here).
func (c *Cache) WarmLoad(refs []string, gray bool) (loaded int, failed int) {
	var loadedCount, failedCount atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.NumCPU())

	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := c.Get(ref, gray); err != nil {
				failedCount.Add(1)
				return
			}
			loadedCount.Add(1)
		}()
	}
	wg.Wait()
	return int(loadedCount.Load()), int(failedCount.Load())
}

// StartEvictionSweep runs a background goroutine that, every
// evictionSweepInterval, drops entries unused for more than staleAfter.
// Call Stop to end it.
func (c *Cache) StartEvictionSweep() {
	go func() {
		ticker := time.NewTicker(evictionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evictStale()
			case <-c.stopSweep:
				return
			}
		}
	}()
}

// Stop ends the eviction sweep goroutine, if running. Safe to call more
// than once.
func (c *Cache) Stop() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *Cache) evictStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	for _, k := range c.lru.Keys() {
		t, ok := c.lru.Peek(k)
		if ok && t.LastAccess.Before(cutoff) {
			c.lru.Remove(k)
		}
	}
}

// Stats reports hit/miss counters for observability.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
