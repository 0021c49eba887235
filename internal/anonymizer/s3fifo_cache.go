// Package anonymizer — s3fifo_cache.go
//
// s3fifoCache bounds a persistent ResultCache (bbolt) with an in-memory
// S3-FIFO index, so repeated ticket descriptions are served from memory and
// the on-disk NER cache never grows past its capacity.
//
// # Algorithm
//
// S3-FIFO (Yang et al., 2023) keeps two FIFO queues and a ghost set:
//
//   - S (small, ~10% of capacity): every new key enters here.
//   - M (main): keys read at least once while in S are promoted here.
//   - G (ghost): ring of keys recently evicted from S. A key found in G is
//     inserted straight into M.
//
// Each entry carries a saturating read counter (max 3).
//
// # Eviction
//
//	S head: freq > 0 → move to M tail (freq reset); otherwise drop and remember in G.
//	M head: drop.
//
// Dropped keys are also deleted from the backing store. When the backing
// store can enumerate its entries, the index is loaded from it on open and
// anything beyond capacity is evicted, so a restart does not lose the bound.
// Otherwise the index starts cold and reads re-warm it.
//
// # Sizing
//
//	sTarget  = max(1, capacity/10)
//	mTarget  = capacity − sTarget
//	ghostCap = max(4, 2 × sTarget)
package anonymizer

import (
	"container/list"
	"sync"

	"ticket-anonymizer/internal/logger"
)

type s3fifoEntry struct {
	entities []Entity
	freq     uint8 // saturating counter in [0, 3]
	elem     *list.Element
	inM      bool
}

type s3fifoCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*s3fifoEntry
	sQueue  *list.List // of string keys
	mQueue  *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int

	backing ResultCache
}

// newS3FIFOCache bounds backing to capacity entries; values below 2 are
// clamped to 2.
func newS3FIFOCache(backing ResultCache, capacity int, log *logger.Logger) *s3fifoCache {
	capacity = max(capacity, 2)
	sTarget := max(capacity/10, 1)
	ghostCap := max(2*sTarget, 4)
	if log != nil {
		log.Debugf("cache_init", "S3-FIFO capacity=%d sTarget=%d ghostCap=%d", capacity, sTarget, ghostCap)
	}
	c := &s3fifoCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*s3fifoEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
		backing:  backing,
	}
	c.load(log)
	return c
}

// enumerable is implemented by backing stores that can list their entries.
type enumerable interface {
	forEach(fn func(key string, entities []Entity)) error
}

// load seeds the index from the backing store in its key order and deletes
// whatever does not fit.
func (c *s3fifoCache) load(log *logger.Logger) {
	src, ok := c.backing.(enumerable)
	if !ok {
		return
	}
	var evicted []string
	err := src.forEach(func(key string, entities []Entity) {
		evicted = append(evicted, c.insert(key, entities)...)
	})
	if err != nil && log != nil {
		log.Warnf("cache_load", "index seeding stopped early: %v", err)
	}
	c.deleteBacking(evicted)
	if log != nil {
		log.Debugf("cache_load", "loaded %d entries, evicted %d", c.Len(), len(evicted))
	}
}

// Get serves key from memory, falling back to the backing store and
// re-warming the entry on a hit there.
func (c *s3fifoCache) Get(key string) ([]Entity, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.freq < 3 {
			e.freq++
		}
		v := e.entities
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	entities, ok := c.backing.Get(key)
	if !ok {
		return nil, false
	}
	c.deleteBacking(c.insert(key, entities))
	return entities, true
}

// Set stores key in memory and in the backing store.
func (c *s3fifoCache) Set(key string, entities []Entity) {
	evicted := c.insert(key, entities)
	c.backing.Set(key, entities)
	c.deleteBacking(evicted)
}

// Delete removes key from memory and from the backing store.
func (c *s3fifoCache) Delete(key string) {
	c.mu.Lock()
	c.removeFromMemory(key)
	c.mu.Unlock()
	c.backing.Delete(key)
}

// Close closes the backing store.
func (c *s3fifoCache) Close() error {
	return c.backing.Close()
}

// Len reports the number of resident entries.
func (c *s3fifoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// insert adds or updates key and returns the keys evicted to make room.
// An existing key keeps its queue position.
func (c *s3fifoCache) insert(key string, entities []Entity) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.entities = entities
		return nil
	}

	_, inM := c.ghostSet[key]
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &s3fifoEntry{entities: entities, elem: elem, inM: inM}

	var evicted []string
	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		evicted = c.evictOne(evicted)
	}
	return evicted
}

// deleteBacking removes evicted keys from disk. Called without c.mu held.
func (c *s3fifoCache) deleteBacking(keys []string) {
	for _, k := range keys {
		c.backing.Delete(k)
	}
}

func (c *s3fifoCache) evictOne(evicted []string) []string {
	if c.sQueue.Len() > 0 {
		return c.evictFromS(evicted)
	}
	return c.evictFromM(evicted)
}

func (c *s3fifoCache) evictFromS(evicted []string) []string {
	front := c.sQueue.Front()
	key := front.Value.(string)
	c.sQueue.Remove(front)

	e, ok := c.entries[key]
	if !ok {
		return evicted
	}
	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		if c.mQueue.Len() > c.capacity-c.sTarget {
			evicted = c.evictFromM(evicted)
		}
		return evicted
	}
	delete(c.entries, key)
	c.ghostAdd(key)
	return append(evicted, key)
}

func (c *s3fifoCache) evictFromM(evicted []string) []string {
	front := c.mQueue.Front()
	if front == nil {
		return evicted
	}
	key := front.Value.(string)
	c.mQueue.Remove(front)
	delete(c.entries, key)
	return append(evicted, key)
}

func (c *s3fifoCache) removeFromMemory(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inM {
		c.mQueue.Remove(e.elem)
	} else {
		c.sQueue.Remove(e.elem)
	}
	delete(c.entries, key)
}

// ghostAdd records key in the ghost ring, overwriting the oldest slot when
// full.
func (c *s3fifoCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		delete(c.ghostSet, c.ghostBuf[c.ghostHead])
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	c.ghostBuf[(c.ghostHead+c.ghostCount)%c.ghostCap] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
