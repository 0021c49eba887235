// Package anonymizer — cache.go
//
// ResultCache stores NER results keyed by md5(text) so identical ticket
// descriptions are tagged once, even across process restarts when the bbolt
// implementation is used.
//
// Two implementations are provided:
//   - memoryCache  — in-memory, FIFO-bounded; used in tests and when no path is configured.
//   - boltCache    — embedded key-value store (bbolt), used in production
//     behind the S3-FIFO bound in s3fifo_cache.go.
package anonymizer

import (
	"context"
	"crypto/md5" // #nosec G501 -- MD5 used as a cache key, not for cryptographic security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"ticket-anonymizer/internal/logger"
)

// ResultCache is the NER result cache interface.
// All implementations must be safe for concurrent use.
type ResultCache interface {
	// Get returns the cached entities for key, if present.
	Get(key string) ([]Entity, bool)

	// Set stores key → entities. Overwrites any existing entry silently.
	Set(key string, entities []Entity)

	// Delete removes key. A no-op if absent.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// --- memoryCache ---------------------------------------------------------

const maxMemoryEntries = 10_000

// memoryCache is a thread-safe in-memory ResultCache. When the entry count
// exceeds its limit the oldest quarter is evicted.
type memoryCache struct {
	mu      sync.RWMutex
	limit   int
	entries map[string][]Entity
	order   []string // insertion order for FIFO eviction
}

func newMemoryCache(limit int) *memoryCache {
	if limit <= 0 {
		limit = maxMemoryEntries
	}
	return &memoryCache{limit: limit, entries: make(map[string][]Entity)}
}

func (c *memoryCache) Get(key string) ([]Entity, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key string, entities []Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entities
	if len(c.entries) <= c.limit {
		return
	}

	evict := max(c.limit/4, 1)
	for _, k := range c.order[:evict] {
		delete(c.entries, k)
	}
	c.order = append([]string(nil), c.order[evict:]...)
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *memoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) Close() error { return nil }

// --- boltCache -----------------------------------------------------------

const boltBucket = "ner_cache"

// boltCache is a ResultCache backed by an embedded bbolt database. Entries
// are JSON-encoded entity lists and survive process restarts.
type boltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// newBoltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func newBoltCache(path string, log *logger.Logger) (*boltCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Infof("cache_open", "persistent NER cache opened at %s", path)
	return &boltCache{db: db, log: log}, nil
}

func (c *boltCache) Get(key string) ([]Entity, bool) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(boltBucket)); b != nil {
			if v := b.Get([]byte(key)); v != nil {
				raw = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		c.log.Warnf("cache_get", "bbolt get: %v", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	var entities []Entity
	if err := json.Unmarshal(raw, &entities); err != nil {
		c.log.Warnf("cache_get", "corrupt entry %s: %v", key, err)
		return nil, false
	}
	return entities, true
}

func (c *boltCache) Set(key string, entities []Entity) {
	raw, err := json.Marshal(entities)
	if err != nil {
		c.log.Warnf("cache_set", "encode entities: %v", err)
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", boltBucket)
		}
		return b.Put([]byte(key), raw)
	}); err != nil {
		c.log.Warnf("cache_set", "bbolt set: %v", err)
	}
}

func (c *boltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(boltBucket)); b != nil {
			return b.Delete([]byte(key))
		}
		return nil
	}); err != nil {
		c.log.Warnf("cache_delete", "bbolt delete: %v", err)
	}
}

// forEach calls fn for every decodable entry. Corrupt entries are skipped.
func (c *boltCache) forEach(fn func(key string, entities []Entity)) error {
	return c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entities []Entity
			if err := json.Unmarshal(v, &entities); err != nil {
				c.log.Warnf("cache_load", "corrupt entry %s: %v", k, err)
				return nil
			}
			fn(string(k), entities)
			return nil
		})
	})
}

func (c *boltCache) Close() error {
	return c.db.Close()
}

// --- CachedModel ---------------------------------------------------------

// CachedModel memoizes an EntityModel by text content. Errors are not
// cached.
type CachedModel struct {
	model EntityModel
	cache ResultCache
}

// NewCachedModel wraps model with cache.
func NewCachedModel(model EntityModel, cache ResultCache) *CachedModel {
	return &CachedModel{model: model, cache: cache}
}

// Name implements EntityModel.
func (c *CachedModel) Name() string { return c.model.Name() + "+cache" }

// Entities implements EntityModel.
func (c *CachedModel) Entities(ctx context.Context, text string) ([]Entity, error) {
	key := cacheKey(text)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}
	entities, err := c.model.Entities(ctx, text)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []Entity{}
	}
	c.cache.Set(key, entities)
	return entities, nil
}

// Close releases the underlying cache.
func (c *CachedModel) Close() error { return c.cache.Close() }

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text)) // #nosec G401 -- cache key, not crypto
	return hex.EncodeToString(sum[:])
}
