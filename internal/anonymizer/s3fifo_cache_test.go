package anonymizer

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	bolt "go.etcd.io/bbolt"
)

func newTestS3FIFO(capacity int) (*s3fifoCache, *memoryCache) {
	backing := newMemoryCache(0)
	return newS3FIFOCache(backing, capacity, nil), backing
}

func entitiesFor(text string) []Entity {
	return []Entity{{Type: EntityPerson, Start: 0, End: len(text), Score: 0.9, Text: text}}
}

func TestS3FIFOGetSetDelete(t *testing.T) {
	t.Parallel()
	c, backing := newTestS3FIFO(10)
	defer c.Close() //nolint:errcheck

	if _, ok := c.Get("x"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("k", entitiesFor("Maria Souza"))
	got, ok := c.Get("k")
	if !ok || len(got) != 1 || got[0].Text != "Maria Souza" {
		t.Fatalf("Get after Set = %+v, %v", got, ok)
	}
	if _, ok := backing.Get("k"); !ok {
		t.Error("Set should write through to the backing store")
	}

	c.Set("k", entitiesFor("João Lima"))
	if got, _ := c.Get("k"); got[0].Text != "João Lima" {
		t.Errorf("expected overwritten value, got %+v", got)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Delete")
	}
	if _, ok := backing.Get("k"); ok {
		t.Error("Delete should remove the backing entry")
	}
}

func TestS3FIFOCapacityEnforced(t *testing.T) {
	t.Parallel()
	const capacity = 10
	c, backing := newTestS3FIFO(capacity)

	for i := range capacity + 5 {
		c.Set(fmt.Sprintf("key-%d", i), entitiesFor("x"))
	}

	if n := c.Len(); n > capacity {
		t.Errorf("resident entries %d exceed capacity %d", n, capacity)
	}
	if n := backing.Len(); n > capacity {
		t.Errorf("backing entries %d exceed capacity %d", n, capacity)
	}
}

func TestS3FIFOPromotionToM(t *testing.T) {
	t.Parallel()
	// capacity=2: sTarget=1, mTarget=1.
	c, _ := newTestS3FIFO(2)

	c.Set("hot", entitiesFor("hot"))
	c.Get("hot")
	c.Set("cold", entitiesFor("cold"))
	c.Set("extra", entitiesFor("extra"))

	c.mu.Lock()
	e, hot := c.entries["hot"]
	_, cold := c.entries["cold"]
	c.mu.Unlock()

	if !hot {
		t.Fatal("expected 'hot' to survive S eviction")
	}
	if !e.inM {
		t.Error("expected 'hot' to be promoted to M")
	}
	if cold {
		t.Error("expected unread 'cold' to be evicted")
	}
}

func TestS3FIFOGhostBypassesS(t *testing.T) {
	t.Parallel()
	c, backing := newTestS3FIFO(2)

	c.Set("victim", entitiesFor("v"))
	c.Set("displacer", entitiesFor("d"))
	c.Set("trigger", entitiesFor("t"))

	c.mu.Lock()
	_, resident := c.entries["victim"]
	_, inGhost := c.ghostSet["victim"]
	c.mu.Unlock()

	if resident {
		t.Error("expected 'victim' to be evicted from memory")
	}
	if !inGhost {
		t.Error("expected 'victim' in ghost after S eviction")
	}
	if _, ok := backing.Get("victim"); ok {
		t.Error("evicted key should be deleted from the backing store")
	}

	c.Set("victim", entitiesFor("v2"))

	c.mu.Lock()
	e, ok := c.entries["victim"]
	c.mu.Unlock()
	if !ok || !e.inM {
		t.Error("expected ghost hit to insert 'victim' straight into M")
	}
}

func TestS3FIFOGhostBounded(t *testing.T) {
	t.Parallel()
	// capacity=20: sTarget=2, ghostCap=4.
	c, _ := newTestS3FIFO(20)

	for i := range 40 {
		c.Set(fmt.Sprintf("evict-%d", i), entitiesFor("x"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ghostCount > c.ghostCap || len(c.ghostSet) != c.ghostCount {
		t.Errorf("ghost count %d (set %d) exceeds ghostCap %d", c.ghostCount, len(c.ghostSet), c.ghostCap)
	}
}

func TestS3FIFOColdReadRewarmsMemory(t *testing.T) {
	t.Parallel()
	backing := newMemoryCache(0)
	backing.Set("cold-key", entitiesFor("Ana"))

	c := newS3FIFOCache(backing, 10, nil)
	if c.Len() != 0 {
		t.Fatal("expected empty memory index")
	}

	got, ok := c.Get("cold-key")
	if !ok || got[0].Text != "Ana" {
		t.Fatalf("expected backing hit, got %+v ok=%v", got, ok)
	}
	if c.Len() != 1 {
		t.Error("expected cold-key to be re-warmed into memory")
	}
}

func TestS3FIFOFrequencySaturation(t *testing.T) {
	t.Parallel()
	c, _ := newTestS3FIFO(10)

	c.Set("k", entitiesFor("x"))
	for range 100 {
		c.Get("k")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f := c.entries["k"].freq; f != 3 {
		t.Errorf("expected freq=3 (saturated), got %d", f)
	}
}

func TestS3FIFOConcurrentAccess(t *testing.T) {
	t.Parallel()
	c, _ := newTestS3FIFO(100)

	var wg sync.WaitGroup
	for g := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("key-%d-%d", g, i%50)
				c.Set(key, entitiesFor(key))
				c.Get(key)
				if i%10 == 0 {
					c.Delete(key)
				}
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.sQueue.Len() + c.mQueue.Len()
	if total > c.capacity {
		t.Errorf("%d entries exceed capacity %d", total, c.capacity)
	}
	if len(c.entries) != total {
		t.Errorf("entries map (%d) out of sync with queues (%d)", len(c.entries), total)
	}
}

func TestS3FIFOBoundsBoltStore(t *testing.T) {
	t.Parallel()
	disk, err := newBoltCache(filepath.Join(t.TempDir(), "ner.db"), quietLogger())
	if err != nil {
		t.Fatalf("newBoltCache: %v", err)
	}
	c := newS3FIFOCache(disk, 4, quietLogger())
	defer c.Close() //nolint:errcheck

	for i := range 12 {
		c.Set(fmt.Sprintf("k%d", i), entitiesFor("x"))
	}

	var onDisk int
	if err := disk.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(_, _ []byte) error {
			onDisk++
			return nil
		})
	}); err != nil {
		t.Fatal(err)
	}
	if onDisk > 4 {
		t.Errorf("bbolt holds %d entries, want at most 4", onDisk)
	}
	if got, ok := c.Get("k11"); !ok || got[0].Text != "x" {
		t.Errorf("latest key missing: %+v %v", got, ok)
	}
}

func TestS3FIFOReopenKeepsBound(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ner.db")

	// A previous process wrote past the bound (a larger capacity setting).
	disk, err := newBoltCache(path, quietLogger())
	if err != nil {
		t.Fatalf("newBoltCache: %v", err)
	}
	for i := range 10 {
		disk.Set(fmt.Sprintf("k%02d", i), entitiesFor("x"))
	}
	if err := disk.Close(); err != nil {
		t.Fatal(err)
	}

	disk, err = newBoltCache(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c := newS3FIFOCache(disk, 4, quietLogger())
	defer c.Close() //nolint:errcheck

	if n := c.Len(); n != 4 {
		t.Errorf("resident entries = %d, want 4", n)
	}
	var onDisk int
	if err := disk.forEach(func(string, []Entity) { onDisk++ }); err != nil {
		t.Fatal(err)
	}
	if onDisk != 4 {
		t.Errorf("bbolt holds %d entries after reopen, want 4", onDisk)
	}

	c.Set("new", entitiesFor("y"))
	onDisk = 0
	if err := disk.forEach(func(string, []Entity) { onDisk++ }); err != nil {
		t.Fatal(err)
	}
	if onDisk > 4 {
		t.Errorf("bbolt holds %d entries after a write, want at most 4", onDisk)
	}
	if got, ok := c.Get("new"); !ok || got[0].Text != "y" {
		t.Errorf("new key missing: %+v %v", got, ok)
	}
}
