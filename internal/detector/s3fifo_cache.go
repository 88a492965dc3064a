package detector

// s3fifoCache bounds a ResultCache with S3-FIFO eviction (Yang et al., 2023).
//
//	small  ~10% of capacity, every new key enters here
//	main   the rest; keys read at least once while in small move here
//	ghost  ring of keys recently dropped from small; a ghost key that is set
//	       again skips small and goes straight to main
//
// Every entry carries a saturating read counter (max 3). Evicting from small
// either promotes (counter > 0, reset to 0) or drops the key into ghost.
// Evicting from main always drops. Dropped keys are deleted from the backing
// store as well, so the bbolt file stays bounded. After a restart the memory
// layer is cold and refills from backing reads.

import (
	"container/list"
	"sync"

	"pii-redactor/internal/logger"
)

type fifoEntry struct {
	value  string
	reads  uint8
	elem   *list.Element
	inMain bool
}

type s3fifoCache struct {
	mu sync.Mutex

	capacity    int
	smallTarget int

	entries map[string]*fifoEntry
	small   *list.List
	main    *list.List
	ghost   *ghostRing

	backing ResultCache
	pending sync.WaitGroup
}

func newS3FIFOCache(backing ResultCache, capacity int, log *logger.Logger) *s3fifoCache {
	if capacity < 2 {
		capacity = 2
	}
	smallTarget := max(1, capacity/10)
	ghostCap := max(4, 2*smallTarget)
	log.Debugf("cache_init", "S3-FIFO capacity=%d small=%d ghost=%d", capacity, smallTarget, ghostCap)
	return &s3fifoCache{
		capacity:    capacity,
		smallTarget: smallTarget,
		entries:     make(map[string]*fifoEntry, capacity),
		small:       list.New(),
		main:        list.New(),
		ghost:       newGhostRing(ghostCap),
		backing:     backing,
	}
}

// Get serves from memory, falling back to the backing store and re-warming
// on a backing hit.
func (c *s3fifoCache) Get(key string) (string, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.reads < 3 {
			e.reads++
		}
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	v, ok := c.backing.Get(key)
	if !ok {
		return "", false
	}
	c.insert(key, v)
	return v, true
}

// Set writes through to the backing store.
func (c *s3fifoCache) Set(key, value string) {
	c.insert(key, value)
	c.backing.Set(key, value)
}

func (c *s3fifoCache) Delete(key string) {
	c.mu.Lock()
	c.unlink(key)
	c.mu.Unlock()
	c.backing.Delete(key)
}

// Close waits for queued backing deletions, then closes the backing store.
func (c *s3fifoCache) Close() error {
	c.pending.Wait()
	return c.backing.Close()
}

// Len reports how many keys are resident in memory.
func (c *s3fifoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.small.Len() + c.main.Len()
}

func (c *s3fifoCache) insert(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}
	e := &fifoEntry{value: value}
	if c.ghost.contains(key) {
		e.inMain = true
		e.elem = c.main.PushBack(key)
	} else {
		e.elem = c.small.PushBack(key)
	}
	c.entries[key] = e

	for c.small.Len()+c.main.Len() > c.capacity {
		if c.small.Len() > 0 {
			c.evictSmall()
		} else {
			c.evictMain()
		}
	}
}

// evictSmall must be called with c.mu held.
func (c *s3fifoCache) evictSmall() {
	front := c.small.Front()
	key := c.small.Remove(front).(string)
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.reads > 0 {
		e.reads = 0
		e.inMain = true
		e.elem = c.main.PushBack(key)
		if c.main.Len() > c.capacity-c.smallTarget {
			c.evictMain()
		}
		return
	}
	delete(c.entries, key)
	c.ghost.add(key)
	c.dropBacking(key)
}

// evictMain must be called with c.mu held.
func (c *s3fifoCache) evictMain() {
	front := c.main.Front()
	if front == nil {
		return
	}
	key := c.main.Remove(front).(string)
	delete(c.entries, key)
	c.dropBacking(key)
}

// dropBacking deletes key from the backing store off the hot path.
func (c *s3fifoCache) dropBacking(key string) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.backing.Delete(key)
	}()
}

// unlink must be called with c.mu held.
func (c *s3fifoCache) unlink(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inMain {
		c.main.Remove(e.elem)
	} else {
		c.small.Remove(e.elem)
	}
	delete(c.entries, key)
}

// ghostRing is a bounded FIFO set of keys.
type ghostRing struct {
	buf   []string
	set   map[string]struct{}
	head  int
	count int
}

func newGhostRing(capacity int) *ghostRing {
	return &ghostRing{
		buf: make([]string, capacity),
		set: make(map[string]struct{}, capacity),
	}
}

func (g *ghostRing) contains(key string) bool {
	_, ok := g.set[key]
	return ok
}

func (g *ghostRing) add(key string) {
	if g.contains(key) {
		return
	}
	if g.count == len(g.buf) {
		delete(g.set, g.buf[g.head])
		g.head = (g.head + 1) % len(g.buf)
		g.count--
	}
	g.buf[(g.head+g.count)%len(g.buf)] = key
	g.set[key] = struct{}{}
	g.count++
}
