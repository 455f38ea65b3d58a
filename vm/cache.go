package vm

import (
	"container/list"
	"sync"

	"github.com/dgryski/go-farm"
)

// ProgramCache memoizes decoded artifacts with LRU eviction, keyed by the
// fingerprint of the raw artifact bytes. Hosts that execute the same
// artifact repeatedly (a session loop, a server) skip the decode and
// checksum work on the hot path.
type ProgramCache struct {
	mu        sync.Mutex
	entries   map[uint64]*list.Element
	evictList *list.List
	maxSize   int

	hits   int
	misses int
}

type cacheEntry struct {
	key  uint64
	prog *Program
}

const defaultCacheSize = 64

func NewProgramCache(maxSize int) *ProgramCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &ProgramCache{
		entries:   make(map[uint64]*list.Element),
		evictList: list.New(),
		maxSize:   maxSize,
	}
}

// Load returns the decoded program for data, decoding at most once per
// distinct artifact. Programs are immutable, so a cached hit is safe to run
// on any machine.
func (c *ProgramCache) Load(data []byte) (*Program, error) {
	key := farm.Fingerprint64(data)

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(elem)
		c.hits++
		prog := elem.Value.(*cacheEntry).prog
		c.mu.Unlock()
		return prog, nil
	}
	c.misses++
	c.mu.Unlock()

	prog, err := Decode(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = c.evictList.PushFront(&cacheEntry{key: key, prog: prog})
		if c.evictList.Len() > c.maxSize {
			c.evictOldest()
		}
	}
	return prog, nil
}

func (c *ProgramCache) evictOldest() {
	oldest := c.evictList.Back()
	if oldest == nil {
		return
	}
	c.evictList.Remove(oldest)
	delete(c.entries, oldest.Value.(*cacheEntry).key)
}

// Stats reports cache effectiveness.
func (c *ProgramCache) Stats() (hits, misses, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictList.Len()
}
