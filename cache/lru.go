package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultLRUCapacity = 512

// LRUMapCache is a capacity-bounded cache that evicts the least recently
// used entry and drops entries once their expiration has passed.
type LRUMapCache struct {
	logger   types.Logger
	capacity int
	entries  *CacheMap
	access   *list.List
	elements map[string]*list.Element
	clock    func() time.Time
	stats    types.CacheStats
	state    atomic.Value
	mu       sync.Mutex
}

func NewLRUMapCache(capacity int, logger types.Logger) *LRUMapCache {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}

	cache := &LRUMapCache{
		logger:   logger,
		capacity: capacity,
		entries:  NewCacheMap(),
		access:   list.New(),
		elements: make(map[string]*list.Element, capacity),
		clock:    time.Now,
	}

	cache.state.Store(StateStopped)

	return cache
}

func (c *LRUMapCache) Get(key string) (interface{}, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.lookupUnsafe(key, c.clock())
	if !exists {
		c.stats.Misses++
		return nil, false, nil
	}

	c.stats.Hits++
	return entry.Value, true, nil
}

func (c *LRUMapCache) Put(key string, value interface{}, expires time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeUnsafe(key, value, expires)
	return nil
}

func (c *LRUMapCache) PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.lookupUnsafe(key, c.clock()); exists {
		return entry.Value, false, nil
	}

	c.storeUnsafe(key, value, expires)
	return value, true, nil
}

func (c *LRUMapCache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeUnsafe(key)
	return nil
}

// Sweep drops every entry whose expiration has passed and returns how many
// entries were removed.
func (c *LRUMapCache) Sweep() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := c.entries.PurgeExpired(c.clock())
	for _, entry := range purged {
		if element, exists := c.elements[entry.Key]; exists {
			c.access.Remove(element)
			delete(c.elements, entry.Key)
		}
	}

	c.stats.Expirations += uint64(len(purged))

	if len(purged) > 0 {
		c.logger.Debug("Expired cache entries swept", zap.Int("count", len(purged)))
	}

	return len(purged), nil
}

func (c *LRUMapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *LRUMapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Clear()
	c.access.Init()
	c.elements = make(map[string]*list.Element, c.capacity)
}

func (c *LRUMapCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.entries.Len()
	stats.Capacity = c.capacity
	return stats
}

func (c *LRUMapCache) Capacity() int {
	return c.capacity
}

func (c *LRUMapCache) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	c.setState(StateRunning)

	c.logger.Info("LRU cache started", zap.Int("capacity", c.capacity))
	return nil
}

func (c *LRUMapCache) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer c.setState(StateStopped)

	c.Clear()

	c.logger.Info("LRU cache stopped")
	return nil
}

func (c *LRUMapCache) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *LRUMapCache) getState() State {
	return c.state.Load().(State)
}

func (c *LRUMapCache) setState(newState State) {
	c.state.Store(newState)
}

func (c *LRUMapCache) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

// lookupUnsafe returns a live entry and marks it most recently used. A stale
// entry is removed before reporting the miss.
func (c *LRUMapCache) lookupUnsafe(key string, now time.Time) (*CacheEntry, bool) {
	entry, exists := c.entries.Get(key)
	if !exists {
		return nil, false
	}

	if entry.IsExpired(now) {
		c.removeUnsafe(key)
		c.stats.Expirations++
		return nil, false
	}

	if element, ok := c.elements[key]; ok {
		c.access.MoveToFront(element)
	}

	return entry, true
}

func (c *LRUMapCache) storeUnsafe(key string, value interface{}, expires time.Time) {
	if element, exists := c.elements[key]; exists {
		c.access.MoveToFront(element)
	} else {
		for c.entries.Len() >= c.capacity && c.evictOldestUnsafe() {
		}
		c.elements[key] = c.access.PushFront(key)
	}

	c.entries.Put(key, &CacheEntry{Value: value, Expires: expires})
}

func (c *LRUMapCache) evictOldestUnsafe() bool {
	oldest := c.access.Back()
	if oldest == nil {
		return false
	}

	key := oldest.Value.(string)
	c.removeUnsafe(key)
	c.stats.Evictions++

	c.logger.Debug("Cache entry evicted", zap.String("key", key))
	return true
}

func (c *LRUMapCache) removeUnsafe(key string) {
	c.entries.Remove(key)

	if element, exists := c.elements[key]; exists {
		c.access.Remove(element)
		delete(c.elements, key)
	}
}
