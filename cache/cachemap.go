package cache

import (
	"container/heap"
	"time"
)

// CacheEntry is a value stored under key. A zero Expires means the entry
// never expires and is bounded only by capacity.
type CacheEntry struct {
	Key     string
	Value   interface{}
	Expires time.Time

	index int
}

func (e *CacheEntry) HasExpiration() bool {
	return !e.Expires.IsZero()
}

// IsExpired reports whether the entry is past its expiration at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return e.HasExpiration() && !now.Before(e.Expires)
}

// CacheMap maps keys to entries and keeps entries with an expiration in a
// min-heap ordered by Expires. It is not safe for concurrent use; the owner
// locks both structures together.
type CacheMap struct {
	entries map[string]*CacheEntry
	queue   expirationQueue
}

func NewCacheMap() *CacheMap {
	return &CacheMap{
		entries: make(map[string]*CacheEntry),
	}
}

func (m *CacheMap) Put(key string, entry *CacheEntry) {
	if old, exists := m.entries[key]; exists {
		m.dequeue(old)
	}

	entry.Key = key
	entry.index = -1
	m.entries[key] = entry

	if entry.HasExpiration() {
		heap.Push(&m.queue, entry)
	}
}

func (m *CacheMap) Get(key string) (*CacheEntry, bool) {
	entry, exists := m.entries[key]
	return entry, exists
}

func (m *CacheMap) Remove(key string) (*CacheEntry, bool) {
	entry, exists := m.entries[key]
	if !exists {
		return nil, false
	}

	delete(m.entries, key)
	m.dequeue(entry)

	return entry, true
}

func (m *CacheMap) Clear() {
	m.entries = make(map[string]*CacheEntry)
	m.queue = nil
}

func (m *CacheMap) PeekNextExpiring() (*CacheEntry, bool) {
	if len(m.queue) == 0 {
		return nil, false
	}
	return m.queue[0], true
}

// PurgeExpired removes every entry whose expiration is at or before now and
// returns them in expiration order.
func (m *CacheMap) PurgeExpired(now time.Time) []*CacheEntry {
	var purged []*CacheEntry

	for len(m.queue) > 0 && m.queue[0].IsExpired(now) {
		entry := heap.Pop(&m.queue).(*CacheEntry)
		delete(m.entries, entry.Key)
		purged = append(purged, entry)
	}

	return purged
}

func (m *CacheMap) Len() int {
	return len(m.entries)
}

func (m *CacheMap) QueueLen() int {
	return len(m.queue)
}

func (m *CacheMap) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	return keys
}

func (m *CacheMap) dequeue(entry *CacheEntry) {
	if entry.index >= 0 && entry.index < len(m.queue) && m.queue[entry.index] == entry {
		heap.Remove(&m.queue, entry.index)
	}
	entry.index = -1
}

type expirationQueue []*CacheEntry

func (q expirationQueue) Len() int { return len(q) }

func (q expirationQueue) Less(i, j int) bool {
	return q[i].Expires.Before(q[j].Expires)
}

func (q expirationQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expirationQueue) Push(x interface{}) {
	entry := x.(*CacheEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *expirationQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}
