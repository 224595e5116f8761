package session

import (
	"container/list"
	"sync"
	"time"
)

// EvictionPolicy picks the entry dropped when the cache is full.
type EvictionPolicy int

const (
	// InsertionOrder evicts the oldest inserted token; reads do not change
	// the order.
	InsertionOrder EvictionPolicy = iota
	// AccessOrder evicts the least recently read or written token.
	AccessOrder
)

func (p EvictionPolicy) String() string {
	switch p {
	case InsertionOrder:
		return "insertion-order"
	case AccessOrder:
		return "access-order"
	default:
		return "unknown"
	}
}

type cacheItem struct {
	token string
	data  Data
}

// Cache maps tokens to sessions and holds at most capacity entries.
type Cache struct {
	mu       sync.Mutex
	capacity int
	policy   EvictionPolicy
	order    *list.List // front is evicted first
	items    map[string]*list.Element
}

func NewCache(capacity int, policy EvictionPolicy) *Cache {
	if capacity <= 0 {
		capacity = MaxCacheSize
	}
	return &Cache{
		capacity: capacity,
		policy:   policy,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *Cache) Get(token string) (Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	element, found := c.items[token]
	if !found {
		return Data{}, false
	}
	if c.policy == AccessOrder {
		c.order.MoveToBack(element)
	}
	return element.Value.(*cacheItem).data, true
}

// Put stores data under token. A new token evicts one entry when the cache
// is full and reports the evicted token; an existing token is updated in
// place.
func (c *Cache) Put(token string, data Data) (evicted string, didEvict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, found := c.items[token]; found {
		element.Value.(*cacheItem).data = data
		if c.policy == AccessOrder {
			c.order.MoveToBack(element)
		}
		return "", false
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			evicted = c.order.Remove(oldest).(*cacheItem).token
			delete(c.items, evicted)
			didEvict = true
		}
	}
	c.items[token] = c.order.PushBack(&cacheItem{token: token, data: data})
	return evicted, didEvict
}

// Touch sets the last activity of a cached session without reordering
// insertion-order caches.
func (c *Cache) Touch(token string, at time.Time) (Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	element, found := c.items[token]
	if !found {
		return Data{}, false
	}
	item := element.Value.(*cacheItem)
	item.data.LastActivity = at
	if c.policy == AccessOrder {
		c.order.MoveToBack(element)
	}
	return item.data, true
}

func (c *Cache) Delete(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	element, found := c.items[token]
	if !found {
		return false
	}
	c.order.Remove(element)
	delete(c.items, token)
	return true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys lists cached tokens, next to be evicted first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*cacheItem).token)
	}
	return keys
}

// Sweep drops every entry keep rejects and returns how many were dropped.
func (c *Cache) Sweep(keep func(Data) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		item := element.Value.(*cacheItem)
		if !keep(item.data) {
			c.order.Remove(element)
			delete(c.items, item.token)
			removed++
		}
		element = next
	}
	return removed
}
