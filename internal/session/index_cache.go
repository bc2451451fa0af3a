package session

import (
	"sync"

	"github.com/tbourn/go-movie-chat/internal/search"
)

// IndexCache holds one retrieval context store per room. It is bounded; the
// least recently used room is evicted first.
type IndexCache struct {
	mu    sync.Mutex
	max   int
	opts  []search.Option
	items map[string]*search.ContextStore
	order []string
}

// NewIndexCache returns a cache for at most max rooms (0 means 256).
func NewIndexCache(max int, opts ...search.Option) *IndexCache {
	if max <= 0 {
		max = 256
	}
	return &IndexCache{max: max, opts: opts, items: map[string]*search.ContextStore{}}
}

// Get returns the room's store, creating it on first use.
func (c *IndexCache) Get(roomID string) *search.ContextStore {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.items[roomID]; ok {
		c.touch(roomID)
		return s
	}
	s := search.NewContextStore(c.opts...)
	c.items[roomID] = s
	c.order = append(c.order, roomID)
	for len(c.order) > c.max {
		old := c.order[0]
		c.order = c.order[1:]
		delete(c.items, old)
	}
	return s
}

// Drop forgets the room's store.
func (c *IndexCache) Drop(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, roomID)
	for i, id := range c.order {
		if id == roomID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *IndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *IndexCache) touch(roomID string) {
	for i, id := range c.order {
		if id == roomID {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), roomID)
			return
		}
	}
}
