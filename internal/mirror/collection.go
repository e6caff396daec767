// Package mirror holds the process-wide, locally mirrored contents of each
// entity collection. Each collection has at most one writer at a time; many
// readers may take copies concurrently.
package mirror

import (
	"sync"
)

// Collection is the mirrored, ordered contents of one feed.
type Collection[T any] struct {
	mu        sync.RWMutex
	items     []T
	version   uint64
	owner     uint64
	nextToken uint64
	watchers  map[uint64]chan struct{}
	nextWatch uint64
}

func NewCollection[T any]() *Collection[T] {
	return &Collection[T]{watchers: make(map[uint64]chan struct{})}
}

// Items returns a copy of the current contents.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

// Len is the number of mirrored entities.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Version increases with every accepted replacement.
func (c *Collection[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Find returns the first item satisfying pred.
func (c *Collection[T]) Find(pred func(T) bool) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if pred(it) {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Claim makes the returned writer the only one allowed to replace the
// contents, revoking any previous writer atomically.
func (c *Collection[T]) Claim() *Writer[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextToken++
	c.owner = c.nextToken
	return &Writer[T]{c: c, token: c.owner}
}

// Store replaces the contents on behalf of a one-shot fetch. It is refused
// while a live writer holds the collection, whose data is at least as fresh.
func (c *Collection[T]) Store(items []T) bool {
	c.mu.Lock()
	if c.owner != 0 {
		c.mu.Unlock()
		return false
	}
	c.setLocked(items)
	c.mu.Unlock()
	return true
}

// Reset revokes the writer and empties the collection.
func (c *Collection[T]) Reset() {
	c.mu.Lock()
	c.owner = 0
	c.setLocked(nil)
	c.mu.Unlock()
}

// Changes returns a channel signalled after each replacement. Signals
// coalesce. The returned func stops the notifications.
func (c *Collection[T]) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.nextWatch++
	id := c.nextWatch
	c.watchers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

// setLocked must be called with mu held for writing.
func (c *Collection[T]) setLocked(items []T) {
	c.items = append([]T(nil), items...)
	c.version++
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Writer replaces a collection's contents until it is revoked.
type Writer[T any] struct {
	c     *Collection[T]
	token uint64
}

// Replace swaps in items. It reports false, changing nothing, once a newer
// writer has claimed the collection or the writer was released.
func (w *Writer[T]) Replace(items []T) bool {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.owner != w.token {
		return false
	}
	w.c.setLocked(items)
	return true
}

// Active reports whether the writer still holds the collection.
func (w *Writer[T]) Active() bool {
	w.c.mu.RLock()
	defer w.c.mu.RUnlock()
	return w.c.owner == w.token
}

// Release gives the collection up. The contents stay in place.
func (w *Writer[T]) Release() {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.owner == w.token {
		w.c.owner = 0
	}
}
