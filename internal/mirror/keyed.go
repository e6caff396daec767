package mirror

import (
	"sort"
	"sync"
)

// Keyed partitions a family into independent collections, e.g. one per post
// feed or per chat thread.
type Keyed[T any] struct {
	mu   sync.Mutex
	sets map[string]*Collection[T]
}

func NewKeyed[T any]() *Keyed[T] {
	return &Keyed[T]{sets: make(map[string]*Collection[T])}
}

// Get returns the collection for key, creating it on first use.
func (k *Keyed[T]) Get(key string) *Collection[T] {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.sets[key]
	if !ok {
		c = NewCollection[T]()
		k.sets[key] = c
	}
	return c
}

// Keys lists the partitions in lexical order.
func (k *Keyed[T]) Keys() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.sets))
	for key := range k.sets {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Drop resets and forgets the partition.
func (k *Keyed[T]) Drop(key string) {
	k.mu.Lock()
	c, ok := k.sets[key]
	delete(k.sets, key)
	k.mu.Unlock()
	if ok {
		c.Reset()
	}
}

// Reset resets every partition.
func (k *Keyed[T]) Reset() {
	k.mu.Lock()
	sets := make([]*Collection[T], 0, len(k.sets))
	for _, c := range k.sets {
		sets = append(sets, c)
	}
	k.sets = make(map[string]*Collection[T])
	k.mu.Unlock()
	for _, c := range sets {
		c.Reset()
	}
}
