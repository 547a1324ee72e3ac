// Package dedupe tracks idempotency keys for observation writes.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper maps idempotency keys to the id of the observation they created.
type Deduper interface {
	// Reserve atomically claims key. If the key is new it is reserved and
	// seen is false. If the key is known, seen is true and id is the committed
	// observation id, or 0 while the first request is still in flight.
	Reserve(ctx context.Context, key string) (id int64, seen bool)

	// Commit binds a reserved key to the stored observation id.
	Commit(ctx context.Context, key string, id int64)

	// Release drops a reservation so the key can be retried after a failed write.
	Release(ctx context.Context, key string)

	Size() int64
}

// node is an entry in the insertion-ordered list.
type node struct {
	key        string
	id         int64
	prev, next *node
}

func (n *node) reset() {
	n.key = ""
	n.id = 0
	n.prev = nil
	n.next = nil
}

// inMemoryDeduper keeps keys in a map plus a doubly linked list ordered by
// reservation time. In bounded mode the oldest key is evicted first.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node // newest
	tail     *node // oldest
	maxSize  int   // 0 or negative = unbounded
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

func (d *inMemoryDeduper) Reserve(_ context.Context, key string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[key]; exists {
		return n.id, true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.key = key
	d.pushFront(n)
	d.seen[key] = n
	d.size.Add(1)
	return 0, false
}

func (d *inMemoryDeduper) Commit(_ context.Context, key string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[key]; exists {
		n.id = id
	}
}

func (d *inMemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[key]; exists {
		d.remove(n)
	}
}

// Size returns the current number of tracked keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) pushFront(n *node) {
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.key)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if d.tail != nil {
		d.remove(d.tail)
	}
}
