package session

import (
	"sync"
	"time"
)

type tableItem[T any] struct {
	value    T
	expireAt time.Time
}

// Table holds values that must outlive the call that created them, such as
// retained fetch responses awaiting deferred method calls. Entries expire
// after ttl; onEvict runs for every entry that leaves the table.
type Table[T any] struct {
	mu      sync.Mutex
	items   map[string]tableItem[T]
	ttl     time.Duration
	onEvict func(key string, v T)
	now     func() time.Time
}

// NewTable creates a table. A zero ttl keeps entries until deleted.
func NewTable[T any](ttl time.Duration, onEvict func(key string, v T)) *Table[T] {
	return &Table[T]{
		items:   make(map[string]tableItem[T]),
		ttl:     ttl,
		onEvict: onEvict,
		now:     time.Now,
	}
}

// Put stores v under key, replacing and evicting any previous value.
func (t *Table[T]) Put(key string, v T) {
	item := tableItem[T]{value: v}
	if t.ttl > 0 {
		item.expireAt = t.now().Add(t.ttl)
	}

	t.mu.Lock()
	old, replaced := t.items[key]
	t.items[key] = item
	expired := t.sweepLocked()
	t.mu.Unlock()

	if replaced {
		t.evict(key, old.value)
	}
	for k, it := range expired {
		t.evict(k, it.value)
	}
}

// Get returns the live value under key.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.Lock()
	item, ok := t.items[key]
	if ok && t.expired(item) {
		delete(t.items, key)
		t.mu.Unlock()
		t.evict(key, item.value)
		var zero T
		return zero, false
	}
	t.mu.Unlock()
	return item.value, ok
}

// Delete removes key and runs the eviction hook. Unknown keys are a no-op.
func (t *Table[T]) Delete(key string) bool {
	t.mu.Lock()
	item, ok := t.items[key]
	delete(t.items, key)
	t.mu.Unlock()

	if ok {
		t.evict(key, item.value)
	}
	return ok
}

// Len returns the number of stored entries, expired or not.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Sweep evicts expired entries and returns how many were removed.
func (t *Table[T]) Sweep() int {
	t.mu.Lock()
	expired := t.sweepLocked()
	t.mu.Unlock()

	for k, it := range expired {
		t.evict(k, it.value)
	}
	return len(expired)
}

// Clear evicts every entry.
func (t *Table[T]) Clear() {
	t.mu.Lock()
	items := t.items
	t.items = make(map[string]tableItem[T])
	t.mu.Unlock()

	for k, it := range items {
		t.evict(k, it.value)
	}
}

func (t *Table[T]) sweepLocked() map[string]tableItem[T] {
	if t.ttl <= 0 {
		return nil
	}
	var expired map[string]tableItem[T]
	for k, it := range t.items {
		if t.expired(it) {
			if expired == nil {
				expired = make(map[string]tableItem[T])
			}
			expired[k] = it
			delete(t.items, k)
		}
	}
	return expired
}

func (t *Table[T]) expired(it tableItem[T]) bool {
	return !it.expireAt.IsZero() && !t.now().Before(it.expireAt)
}

func (t *Table[T]) evict(key string, v T) {
	if t.onEvict != nil {
		t.onEvict(key, v)
	}
}
