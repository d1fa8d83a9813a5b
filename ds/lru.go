package ds

import (
	"container/list"
	"sync"
)

// LRU is a size-weighted least recently used cache. Each item carries a
// caller supplied size; items are evicted from the cold end while the total
// size exceeds the capacity.
type LRU[K comparable, V any] struct {
	sync.Mutex
	capacity int
	size     int
	evicts   *list.List
	kv       map[K]*list.Element
	onEvict  func(key K, value V)
}

type lruItem[K comparable, V any] struct {
	Key   K
	Value V
	Size  int
}

// NewLRU creates an LRU. onEvict, if not nil, is called with the cache
// locked for every item pushed out by capacity.
func NewLRU[K comparable, V any](capacity int, onEvict func(key K, value V)) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		evicts:   list.New(),
		kv:       make(map[K]*list.Element),
		onEvict:  onEvict,
	}
}

func (l *LRU[K, V]) Set(key K, value V, size int) {
	l.Lock()
	defer l.Unlock()

	if elem, ok := l.kv[key]; ok {
		// replace
		item := elem.Value.(*lruItem[K, V])
		l.size += size - item.Size
		item.Value = value
		item.Size = size
		l.evicts.MoveToFront(elem)
	} else {
		elem := l.evicts.PushFront(&lruItem[K, V]{
			Key:   key,
			Value: value,
			Size:  size,
		})
		l.kv[key] = elem
		l.size += size
	}

	l.evict()
}

func (l *LRU[K, V]) evict() {
	for l.size > l.capacity {
		elem := l.evicts.Back()
		if elem == nil {
			return
		}
		item := elem.Value.(*lruItem[K, V])
		l.size -= item.Size
		l.evicts.Remove(elem)
		delete(l.kv, item.Key)
		if l.onEvict != nil {
			l.onEvict(item.Key, item.Value)
		}
	}
}

func (l *LRU[K, V]) Get(key K) (value V, ok bool) {
	l.Lock()
	defer l.Unlock()
	if elem, ok := l.kv[key]; ok {
		l.evicts.MoveToFront(elem)
		return elem.Value.(*lruItem[K, V]).Value, true
	}
	return value, false
}

// Delete removes key without calling onEvict.
func (l *LRU[K, V]) Delete(key K) bool {
	l.Lock()
	defer l.Unlock()
	elem, ok := l.kv[key]
	if !ok {
		return false
	}
	l.size -= elem.Value.(*lruItem[K, V]).Size
	l.evicts.Remove(elem)
	delete(l.kv, key)
	return true
}

func (l *LRU[K, V]) Len() int {
	l.Lock()
	defer l.Unlock()
	return len(l.kv)
}

func (l *LRU[K, V]) Size() int {
	l.Lock()
	defer l.Unlock()
	return l.size
}

func (l *LRU[K, V]) Capacity() int {
	return l.capacity
}
