package ds

import (
	art "github.com/plar/go-adaptive-radix-tree"
)

// OrderedIndex keeps byte keys in lexicographic order on top of an adaptive
// radix tree. It is not safe for concurrent use.
type OrderedIndex[V any] struct {
	tree art.Tree
}

func NewOrderedIndex[V any]() *OrderedIndex[V] {
	return &OrderedIndex[V]{
		tree: art.New(),
	}
}

// SnapshotOrdered copies the entries of cm accepted by keep into a new
// index. The copy is taken bucket by bucket, so it is as consistent as any
// ForEachRO scan.
func SnapshotOrdered[V any](cm *ConcurrentMap[string, V], keep func(key string, value V) bool) *OrderedIndex[V] {
	idx := NewOrderedIndex[V]()
	cm.ForEachRO(func(key string, value V) bool {
		if keep != nil && !keep(key, value) {
			return false
		}
		idx.Put([]byte(key), value)
		return true
	})
	return idx
}

func (t *OrderedIndex[V]) Get(key []byte) (V, bool) {
	value, found := t.tree.Search(key)
	if !found {
		var zero V
		return zero, false
	}
	return value.(V), true
}

// Put stores value under key and reports whether an old value was replaced.
func (t *OrderedIndex[V]) Put(key []byte, value V) bool {
	_, updated := t.tree.Insert(key, value)
	return updated
}

func (t *OrderedIndex[V]) Delete(key []byte) (V, bool) {
	value, deleted := t.tree.Delete(key)
	if !deleted {
		var zero V
		return zero, false
	}
	return value.(V), true
}

func (t *OrderedIndex[V]) Size() int {
	return t.tree.Size()
}

// PrefixScan calls fn on keys starting with prefix in ascending order until
// fn returns false or count keys were visited. No limitation if count is
// smaller than 0.
func (t *OrderedIndex[V]) PrefixScan(prefix []byte, count int, fn func(key []byte, value V) bool) {
	cb := func(node art.Node) bool {
		if node.Kind() != art.Leaf {
			return true
		}
		if count == 0 {
			return false
		}
		if count > 0 {
			count--
		}
		return fn(node.Key(), node.Value().(V))
	}

	if len(prefix) == 0 {
		t.tree.ForEach(cb)
	} else {
		t.tree.ForEachPrefix(prefix, cb)
	}
}

// Keys returns up to count keys starting with prefix, in ascending order.
func (t *OrderedIndex[V]) Keys(prefix []byte, count int) (keys [][]byte) {
	t.PrefixScan(prefix, count, func(key []byte, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return
}
