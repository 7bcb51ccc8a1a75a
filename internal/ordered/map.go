// Package ordered provides a generic, address-sorted map used by the swarm
// containers that must iterate deterministically (atom pool, live peers).
//
// It wraps tidwall/btree directly rather than pulling in a multi-index
// table/secondary-index layer, since every container in this module needs
// only a single key-ordered map.
package ordered

import (
	"iter"

	"github.com/tidwall/btree"
)

type pair[K, V any] struct {
	key K
	val V
}

// Map is a key-ordered map. Iteration order is the order induced by cmp.
type Map[K, V any] struct {
	cmp   func(a, b K) int
	inner *btree.BTreeG[pair[K, V]]
}

// New constructs a Map ordered by cmp.
func New[K, V any](cmp func(a, b K) int) *Map[K, V] {
	less := func(a, b pair[K, V]) bool { return cmp(a.key, b.key) < 0 }
	return &Map[K, V]{
		cmp: cmp,
		inner: btree.NewBTreeGOptions(less, btree.Options{
			Degree:  32,
			NoLocks: true,
		}),
	}
}

func (m *Map[K, V]) Len() int { return m.inner.Len() }

func (m *Map[K, V]) Get(k K) (v V, ok bool) {
	p, ok := m.inner.Get(pair[K, V]{key: k})
	if !ok {
		return v, false
	}
	return p.val, true
}

func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.inner.Get(pair[K, V]{key: k})
	return ok
}

// Set inserts or overwrites the value for k, returning the previous value if any.
func (m *Map[K, V]) Set(k K, v V) (old V, overwrote bool) {
	p, ok := m.inner.Set(pair[K, V]{key: k, val: v})
	if !ok {
		return old, false
	}
	return p.val, true
}

// Update applies f to the current value for k (the zero value if absent) and stores the result.
func (m *Map[K, V]) Update(k K, f func(V) V) {
	cur, _ := m.Get(k)
	m.Set(k, f(cur))
}

func (m *Map[K, V]) Delete(k K) (v V, removed bool) {
	p, ok := m.inner.Delete(pair[K, V]{key: k})
	if !ok {
		return v, false
	}
	return p.val, true
}

// Iter walks the map in key order.
func (m *Map[K, V]) Iter(yield func(K, V) bool) {
	m.inner.Scan(func(p pair[K, V]) bool {
		return yield(p.key, p.val)
	})
}

// Keys returns an iterator over the map's keys in order.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.inner.Scan(func(p pair[K, V]) bool {
			return yield(p.key)
		})
	}
}

// Values returns a snapshot slice of values in key order.
func (m *Map[K, V]) Values() []V {
	out := make([]V, 0, m.Len())
	m.inner.Scan(func(p pair[K, V]) bool {
		out = append(out, p.val)
		return true
	})
	return out
}
