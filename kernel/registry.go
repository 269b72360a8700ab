package kernel

import (
	"maps"
	"slices"
	"sync"
)

// A Registry hands out increasing integer ids for the values it keeps. Ids
// are never reused.
type Registry[T any] struct {
	sync.Mutex

	next  int
	items map[int]T
}

// NewRegistry creates a registry whose first id is first.
func NewRegistry[T any](first int) *Registry[T] {
	return &Registry[T]{
		next:  first,
		items: make(map[int]T),
	}
}

// Add stores v and returns its id.
func (r *Registry[T]) Add(v T) int {
	r.Lock()
	defer r.Unlock()

	id := r.next
	r.next++
	r.items[id] = v

	return id
}

// Get returns the value of an id.
func (r *Registry[T]) Get(id int) (T, bool) {
	r.Lock()
	defer r.Unlock()

	v, ok := r.items[id]

	return v, ok
}

// Remove drops an id and returns the value it had.
func (r *Registry[T]) Remove(id int) (T, bool) {
	r.Lock()
	defer r.Unlock()

	v, ok := r.items[id]
	delete(r.items, id)

	return v, ok
}

// Len returns the number of ids in use.
func (r *Registry[T]) Len() int {
	r.Lock()
	defer r.Unlock()

	return len(r.items)
}

// NextID returns the id the next Add will return.
func (r *Registry[T]) NextID() int {
	r.Lock()
	defer r.Unlock()

	return r.next
}

// Each calls fn for every value in increasing id order. fn runs without the
// registry locked, on the values present when Each was called.
func (r *Registry[T]) Each(fn func(id int, v T)) {
	r.Lock()
	ids := slices.Sorted(maps.Keys(r.items))
	values := make([]T, len(ids))
	for i, id := range ids {
		values[i] = r.items[id]
	}
	r.Unlock()

	for i, id := range ids {
		fn(id, values[i])
	}
}
