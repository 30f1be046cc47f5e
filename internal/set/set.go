package set

// Set is a collection of unique comparable elements.
type Set[T comparable] struct {
	items map[T]struct{}
}

// New creates an empty Set.
func New[T comparable]() *Set[T] {
	return &Set[T]{items: make(map[T]struct{})}
}

// FromSlice creates a Set holding every distinct element of items.
func FromSlice[T comparable](items []T) *Set[T] {
	s := New[T]()
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts item and reports whether it was newly added.
func (s *Set[T]) Add(item T) bool {
	if _, ok := s.items[item]; ok {
		return false
	}
	s.items[item] = struct{}{}
	return true
}

// Remove deletes item if present.
func (s *Set[T]) Remove(item T) {
	delete(s.items, item)
}

// Contains reports whether item is in the Set.
func (s *Set[T]) Contains(item T) bool {
	_, ok := s.items[item]
	return ok
}

// Size returns the number of items in the Set.
func (s *Set[T]) Size() int {
	return len(s.items)
}

// ToSlice returns the items in unspecified order.
func (s *Set[T]) ToSlice() []T {
	out := make([]T, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	return out
}
