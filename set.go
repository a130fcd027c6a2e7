// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package denseset

// Set is a set of keys backed by a Table. Unlike a bare Table, a Set returns
// memory after deletions: removing keys shrinks the table once it is mostly
// empty, unless the set is being iterated over.
//
// A Set is NOT goroutine-safe.
type Set[K any] struct {
	table *Table[K]
	// iterating is the number of Each calls in progress.
	iterating int
}

// NewSet constructs a new Set with room for at least initialCapacity keys.
func NewSet[K any](initialCapacity int, hasher Hasher[K], options ...Option[K]) (*Set[K], error) {
	t, err := New(initialCapacity, hasher, options...)
	if err != nil {
		return nil, err
	}
	return &Set[K]{table: t}, nil
}

// Close releases the memory of the set to its allocator.
func (s *Set[K]) Close() {
	s.table.Close()
}

// Len returns the number of keys in the set.
func (s *Set[K]) Len() int {
	return s.table.Len()
}

// Add adds key to the set, returning true if it was not already present.
func (s *Set[K]) Add(key K) bool {
	return !s.table.Insert(key)
}

// Has returns true if key is in the set.
func (s *Set[K]) Has(key K) bool {
	return s.table.Contains(key)
}

// Remove removes key from the set, returning true if it was present.
func (s *Set[K]) Remove(key K) bool {
	_, ok := s.table.Delete(key)
	if ok {
		s.compactAfterDelete()
	}
	return ok
}

// RemoveFunc removes every key for which del returns true and returns the
// number of keys removed.
func (s *Set[K]) RemoveFunc(del func(key K) bool) int {
	before := s.table.Len()
	s.each(func(key K) Action {
		if del(key) {
			return Delete
		}
		return Continue
	})
	removed := before - s.table.Len()
	if removed > 0 {
		s.compactAfterDelete()
	}
	return removed
}

// Each calls fn for each key in insertion order until fn returns false. fn
// may add and remove keys.
func (s *Set[K]) Each(fn func(key K) bool) {
	s.each(func(key K) Action {
		if !fn(key) {
			return Stop
		}
		return Continue
	})
}

func (s *Set[K]) each(fn func(key K) Action) {
	s.iterating++
	defer func() { s.iterating-- }()
	s.table.Foreach(fn)
}

// Slice returns the keys of the set in insertion order.
func (s *Set[K]) Slice() []K {
	keys := make([]K, s.table.Len())
	return keys[:s.table.Keys(keys)]
}

// Clone returns a copy of the set.
func (s *Set[K]) Clone() *Set[K] {
	return &Set[K]{table: s.table.Clone()}
}

// Union adds every key of o to s.
func (s *Set[K]) Union(o *Set[K]) {
	o.Each(func(key K) bool {
		s.table.Insert(key)
		return true
	})
}

// Intersect removes every key of s which is not in o.
func (s *Set[K]) Intersect(o *Set[K]) {
	s.RemoveFunc(func(key K) bool {
		return !o.Has(key)
	})
}

// Subtract removes every key of o from s.
func (s *Set[K]) Subtract(o *Set[K]) {
	if o.Len() < s.Len() {
		var removed bool
		o.Each(func(key K) bool {
			if _, ok := s.table.Delete(key); ok {
				removed = true
			}
			return true
		})
		if removed {
			s.compactAfterDelete()
		}
		return
	}
	s.RemoveFunc(o.Has)
}

// IsSubset returns true if every key of s is in o.
func (s *Set[K]) IsSubset(o *Set[K]) bool {
	if s.Len() > o.Len() {
		return false
	}
	subset := true
	s.Each(func(key K) bool {
		subset = o.Has(key)
		return subset
	})
	return subset
}

// Equal returns true if s and o contain the same keys.
func (s *Set[K]) Equal(o *Set[K]) bool {
	return s.Len() == o.Len() && s.IsSubset(o)
}

// compactAfterDelete shrinks the table if the keys fit into a smaller one.
// Shrinking is skipped during iteration.
func (s *Set[K]) compactAfterDelete() {
	if s.iterating == 0 {
		s.table.shrink()
	}
}
