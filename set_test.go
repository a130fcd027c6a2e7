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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newIntSet(t testing.TB, keys ...int) *Set[int] {
	s, err := NewSet[int](len(keys), IntHasher[int]{})
	require.NoError(t, err)
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func TestSetBasic(t *testing.T) {
	s := newIntSet(t)
	require.True(t, s.Add(1))
	require.True(t, s.Add(2))
	require.False(t, s.Add(1))
	require.EqualValues(t, 2, s.Len())
	require.True(t, s.Has(1))
	require.False(t, s.Has(3))

	require.True(t, s.Remove(1))
	require.False(t, s.Remove(1))
	require.False(t, s.Has(1))
	require.Equal(t, []int{2}, s.Slice())

	_, err := NewSet[int](-1, IntHasher[int]{})
	require.ErrorIs(t, err, ErrTableTooBig)
}

func TestSetShrink(t *testing.T) {
	s := newIntSet(t)
	for i := 0; i < 1000; i++ {
		s.Add(i)
	}
	require.EqualValues(t, 1024, s.table.Capacity())

	// Removing during iteration does not shrink the table.
	s.Each(func(key int) bool {
		if key >= 10 {
			s.Remove(key)
		}
		return true
	})
	require.EqualValues(t, 10, s.Len())
	require.EqualValues(t, 1024, s.table.Capacity())

	require.True(t, s.Remove(0))
	require.EqualValues(t, 32, s.table.Capacity())
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, s.Slice())
}

func TestSetRemoveFunc(t *testing.T) {
	s := newIntSet(t)
	for i := 0; i < 1000; i++ {
		s.Add(i)
	}
	n := s.RemoveFunc(func(key int) bool {
		return key >= 10
	})
	require.Equal(t, 990, n)
	require.EqualValues(t, 32, s.table.Capacity())
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, s.Slice())

	require.Zero(t, s.RemoveFunc(func(int) bool { return false }))
}

func TestSetAlgebra(t *testing.T) {
	t.Run("union", func(t *testing.T) {
		s := newIntSet(t, 1, 2, 3)
		s.Union(newIntSet(t, 3, 4, 5))
		require.Equal(t, []int{1, 2, 3, 4, 5}, s.Slice())
	})

	t.Run("intersect", func(t *testing.T) {
		s := newIntSet(t, 1, 2, 3, 4)
		s.Intersect(newIntSet(t, 4, 2, 6))
		require.Equal(t, []int{2, 4}, s.Slice())
	})

	t.Run("subtract", func(t *testing.T) {
		// Both the small and the large right hand side paths.
		s := newIntSet(t, 1, 2, 3, 4)
		s.Subtract(newIntSet(t, 2))
		require.Equal(t, []int{1, 3, 4}, s.Slice())

		s = newIntSet(t, 1, 2, 3, 4)
		s.Subtract(newIntSet(t, 0, 1, 3, 5, 7))
		require.Equal(t, []int{2, 4}, s.Slice())
	})

	t.Run("subset", func(t *testing.T) {
		require.True(t, newIntSet(t).IsSubset(newIntSet(t, 1)))
		require.True(t, newIntSet(t, 1, 2).IsSubset(newIntSet(t, 2, 1, 3)))
		require.False(t, newIntSet(t, 1, 4).IsSubset(newIntSet(t, 2, 1, 3)))
		require.False(t, newIntSet(t, 1, 2, 3).IsSubset(newIntSet(t, 1, 2)))
	})

	t.Run("equal", func(t *testing.T) {
		require.True(t, newIntSet(t, 1, 2, 3).Equal(newIntSet(t, 3, 2, 1)))
		require.False(t, newIntSet(t, 1, 2, 3).Equal(newIntSet(t, 1, 2)))
		require.False(t, newIntSet(t, 1, 2, 3).Equal(newIntSet(t, 1, 2, 4)))
	})

	t.Run("clone", func(t *testing.T) {
		s := newIntSet(t, 1, 2, 3)
		c := s.Clone()
		c.Add(4)
		s.Remove(1)
		require.Equal(t, []int{2, 3}, s.Slice())
		require.Equal(t, []int{1, 2, 3, 4}, c.Slice())
		c.Close()
		s.Close()
	})
}
