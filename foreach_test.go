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
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestForeachSkipsDeleted(t *testing.T) {
	for _, count := range []int{10, 100} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			tbl := newIntTable(t, 0)
			var expected []int
			for i := 0; i < count; i++ {
				tbl.Insert(i)
				if i%3 != 0 {
					expected = append(expected, i)
				}
			}
			for i := 0; i < count; i += 3 {
				tbl.Delete(i)
			}

			var got []int
			tbl.Foreach(func(key int) Action {
				got = append(got, key)
				return Continue
			})
			if diff := cmp.Diff(expected, got); diff != "" {
				t.Fatalf("Foreach mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestForeachActions(t *testing.T) {
	tbl := newIntTable(t, 0)
	for i := 0; i < 10; i++ {
		tbl.Insert(i)
	}

	t.Run("stop", func(t *testing.T) {
		var got []int
		tbl.Foreach(func(key int) Action {
			got = append(got, key)
			if key == 4 {
				return Stop
			}
			return Continue
		})
		require.Equal(t, []int{0, 1, 2, 3, 4}, got)
	})

	t.Run("check", func(t *testing.T) {
		// Check ends an unchecked iteration.
		var got []int
		tbl.Foreach(func(key int) Action {
			got = append(got, key)
			return Check
		})
		require.Equal(t, []int{0}, got)

		// And continues a checked one.
		got = got[:0]
		err := tbl.ForeachChecked(func(key int, vanished bool) Action {
			require.False(t, vanished)
			got = append(got, key)
			return Check
		})
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	})

	t.Run("all", func(t *testing.T) {
		var got []int
		for key := range tbl.All {
			if key == 3 {
				break
			}
			got = append(got, key)
		}
		require.Equal(t, []int{0, 1, 2}, got)
	})
}

func TestForeachDelete(t *testing.T) {
	for _, count := range []int{10, 100} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			tbl := newIntTable(t, 0)
			for i := 0; i < count; i++ {
				tbl.Insert(i)
			}
			capacity := tbl.Capacity()

			var visited int
			tbl.Foreach(func(key int) Action {
				visited++
				if key%2 == 0 {
					return Delete
				}
				return Continue
			})
			require.Equal(t, count, visited)
			require.EqualValues(t, count/2, tbl.Len())
			require.EqualValues(t, capacity, tbl.Capacity())
			for i := 0; i < count; i++ {
				require.Equal(t, i%2 == 1, tbl.Contains(i), "key %d", i)
			}
		})
	}
}

func TestForeachDeleteReinserted(t *testing.T) {
	tbl := newIntTable(t, 0)
	for i := 0; i < 50; i++ {
		tbl.Insert(i)
	}

	// The visitor deletes and reinserts the visited key, so the Delete action
	// must remove the new entry.
	var visited []int
	tbl.Foreach(func(key int) Action {
		visited = append(visited, key)
		if key == 3 {
			tbl.Delete(3)
			tbl.Insert(3)
			return Delete
		}
		return Continue
	})
	require.Len(t, visited, 50)
	require.False(t, tbl.Contains(3))
	require.EqualValues(t, 49, tbl.Len())
}

func TestForeachRebuild(t *testing.T) {
	tbl := newIntTable(t, 0)
	for i := 0; i < 20; i++ {
		tbl.Insert(i)
	}

	rebuilds := tbl.Rebuilds()
	seen := make(map[int]int)
	tbl.Foreach(func(key int) Action {
		seen[key]++
		if key == 10 {
			for i := 1000; i < 2000; i++ {
				tbl.Insert(i)
			}
		}
		return Continue
	})
	require.Greater(t, tbl.Rebuilds(), rebuilds)

	// Every key, including those inserted during the iteration, is visited
	// exactly once.
	require.Len(t, seen, 1020)
	for key, n := range seen {
		require.Equal(t, 1, n, "key %d", key)
	}
}

func TestForeachVanished(t *testing.T) {
	setup := func(t *testing.T) *Table[int] {
		tbl := newIntTable(t, 0)
		for i := 0; i < 10; i++ {
			tbl.Insert(i)
		}
		return tbl
	}
	// removeAndRebuild deletes keys and compacts the table. When the visited
	// key is among them its position is lost.
	removeAndRebuild := func(tbl *Table[int], keys ...int) {
		rebuilds := tbl.Rebuilds()
		for _, key := range keys {
			tbl.Delete(key)
		}
		tbl.Compact()
		if tbl.Rebuilds() == rebuilds {
			panic("expected a rebuild")
		}
	}

	t.Run("checked", func(t *testing.T) {
		tbl := setup(t)
		var got []int
		var vanished int
		err := tbl.ForeachChecked(func(key int, gone bool) Action {
			if gone {
				vanished++
				require.Zero(t, key)
				return Continue
			}
			got = append(got, key)
			if key == 5 {
				removeAndRebuild(tbl, key)
			}
			return Continue
		})
		require.ErrorIs(t, err, ErrEntryVanished)
		require.Equal(t, 1, vanished)
		require.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
	})

	t.Run("unchecked", func(t *testing.T) {
		// The iteration resumes at the key following the vanished one.
		tbl := setup(t)
		var got []int
		tbl.Foreach(func(key int) Action {
			got = append(got, key)
			if key == 5 {
				removeAndRebuild(tbl, key)
			}
			return Continue
		})
		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
		require.EqualValues(t, 9, tbl.Len())
	})

	t.Run("unchecked-stop", func(t *testing.T) {
		tbl := setup(t)
		var got []int
		tbl.Foreach(func(key int) Action {
			got = append(got, key)
			if key == 5 {
				removeAndRebuild(tbl, key)
				return Stop
			}
			return Continue
		})
		require.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
	})

	t.Run("unchecked-next-removed", func(t *testing.T) {
		// Without the following key there is nowhere to resume.
		tbl := setup(t)
		var got []int
		tbl.Foreach(func(key int) Action {
			got = append(got, key)
			if key == 5 {
				removeAndRebuild(tbl, 5, 6)
			}
			return Continue
		})
		require.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
		require.EqualValues(t, 8, tbl.Len())
	})

	t.Run("unchecked-large", func(t *testing.T) {
		// Deleting the visited key and growing the table from the visitor.
		tbl := newIntTable(t, 0)
		for i := 0; i < 100; i++ {
			tbl.Insert(i)
		}
		seen := make(map[int]int)
		tbl.Foreach(func(key int) Action {
			seen[key]++
			if key == 50 {
				tbl.Delete(50)
				for i := 1000; i < 1200; i++ {
					tbl.Insert(i)
				}
			}
			return Continue
		})
		require.Len(t, seen, 300)
		for key, n := range seen {
			require.Equal(t, 1, n, "key %d", key)
		}
	})

	t.Run("survives", func(t *testing.T) {
		// A rebuild which keeps the visited key lets the iteration resume.
		tbl := setup(t)
		var got []int
		err := tbl.ForeachChecked(func(key int, gone bool) Action {
			require.False(t, gone)
			got = append(got, key)
			if key == 5 {
				removeAndRebuild(tbl, 2)
			}
			return Continue
		})
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	})
}
